package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/jobvault/internal/api/dto"
	"github.com/cuongbtq/jobvault/internal/domain"
	"github.com/cuongbtq/jobvault/internal/jobs"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   *jobs.Service
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// CreateJob handles POST /api/v1/jobs
// Enqueues a job for the named actor on behalf of the caller
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := bindJSON(c, &req); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	id, err := h.jobs.Enqueue(c.Request.Context(), principal(c), jobs.EnqueueRequest{
		Actor:     req.Actor,
		QueueName: req.QueueName,
		Args:      req.Args,
		Kwargs:    req.Kwargs,
		Options:   req.Options,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.CreateJobResponse{JobID: id.String()})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := parseJobID(c.Param("job_id"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	view, err := h.jobs.Get(c.Request.Context(), principal(c), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(*view))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		RespondError(c, h.logger, fmt.Errorf("%w: invalid query parameters: %v", domain.ErrInvalidInput, err))
		return
	}

	query := jobs.ListQuery{
		State:    domain.JobState(req.State),
		PageSize: req.PageSize,
		Cursor:   req.Cursor,
	}
	if req.JobID != "" {
		id, err := parseJobID(req.JobID)
		if err != nil {
			RespondError(c, h.logger, err)
			return
		}
		query.JobID = &id
	}

	page, err := h.jobs.List(c.Request.Context(), principal(c), query)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	jobResponse := make([]dto.JobDTO, len(page.Jobs))
	for i, job := range page.Jobs {
		jobResponse[i] = toJobDTO(job)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: page.NextCursor,
	})
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: job_id must be a valid UUID", domain.ErrInvalidInput)
	}
	return id, nil
}

func toJobDTO(v domain.JobView) dto.JobDTO {
	return dto.JobDTO{
		JobID:  v.JobID.String(),
		State:  string(v.State),
		Result: v.Result,
	}
}
