package dto

import "encoding/json"

type CreateJobRequest struct {
	Actor     string         `json:"actor"`
	QueueName string         `json:"queue_name"`
	Args      []any          `json:"args"`
	Kwargs    map[string]any `json:"kwargs"`
	Options   map[string]any `json:"options"`
}

type CreateJobResponse struct {
	JobID string `json:"job_id"`
}

type ListJobsRequest struct {
	JobID    string `form:"job_id"`
	State    string `form:"state"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID  string          `json:"job_id"`
	State  string          `json:"state"`
	Result json.RawMessage `json:"result"`
}
