package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobvault/internal/api/dto"
	"github.com/cuongbtq/jobvault/internal/profile"
)

// ProfileHandler serves the caller's own profile
type ProfileHandler struct {
	logger   *slog.Logger
	profiles *profile.Service
}

// NewProfileHandler creates a new ProfileHandler instance
func NewProfileHandler(deps *Dependencies) *ProfileHandler {
	return &ProfileHandler{
		logger:   deps.Logger,
		profiles: deps.Profiles,
	}
}

// GetProfile handles GET /api/v1/profile
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	p, err := h.profiles.Get(c.Request.Context(), principal(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ProfileResponse{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		CreatedAt: p.CreatedAt,
	})
}

// UpdateProfile handles PATCH /api/v1/profile
// Only first_name and last_name are writable; null clears a name.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := bindJSON(c, &body); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	upd, err := profile.ParsePatch(body)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	if err := h.profiles.Update(c.Request.Context(), principal(c), upd); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}
