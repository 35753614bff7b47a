package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobvault/internal/auth"
	"github.com/cuongbtq/jobvault/internal/jobs"
	"github.com/cuongbtq/jobvault/internal/policy"
	"github.com/cuongbtq/jobvault/internal/profile"
)

const principalKey = "jobvault.principal"

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	ServiceName  string
	Auth         *auth.Service
	Profiles     *profile.Service
	Jobs         *jobs.Service
	HealthChecks map[string]HealthCheck
}

// SetPrincipal stores the caller resolved by the auth middleware
func SetPrincipal(c *gin.Context, p policy.Principal) {
	c.Set(principalKey, p)
}

// principal returns the caller of the request, anonymous when no token was verified
func principal(c *gin.Context) policy.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(policy.Principal); ok {
			return p
		}
	}
	return policy.Anonymous()
}
