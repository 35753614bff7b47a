package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/jobvault/internal/api/handler"
)

// Options tunes the router outside of the handler dependencies
type Options struct {
	// AuthRPS and AuthBurst throttle signup and login per client IP
	AuthRPS   float64
	AuthBurst int
	// MetricsEnabled exposes /metrics
	MetricsEnabled bool
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	r.GET("/health", handler.NewHealthHandler(deps).Health)
	if opts.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authHandler := handler.NewAuthHandler(deps)
	profileHandler := handler.NewProfileHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	requireToken := AuthMiddleware(deps.Auth, deps.Logger)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		auth := v1.Group("/auth", RateLimitMiddleware(NewIPLimiter(opts.AuthRPS, opts.AuthBurst)))
		{
			// POST /api/v1/auth/signup - Create an identity
			auth.POST("/signup", authHandler.Signup)

			// POST /api/v1/auth/login - Exchange credentials for a token
			auth.POST("/login", authHandler.Login)
		}

		profile := v1.Group("/profile", requireToken)
		{
			profile.GET("", profileHandler.GetProfile)
			profile.PATCH("", profileHandler.UpdateProfile)
		}

		jobs := v1.Group("/jobs", requireToken)
		{
			// POST /api/v1/jobs - Enqueue a job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List the caller's jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get one of the caller's jobs
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
