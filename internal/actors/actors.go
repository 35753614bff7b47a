// Package actors holds the job functions this deployment can run.
package actors

import (
	"context"

	"github.com/cuongbtq/jobvault/internal/broker"
)

// JobQueue is the queue the job actor listens on
const JobQueue = "job_q"

// Register adds every actor to r
func Register(r *broker.Registry) error {
	return r.Register("job", JobQueue, Job)
}

// Job does a unit of work and reports it done
func Job(ctx context.Context, _ []any, _ map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return "done", nil
}
