// Package jobs runs background work on an in-process worker pool and records job
// state in a Store so any process can report on it.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
)

// Job kinds used by the scraping pipeline.
const (
	KindProcessProducts = "process-products"
	KindRescanProducts  = "rescan-products"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the stored state of one unit of background work.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// Handle identifies a scheduled job.
type Handle struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Handler executes a job payload and returns its result payload.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Store persists job state.
type Store interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Ping(ctx context.Context) error
}

func errJobNotFound(id string) error {
	return apperrors.Newf(apperrors.ErrCodeJobNotFound, "job %s not found", id)
}
