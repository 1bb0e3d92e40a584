package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobDone       JobStatus = "DONE"
	JobFailed     JobStatus = "FAILED"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

// ScrapeJob is a persisted unit of work for the browser fallback path.
type ScrapeJob struct {
	ID            uuid.UUID `json:"id"`
	URL           string    `json:"url"`
	Status        JobStatus `json:"status"`
	Error         string    `json:"error,omitempty"`
	ProductsSaved int       `json:"products_saved"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanTransition reports whether a job may move from s to next.
// FAILED -> PENDING is the operator retry; the worker never performs it.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobDone || next == JobFailed
	case JobFailed:
		return next == JobPending
	}
	return false
}

// Terminal reports whether the worker will ever touch the job again.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// CheckTransition returns ErrInvalidTransition if s cannot move to next.
func (s JobStatus) CheckTransition(next JobStatus) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}
