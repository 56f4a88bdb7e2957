package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
)

// JobRepository is the Job Record Store. A job row is created once in
// pending, advanced only through Transition, and never rewritten once
// terminal.
type JobRepository interface {
	// Create inserts a new job in the pending state.
	Create(ctx context.Context, ownerID uuid.UUID, sourceRef, contentType string) (*entity.Job, error)

	// GetByID returns the job or common.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)

	// ListByOwner returns the owner's jobs, optionally filtered by state.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, states ...constants.JobState) ([]*entity.Job, error)

	// Transition atomically moves a job from one state to another,
	// attaching the outcome payload and stamping terminal_at when the new
	// state is terminal. It returns common.ErrInvalidTransition when the
	// job is not currently in the expected predecessor state (including
	// any attempt to move a terminal job), and common.ErrNotFound when
	// the job does not exist.
	Transition(ctx context.Context, id uuid.UUID, from, to constants.JobState, outcome entity.TransitionOutcome) error
}
