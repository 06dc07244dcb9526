package generation

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Status of a generation job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CanTransition reports whether a job may move from s to next.
// pending -> processing -> completed|failed; nothing leaves a final state.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one image generation request paid for by a credit reservation.
type Job struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	UserID          uuid.UUID      `db:"user_id" json:"-"`
	ReservationID   uuid.UUID      `db:"reservation_id" json:"-"`
	Status          Status         `db:"status" json:"status"`
	Prompt          string         `db:"prompt" json:"prompt"`
	Model           string         `db:"model" json:"model"`
	ReferenceImages pq.StringArray `db:"reference_images" json:"reference_images"`
	ResultURL       *string        `db:"result_url" json:"result_url,omitempty"`
	ResultKey       *string        `db:"result_key" json:"-"`
	Error           *string        `db:"error" json:"error,omitempty"`
	CreditRefunded  bool           `db:"credit_refunded" json:"credit_refunded"`
	WorkerID        *string        `db:"worker_id" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	StartedAt       *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt      *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
}

// SubmitInput is what a user asks the model for.
type SubmitInput struct {
	Prompt          string   `json:"prompt" validate:"required,max=2000"`
	Model           string   `json:"model" validate:"omitempty,max=64"`
	ReferenceImages []string `json:"reference_images" validate:"omitempty,max=4,dive,url"`
}

// Submission is returned once the job is queued and its credit reserved.
type Submission struct {
	JobID         uuid.UUID `json:"job_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	Status        Status    `json:"status"`
	Balance       int       `json:"balance"`
}

// Output is a stored generation result. Both fields are nil when the
// upload failed but the job still completed.
type Output struct {
	URL *string
	Key *string
}

type Pagination struct {
	Limit  int
	Offset int
}

const EventJobUpdated = "generation.updated"

// Event is pushed to the job owner on every status change.
type Event struct {
	Type           string    `json:"type"`
	JobID          uuid.UUID `json:"job_id"`
	UserID         uuid.UUID `json:"user_id"`
	Status         Status    `json:"status"`
	ResultURL      *string   `json:"result_url,omitempty"`
	Error          *string   `json:"error,omitempty"`
	CreditRefunded bool      `json:"credit_refunded"`
	At             time.Time `json:"at"`
}

// EventFor snapshots the job into a realtime event.
func EventFor(job *Job, at time.Time) Event {
	return Event{
		Type:           EventJobUpdated,
		JobID:          job.ID,
		UserID:         job.UserID,
		Status:         job.Status,
		ResultURL:      job.ResultURL,
		Error:          job.Error,
		CreditRefunded: job.CreditRefunded,
		At:             at,
	}
}
