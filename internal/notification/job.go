// Package notification stores delayed message jobs and delivers them when due.
package notification

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

var (
	ErrNotFound        = errors.New("job not found")
	ErrConflict        = errors.New("job is not pending")
	ErrInvalidJob      = errors.New("invalid job")
	ErrScheduledInPast = errors.New("scheduled time must be in the future")
)

// Job is one future message delivery to an ordered audience.
type Job struct {
	ID          string     `json:"id"`
	Audience    []string   `json:"audience"`
	Message     string     `json:"message"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	Status      Status     `json:"status"`
	Category    string     `json:"category,omitempty"`
	TargetDate  string     `json:"targetDate,omitempty"`
	TargetTime  string     `json:"targetTime,omitempty"`
	GroupRef    string     `json:"groupRef,omitempty"`
	Broadcast   bool       `json:"isBroadcast"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	ErrorDetail string     `json:"errorDetail,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Failures splits ErrorDetail into one entry per failed recipient.
func (j Job) Failures() []string {
	if j.ErrorDetail == "" {
		return nil
	}
	return strings.Split(j.ErrorDetail, "\n")
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	GroupRef string
	Status   Status
	Limit    int
}

// BulkFilter selects pending jobs for CancelBulk.
type BulkFilter struct {
	// Categories limits matches to these categories; empty means any.
	Categories []string
	// GroupRef limits matches to one correlation group.
	GroupRef string
	// TargetDate matches jobs whose target falls on this YYYY-MM-DD date.
	TargetDate string
	// From and To bound the target instant to [From, To) when non-zero.
	From time.Time
	To   time.Time
}
