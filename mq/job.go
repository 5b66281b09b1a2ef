package mq

import (
	"context"
	"errors"
)

// JobKind names what a scheduled job does when it fires.
type JobKind string

const (
	JobClosePoll JobKind = "close_poll"
	JobSweep     JobKind = "sweep"
)

// Job is a delayed task. The scheduler assigns Handle unless the caller
// chose one.
type Job struct {
	Handle  string  `json:"handle"`
	Kind    JobKind `json:"kind"`
	PollID  string  `json:"poll_id,omitempty"`
	FireAt  int64   `json:"fire_at"` // unix milliseconds
	Retries int     `json:"retries,omitempty"`
}

// Handler runs a fired job. Delivery is at least once, so handlers must be
// idempotent.
type Handler func(ctx context.Context, job Job) error

// ErrJobNotFound is returned by Cancel for handles that are unknown, already
// fired or already cancelled.
var ErrJobNotFound = errors.New("scheduled job not found")
