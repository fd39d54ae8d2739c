package domain

import "time"

// Session records one poll session against a backend entity.
type Session struct {
	ID          string        `json:"id"           db:"id"`
	Kind        EntityKind    `json:"kind"         db:"kind"`
	EntityID    string        `json:"entity_id"    db:"entity_id"`
	Status      SessionStatus `json:"status"       db:"status"`
	Attempts    int           `json:"attempts"     db:"attempts"`
	MaxAttempts int           `json:"max_attempts" db:"max_attempts"`
	FailureKind FailureKind   `json:"failure_kind,omitempty" db:"failure_kind"`
	Error       string        `json:"error,omitempty"        db:"error_msg"`
	StartedAt   time.Time     `json:"started_at"   db:"started_at"`
	UpdatedAt   time.Time     `json:"updated_at"   db:"updated_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"  db:"finished_at"`
}

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionSucceeded SessionStatus = "succeeded"
	SessionFailed    SessionStatus = "failed"
	SessionExhausted SessionStatus = "exhausted"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the session has ended.
func (s SessionStatus) Terminal() bool {
	return s != SessionRunning
}

// FailureKind distinguishes why a session failed.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureFetch        FailureKind = "fetch"
	FailureDeclined     FailureKind = "declined"
	FailureErrored      FailureKind = "errored"
	FailureAbsent       FailureKind = "absent"
	FailureUnrecognized FailureKind = "unrecognized"
)
