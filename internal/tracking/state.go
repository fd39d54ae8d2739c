package tracking

import (
	"errors"
	"time"

	"github.com/vietddude/lendwatch/internal/core/domain"
)

// ErrInvalidTransition is returned when a session would leave a terminal status.
var ErrInvalidTransition = errors.New("invalid session transition")

// ValidTransitions lists the statuses a session may move to from each status.
var ValidTransitions = map[domain.SessionStatus][]domain.SessionStatus{
	domain.SessionRunning: {
		domain.SessionSucceeded,
		domain.SessionFailed,
		domain.SessionExhausted,
		domain.SessionCancelled,
	},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to domain.SessionStatus) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition records a session status change.
type Transition struct {
	SessionID string
	From      domain.SessionStatus
	To        domain.SessionStatus
	Reason    string
	Timestamp time.Time
}

// StatusDescription returns a human-readable description of a status.
func StatusDescription(s domain.SessionStatus) string {
	switch s {
	case domain.SessionRunning:
		return "Running - polling the backend"
	case domain.SessionSucceeded:
		return "Succeeded - entity reached a success state"
	case domain.SessionFailed:
		return "Failed - fetch error or failure state"
	case domain.SessionExhausted:
		return "Exhausted - retry budget spent while still in progress"
	case domain.SessionCancelled:
		return "Cancelled - stopped before an outcome"
	default:
		return "Unknown status"
	}
}
