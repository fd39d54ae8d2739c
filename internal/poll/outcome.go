package poll

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned by Start for a config or collaborator that cannot run.
	ErrInvalidConfig = errors.New("invalid poll config")

	// ErrAlreadyStarted is returned when Start is called twice on one poller.
	ErrAlreadyStarted = errors.New("poller already started")

	// ErrAbsentEntity is the failure reason when a fetch succeeds without an entity.
	ErrAbsentEntity = errors.New("tracked entity is absent")

	// ErrClassifiedFailure is used when a classifier reports failure without a reason.
	ErrClassifiedFailure = errors.New("entity classified as failed")
)

// Kind is the classification of a single fetched entity.
type Kind int

const (
	KindContinue Kind = iota
	KindSuccess
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is produced once per fetched entity.
type Outcome struct {
	Kind   Kind
	Reason error
}

// Continue keeps polling.
func Continue() Outcome { return Outcome{Kind: KindContinue} }

// Success stops polling and reports the fetched entity.
func Success() Outcome { return Outcome{Kind: KindSuccess} }

// Failure stops polling and reports reason.
func Failure(reason error) Outcome { return Outcome{Kind: KindFailure, Reason: reason} }

// FetchFunc retrieves the latest state of the tracked entity. A nil entity with a
// nil error means the entity no longer exists.
type FetchFunc[T any] func(ctx context.Context) (*T, error)

// ClassifyFunc maps a fetched entity to an Outcome. It must be pure.
type ClassifyFunc[T any] func(entity *T) Outcome

// FetchError wraps an error returned by the fetch collaborator so callers can tell
// it apart from a classification failure.
type FetchError struct {
	Attempt int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch attempt %d: %v", e.Attempt, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
