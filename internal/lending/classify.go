package lending

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/lendwatch/internal/core/domain"
	"github.com/vietddude/lendwatch/internal/poll"
)

var (
	ErrDeclined          = errors.New("entity declined")
	ErrErrored           = errors.New("entity errored on the backend")
	ErrUnrecognizedState = errors.New("unrecognized entity state")
)

// StateError reports the backend state that ended a session.
type StateError struct {
	Kind     domain.EntityKind
	EntityID string
	State    string
	Err      error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s in state %q: %v", e.Kind, e.EntityID, e.State, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// ClassifyApplication maps an application state onto a poll outcome. A nil application
// is absent.
func ClassifyApplication(a *domain.Application) poll.Outcome {
	if a == nil {
		return poll.Failure(poll.ErrAbsentEntity)
	}
	switch a.State {
	case domain.ApplicationSubmitted, domain.ApplicationProcessing, domain.ApplicationUnderwriting:
		return poll.Continue()
	case domain.ApplicationApproved, domain.ApplicationSigned, domain.ApplicationFunded:
		return poll.Success()
	case domain.ApplicationDeclined, domain.ApplicationWithdrawn:
		return applicationFailure(a, ErrDeclined)
	case domain.ApplicationErrored:
		return applicationFailure(a, ErrErrored)
	case "":
		return poll.Failure(poll.ErrAbsentEntity)
	default:
		return applicationFailure(a, ErrUnrecognizedState)
	}
}

func applicationFailure(a *domain.Application, err error) poll.Outcome {
	return poll.Failure(&StateError{
		Kind:     domain.KindApplication,
		EntityID: a.ID,
		State:    string(a.State),
		Err:      err,
	})
}

// ClassifyOffer maps an offer batch status onto a poll outcome. A nil offer is absent.
func ClassifyOffer(o *domain.Offer) poll.Outcome {
	if o == nil {
		return poll.Failure(poll.ErrAbsentEntity)
	}
	switch o.Status {
	case domain.OfferPending, domain.OfferProcessing:
		return poll.Continue()
	case domain.OfferReady:
		return poll.Success()
	case domain.OfferExpired:
		return offerFailure(o, ErrDeclined)
	case domain.OfferFailed:
		return offerFailure(o, ErrErrored)
	case "":
		return poll.Failure(poll.ErrAbsentEntity)
	default:
		return offerFailure(o, ErrUnrecognizedState)
	}
}

func offerFailure(o *domain.Offer, err error) poll.Outcome {
	return poll.Failure(&StateError{
		Kind:     domain.KindOffer,
		EntityID: o.ID,
		State:    string(o.Status),
		Err:      err,
	})
}

// ApplicationFetch binds f to a single application id.
func ApplicationFetch(f Fetcher, id string) poll.FetchFunc[domain.Application] {
	return func(ctx context.Context) (*domain.Application, error) {
		return f.FetchApplication(ctx, id)
	}
}

// OfferFetch binds f to a single offer id.
func OfferFetch(f Fetcher, id string) poll.FetchFunc[domain.Offer] {
	return func(ctx context.Context) (*domain.Offer, error) {
		return f.FetchOffer(ctx, id)
	}
}

// FailureKindOf maps a session failure reason onto its recorded kind.
func FailureKindOf(reason error) domain.FailureKind {
	var fetchErr *poll.FetchError
	switch {
	case reason == nil:
		return domain.FailureNone
	case errors.As(reason, &fetchErr):
		return domain.FailureFetch
	case errors.Is(reason, poll.ErrAbsentEntity):
		return domain.FailureAbsent
	case errors.Is(reason, ErrDeclined):
		return domain.FailureDeclined
	case errors.Is(reason, ErrErrored):
		return domain.FailureErrored
	default:
		return domain.FailureUnrecognized
	}
}
