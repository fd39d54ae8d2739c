package domain

import "time"

// EntityKind names a tracked backend resource.
type EntityKind string

const (
	KindApplication EntityKind = "application"
	KindOffer       EntityKind = "offer"
)

// Valid reports whether k is a kind the service can track.
func (k EntityKind) Valid() bool {
	return k == KindApplication || k == KindOffer
}

// ApplicationState is the backend's lifecycle label for a lending application.
type ApplicationState string

const (
	ApplicationSubmitted    ApplicationState = "submitted"
	ApplicationProcessing   ApplicationState = "processing"
	ApplicationUnderwriting ApplicationState = "underwriting"
	ApplicationApproved     ApplicationState = "approved"
	ApplicationSigned       ApplicationState = "signed"
	ApplicationFunded       ApplicationState = "funded"
	ApplicationDeclined     ApplicationState = "declined"
	ApplicationWithdrawn    ApplicationState = "withdrawn"
	ApplicationErrored      ApplicationState = "errored"
)

// Application is a lending application as returned by the backend.
type Application struct {
	ID          string           `json:"id"`
	MerchantID  string           `json:"merchant_id,omitempty"`
	State       ApplicationState `json:"state"`
	AmountCents int64            `json:"amount_cents,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
