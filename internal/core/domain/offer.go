package domain

import "time"

type OfferStatus string

const (
	OfferPending    OfferStatus = "pending"
	OfferProcessing OfferStatus = "processing"
	OfferReady      OfferStatus = "ready"
	OfferExpired    OfferStatus = "expired"
	OfferFailed     OfferStatus = "failed"
)

// Offer is a batch of loan offers generated for an application.
type Offer struct {
	ID            string      `json:"id"`
	ApplicationID string      `json:"application_id"`
	Status        OfferStatus `json:"status"`
	Count         int         `json:"count"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
