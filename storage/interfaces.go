package storage

import "olx-car-pipeline/models"

// RawAppender is what the crawler needs from the raw store: streaming,
// idempotent appends and the resume check.
type RawAppender interface {
	Append(listing *models.RawListing) error
	HasListing(id string) bool
}

// CleanedWriter is the interface any cleaned-snapshot backend must satisfy.
type CleanedWriter interface {
	Write(listings []*models.CleanedListing) error
	Close() error
}
