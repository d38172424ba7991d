package models

import (
	"errors"
	"fmt"
)

// ExtractionReason classifies why a loaded page could not be turned into a
// RawListing. Extraction failures are terminal for the listing: the page was
// reachable, its content is just not what we expect.
type ExtractionReason string

const (
	ReasonMissingSelector ExtractionReason = "missing_required_selector"
	ReasonMalformedPrice  ExtractionReason = "malformed_price"
	ReasonEmptyPage       ExtractionReason = "empty_page"
)

// FetchError wraps a network/timeout/render failure. It is the only
// retryable error in the taxonomy.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError reports a page that loaded but is structurally
// unparseable. Terminal per listing.
type ExtractionError struct {
	URL    string
	Reason ExtractionReason
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

// ValidationError reports a cleaning rule that failed for one field. The row
// is rejected; the batch continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %s", e.Field, e.Reason)
}

// SchemaViolation reports a null value in a column the fixed feature schema
// requires. The row is rejected; the batch continues.
type SchemaViolation struct {
	Column string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("schema violation: null in required column %s", e.Column)
}

// IsRetryable reports whether err is worth another fetch attempt. Only
// FetchError qualifies; extraction and validation failures never improve on
// retry.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
