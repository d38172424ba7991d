package models

import (
	"database/sql"
	"time"
)

// RawListing holds one crawl observation of an OLX car ad, exactly as
// extracted from the rendered page. It is written to the append-only raw
// store before any cleaning. Fields that were genuinely absent on the page
// carry Valid=false; an empty string means the page showed a blank value.
type RawListing struct {
	ListingID    string
	URL          string
	Title        sql.NullString
	PriceText    sql.NullString
	LocationText sql.NullString
	MileageText  sql.NullString
	MotorText    sql.NullString
	Fuel         sql.NullString
	Transmission sql.NullString
	Color        sql.NullString
	Brand        sql.NullString
	Model        sql.NullString
	Description  sql.NullString
	Extras       []string // deduplicated, normalized option names
	FetchedAt    time.Time
}

// HasExtra reports whether the listing advertises the given normalized option.
func (r *RawListing) HasExtra(name string) bool {
	for _, e := range r.Extras {
		if e == name {
			return true
		}
	}
	return false
}

// CleanedListing is the typed, validated record produced by the normalizer,
// one row per ListingID (latest crawl wins). State and Brand are never
// absent: unmapped values carry the UNKNOWN sentinel.
type CleanedListing struct {
	ListingID    string
	URL          string
	Price        float64
	Year         int
	Mileage      sql.NullFloat64 // kilometers; absent when unscraped or implausible
	Motor        sql.NullFloat64 // engine displacement in liters; absent when unscraped or implausible
	City         string
	State        string // canonical UF code or UNKNOWN
	Brand        string
	Model        string
	Fuel         string
	Transmission string
	Color        string
	Extras       []string
	FetchedAt    time.Time
}

// HasExtra reports whether the listing advertises the given normalized option.
func (c *CleanedListing) HasExtra(name string) bool {
	for _, e := range c.Extras {
		if e == name {
			return true
		}
	}
	return false
}

// FeatureRow is one row of the fixed, versioned feature table consumed by
// the model-training collaborator. The column set and types never vary
// row-to-row; SchemaVersion tags which contract the row satisfies.
type FeatureRow struct {
	ListingID     string
	LogPrice      float64 // natural log of price; the modeling target
	CarAge        float64
	KmPerYear     float64
	Motor         sql.NullFloat64 // liters; stays absent when never scraped
	Brand         string          // regrouped: top-N brands or BRAND_OTHER
	State         string          // regrouped: frequent UFs or STATE_OTHER
	Fuel          string
	Transmission  string
	LeatherSeats  bool
	Sunroof       bool
	FourByFour    bool
	Armored       bool
	SingleOwner   bool
	SchemaVersion string
}

// GroupingManifest records the category-grouping decisions made by one
// feature-builder run so inference-time feature construction can reproduce
// them without recomputing frequencies over a different population.
type GroupingManifest struct {
	SchemaVersion  string    `json:"schema_version"`
	GeneratedAt    time.Time `json:"generated_at"`
	ReferenceYear  int       `json:"reference_year"`
	StateMinCount  int       `json:"state_min_count"`
	TopBrands      int       `json:"top_brands"`
	RetainedStates []string  `json:"retained_states"`
	RetainedBrands []string  `json:"retained_brands"`
}

// StageReport accounts for every row a batch stage consumed: Accepted plus
// the sum of RejectedBy always equals Input.
type StageReport struct {
	Stage      string
	Input      int
	Accepted   int
	RejectedBy map[string]int
}

// NewStageReport creates an empty report for the named stage.
func NewStageReport(stage string) *StageReport {
	return &StageReport{Stage: stage, RejectedBy: make(map[string]int)}
}

// Reject records one rejected row under the given reason.
func (r *StageReport) Reject(reason string) {
	r.RejectedBy[reason]++
}

// Rejected returns the total number of rejected rows.
func (r *StageReport) Rejected() int {
	n := 0
	for _, c := range r.RejectedBy {
		n += c
	}
	return n
}

// CrawlStats summarizes one crawler run.
type CrawlStats struct {
	Discovered   int
	SkippedKnown int
	Stored       int
	FailedFinal  int // terminal failures (removed ads, unparseable pages)
	FailedRetry  int // retryable failures that exhausted the retry budget
}

// Sentinel category values shared across cleaning and feature stages.
const (
	Unknown    = "UNKNOWN"
	StateOther = "STATE_OTHER"
	BrandOther = "BRAND_OTHER"
)
