package services

import (
	"math"
	"sort"
	"time"

	"olx-car-pipeline/models"
	"olx-car-pipeline/utils"
)

// SchemaVersion tags the feature-table contract. Bump it whenever the column
// set, types or derivation rules change.
const SchemaVersion = "v1"

// Normalized extras names whose membership becomes a boolean feature column.
const (
	extraLeatherSeats = "bancos_de_couro"
	extraSunroof      = "teto_solar"
	extraFourByFour   = "tracao_4x4"
	extraArmored      = "blindado"
	extraSingleOwner  = "unico_dono"
)

// carAgeFloor replaces non-positive ages (future-dated model years, data
// artifacts) so the column stays informative instead of dropping the row.
const carAgeFloor = 0.5

// FeatureBuilder transforms the cleaned set into the fixed, versioned
// feature table. Category grouping is refit from the dataset being
// transformed on every Build, never from external or future information,
// and the resulting sets are persisted in a GroupingManifest so
// inference-time construction can reuse them.
type FeatureBuilder struct {
	referenceYear int
	stateMinCount int
	topBrands     int
	logger        *utils.Logger
}

// NewFeatureBuilder creates a FeatureBuilder. States observed fewer than
// stateMinCount times collapse to STATE_OTHER; brands outside the topBrands
// most frequent collapse to BRAND_OTHER.
func NewFeatureBuilder(referenceYear, stateMinCount, topBrands int, logger *utils.Logger) *FeatureBuilder {
	return &FeatureBuilder{
		referenceYear: referenceYear,
		stateMinCount: stateMinCount,
		topBrands:     topBrands,
		logger:        logger,
	}
}

// Build derives the feature table, the grouping manifest, and a report
// accounting for every cleaned row. Rows violating the fixed schema are
// rejected; the batch continues.
func (b *FeatureBuilder) Build(cleaned []*models.CleanedListing) ([]*models.FeatureRow, *models.GroupingManifest, *models.StageReport) {
	report := models.NewStageReport("features")
	report.Input = len(cleaned)

	manifest := &models.GroupingManifest{
		SchemaVersion:  SchemaVersion,
		GeneratedAt:    time.Now().UTC(),
		ReferenceYear:  b.referenceYear,
		StateMinCount:  b.stateMinCount,
		TopBrands:      b.topBrands,
		RetainedStates: b.retainedStates(cleaned),
		RetainedBrands: b.retainedBrands(cleaned),
	}

	rows := make([]*models.FeatureRow, 0, len(cleaned))
	for _, l := range cleaned {
		row, err := deriveRow(l, manifest)
		if err != nil {
			report.Reject(err.Error())
			b.logger.Debug("[features] Rejected %s: %v", l.ListingID, err)
			continue
		}
		rows = append(rows, row)
		report.Accepted++
	}

	b.logger.Info("[features] %d cleaned rows → %d feature rows, %d rejected | %d states retained, %d brands retained",
		report.Input, report.Accepted, report.Rejected(),
		len(manifest.RetainedStates), len(manifest.RetainedBrands))
	return rows, manifest, report
}

// ApplyManifest derives one feature row for a new record using a previously
// persisted manifest, so inference-time grouping matches training-time
// grouping instead of being recomputed from a different population.
func ApplyManifest(m *models.GroupingManifest, l *models.CleanedListing) (*models.FeatureRow, error) {
	return deriveRow(l, m)
}

// retainedStates keeps every state observed at least stateMinCount times.
func (b *FeatureBuilder) retainedStates(cleaned []*models.CleanedListing) []string {
	counts := make(map[string]int)
	for _, l := range cleaned {
		counts[l.State]++
	}
	var retained []string
	for state, n := range counts {
		if n >= b.stateMinCount {
			retained = append(retained, state)
		}
	}
	sort.Strings(retained)
	return retained
}

// retainedBrands keeps the topBrands most frequent brands, breaking count
// ties by name so the grouping is deterministic.
func (b *FeatureBuilder) retainedBrands(cleaned []*models.CleanedListing) []string {
	counts := make(map[string]int)
	for _, l := range cleaned {
		counts[l.Brand]++
	}
	brands := make([]string, 0, len(counts))
	for brand := range counts {
		brands = append(brands, brand)
	}
	sort.Slice(brands, func(i, j int) bool {
		if counts[brands[i]] != counts[brands[j]] {
			return counts[brands[i]] > counts[brands[j]]
		}
		return brands[i] < brands[j]
	})
	if len(brands) > b.topBrands {
		brands = brands[:b.topBrands]
	}
	sort.Strings(brands)
	return brands
}

// deriveRow computes every engineered column for one cleaned listing. The
// feature stage never imputes a required field: any null/non-positive value
// a required column depends on rejects the row.
func deriveRow(l *models.CleanedListing, m *models.GroupingManifest) (*models.FeatureRow, error) {
	if l.Price <= 0 {
		return nil, &models.SchemaViolation{Column: "log_price"}
	}
	if l.Year <= 0 {
		return nil, &models.SchemaViolation{Column: "car_age"}
	}
	if l.State == "" {
		return nil, &models.SchemaViolation{Column: "state"}
	}
	if l.Brand == "" {
		return nil, &models.SchemaViolation{Column: "brand"}
	}
	if l.Fuel == "" {
		return nil, &models.SchemaViolation{Column: "fuel"}
	}
	if l.Transmission == "" {
		return nil, &models.SchemaViolation{Column: "transmission"}
	}

	carAge := float64(m.ReferenceYear - l.Year)
	if carAge <= 0 {
		carAge = carAgeFloor
	}

	kmPerYear := 0.0
	if l.Mileage.Valid {
		kmPerYear = l.Mileage.Float64 / carAge
	}

	return &models.FeatureRow{
		ListingID:     l.ListingID,
		LogPrice:      math.Log(l.Price),
		CarAge:        carAge,
		KmPerYear:     kmPerYear,
		Motor:         l.Motor,
		Brand:         group(l.Brand, m.RetainedBrands, models.BrandOther),
		State:         group(l.State, m.RetainedStates, models.StateOther),
		Fuel:          l.Fuel,
		Transmission:  l.Transmission,
		LeatherSeats:  l.HasExtra(extraLeatherSeats),
		Sunroof:       l.HasExtra(extraSunroof),
		FourByFour:    l.HasExtra(extraFourByFour),
		Armored:       l.HasExtra(extraArmored),
		SingleOwner:   l.HasExtra(extraSingleOwner),
		SchemaVersion: m.SchemaVersion,
	}, nil
}

func group(value string, retained []string, other string) string {
	for _, r := range retained {
		if r == value {
			return value
		}
	}
	return other
}
