package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olx-car-pipeline/models"
	"olx-car-pipeline/utils"
)

func testLogger() *utils.Logger { return utils.NewLogger(utils.LevelError) }

func valid(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func rawFixture(id, title, price string) *models.RawListing {
	return &models.RawListing{
		ListingID:    id,
		URL:          "https://www.olx.com.br/carros/ad-" + id,
		Title:        valid(title),
		PriceText:    valid(price),
		LocationText: valid("Curitiba, PR"),
		MileageText:  valid("45.000 km"),
		MotorText:    valid("2.0"),
		Brand:        valid("Honda"),
		Fuel:         valid("Flex"),
		Transmission: valid("Manual"),
		Color:        valid("Prata"),
		FetchedAt:    time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestExtractYear(t *testing.T) {
	tests := []struct {
		title string
		want  int
		ok    bool
	}{
		{"Honda Civic 2020 Full", 2020, true},
		{"2019 Toyota Corolla", 2019, true},
		// Two 4-digit tokens: the rightmost wins, since sellers put the
		// model year after the brand/model name.
		{"Hilux 2011 Diesel 2012", 2012, true},
		{"Gol G4 1.0", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractYear(tt.title)
		assert.Equal(t, tt.ok, ok, "title %q", tt.title)
		assert.Equal(t, tt.want, got, "title %q", tt.title)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"R$ 45.000", 45000, false},
		{"R$ 45.000,50", 45000.50, false},
		{"R$ 18.500", 18500, false},
		{"95000", 95000, false},
		{"Consulte", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePrice(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "in %q", tt.in)
			continue
		}
		require.NoError(t, err, "in %q", tt.in)
		assert.Equal(t, tt.want, got, "in %q", tt.in)
	}
}

func TestParseMileage(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"78.000 km", 78000, false},
		{"KM 120.500", 120500, false},
		{"0", 0, false},
		{"muito rodado", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMileage(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "in %q", tt.in)
			continue
		}
		require.NoError(t, err, "in %q", tt.in)
		assert.Equal(t, tt.want, got, "in %q", tt.in)
	}
}

func TestParseMotor(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"1.0", 1.0, false},
		{"2.0 16V", 2.0, false},
		{"Motor 1,6", 1.6, false},
		{"V8", 8, false}, // first numeric token, plausibility is the normalizer's job
		{"elétrico", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMotor(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "in %q", tt.in)
			continue
		}
		require.NoError(t, err, "in %q", tt.in)
		assert.Equal(t, tt.want, got, "in %q", tt.in)
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in        string
		wantCity  string
		wantState string
	}{
		{"Curitiba, PR", "curitiba", "PR"},
		{"Curitiba, PR, 80000-000", "curitiba", "PR"},
		{"Curitiba - Paraná", "curitiba", "PR"},
		{"Belo Horizonte, Minas Gerais", "belo horizonte", "MG"},
		// UF folded into the city token.
		{"São Paulo SP", "são paulo", "SP"},
		// Unmapped state stays UNKNOWN; the row is not dropped.
		{"Lisboa, Portugal", "lisboa", models.Unknown},
		{"", "", models.Unknown},
	}
	for _, tt := range tests {
		city, state := ParseLocation(tt.in)
		assert.Equal(t, tt.wantCity, city, "in %q", tt.in)
		assert.Equal(t, tt.wantState, state, "in %q", tt.in)
	}
}

func TestNormalizeHappyPath(t *testing.T) {
	n := NewNormalizer(2026, 1980, testLogger())

	cleaned, report := n.Normalize([]*models.RawListing{
		rawFixture("1", "Honda Civic 2020 EXL", "R$ 95.000"),
	})
	require.Len(t, cleaned, 1)

	c := cleaned[0]
	assert.Equal(t, "1", c.ListingID)
	assert.Equal(t, 95000.0, c.Price)
	assert.Equal(t, 2020, c.Year)
	require.True(t, c.Mileage.Valid)
	assert.Equal(t, 45000.0, c.Mileage.Float64)
	require.True(t, c.Motor.Valid)
	assert.Equal(t, 2.0, c.Motor.Float64)
	assert.Equal(t, "curitiba", c.City)
	assert.Equal(t, "PR", c.State)
	assert.Equal(t, "HONDA", c.Brand)
	assert.Equal(t, "flex", c.Fuel)
	assert.Equal(t, "manual", c.Transmission)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 0, report.Rejected())
}

func TestNormalizeLatestObservationWins(t *testing.T) {
	n := NewNormalizer(2026, 1980, testLogger())

	older := rawFixture("7", "Fiat Uno 2012", "R$ 18.000")
	newer := rawFixture("7", "Fiat Uno 2012", "R$ 17.500")
	newer.FetchedAt = older.FetchedAt.Add(24 * time.Hour)

	cleaned, report := n.Normalize([]*models.RawListing{older, newer})
	require.Len(t, cleaned, 1)
	assert.Equal(t, 17500.0, cleaned[0].Price)
	assert.Equal(t, 1, report.RejectedBy["superseded-observation"])
}

func TestNormalizeRejections(t *testing.T) {
	n := NewNormalizer(2026, 1980, testLogger())

	noYear := rawFixture("2", "Gol quadrado turbo", "R$ 25.000")
	futureYear := rawFixture("3", "Civic 2030", "R$ 95.000")
	ancientYear := rawFixture("4", "Fusca 1965", "R$ 30.000")
	badPrice := rawFixture("5", "Uno 2012", "a combinar")
	cheapPrice := rawFixture("6", "Uno 2012", "R$ 500")
	noTitle := rawFixture("8", "", "R$ 20.000")
	noTitle.Title = sql.NullString{}
	noID := rawFixture("", "Celta 2009", "R$ 15.000")

	input := []*models.RawListing{noYear, futureYear, ancientYear, badPrice, cheapPrice, noTitle, noID}
	cleaned, report := n.Normalize(input)

	assert.Empty(t, cleaned)
	assert.Equal(t, len(input), report.Input)
	assert.Equal(t, 1, report.RejectedBy["year:missing"])
	// 2030 > reference+1, and 1965 < the 1980 floor.
	assert.Equal(t, 2, report.RejectedBy["year:implausible"])
	assert.Equal(t, 1, report.RejectedBy["price:malformed"])
	assert.Equal(t, 1, report.RejectedBy["price:implausible"])
	assert.Equal(t, 1, report.RejectedBy["title:missing"])
	assert.Equal(t, 1, report.RejectedBy["missing-listing-id"])
}

func TestNormalizeUnknownSentinels(t *testing.T) {
	n := NewNormalizer(2026, 1980, testLogger())

	r := rawFixture("9", "Celta 2009", "R$ 15.000")
	r.Brand = sql.NullString{}
	r.LocationText = sql.NullString{}
	r.Fuel = sql.NullString{}

	cleaned, _ := n.Normalize([]*models.RawListing{r})
	require.Len(t, cleaned, 1)
	assert.Equal(t, models.Unknown, cleaned[0].Brand, "brand is never absent after cleaning")
	assert.Equal(t, models.Unknown, cleaned[0].State, "state is never absent after cleaning")
	assert.Equal(t, models.Unknown, cleaned[0].Fuel)
}

func TestNormalizeImplausibleMileageBecomesAbsent(t *testing.T) {
	n := NewNormalizer(2026, 1980, testLogger())

	r := rawFixture("10", "Uno 2012", "R$ 18.000")
	r.MileageText = valid("9.999.999 km")

	cleaned, report := n.Normalize([]*models.RawListing{r})
	require.Len(t, cleaned, 1, "implausible mileage must not reject the row")
	assert.False(t, cleaned[0].Mileage.Valid)
	assert.Equal(t, 1, report.Accepted)
}

func TestNormalizeImplausibleMotorBecomesAbsent(t *testing.T) {
	n := NewNormalizer(2026, 1980, testLogger())

	r := rawFixture("11", "Uno 2012", "R$ 18.000")
	r.MotorText = valid("16") // outside [0.5, 10] liters

	cleaned, report := n.Normalize([]*models.RawListing{r})
	require.Len(t, cleaned, 1, "implausible motor must not reject the row")
	assert.False(t, cleaned[0].Motor.Valid)
	assert.Equal(t, 1, report.Accepted)
}

func TestNormalizeRejectionAccounting(t *testing.T) {
	n := NewNormalizer(2026, 1980, testLogger())

	input := []*models.RawListing{
		rawFixture("1", "Civic 2020", "R$ 95.000"),
		rawFixture("1", "Civic 2020", "R$ 94.000"), // duplicate crawl
		rawFixture("2", "Gol sem ano", "R$ 20.000"),
		rawFixture("3", "Uno 2012", "grátis"),
	}
	cleaned, report := n.Normalize(input)

	assert.Equal(t, len(input), report.Input)
	assert.Equal(t, report.Input, report.Accepted+report.Rejected(),
		"accepted + rejected must equal input")
	assert.Len(t, cleaned, report.Accepted)
}
