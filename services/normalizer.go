package services

import (
	"database/sql"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"olx-car-pipeline/models"
	"olx-car-pipeline/utils"
)

// Plausibility bounds carried over from the source dataset: prices and
// mileages outside these ranges are data artifacts, not real cars.
const (
	minPlausiblePrice   = 1_000
	maxPlausiblePrice   = 1_000_000
	maxPlausibleMileage = 1_000_000
	minPlausibleMotor   = 0.5
	maxPlausibleMotor   = 10
)

var (
	yearRegexp  = regexp.MustCompile(`\b(\d{4})\b`)
	motorRegexp = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// ufCodes lists the 27 valid Brazilian federative units.
var ufCodes = map[string]struct{}{
	"AC": {}, "AL": {}, "AM": {}, "AP": {}, "BA": {}, "CE": {}, "DF": {},
	"ES": {}, "GO": {}, "MA": {}, "MG": {}, "MS": {}, "MT": {}, "PA": {},
	"PB": {}, "PE": {}, "PI": {}, "PR": {}, "RJ": {}, "RN": {}, "RO": {},
	"RR": {}, "RS": {}, "SC": {}, "SE": {}, "SP": {}, "TO": {},
}

// stateNames maps accent-folded full state names to their UF code.
var stateNames = map[string]string{
	"ACRE": "AC", "ALAGOAS": "AL", "AMAZONAS": "AM", "AMAPA": "AP",
	"BAHIA": "BA", "CEARA": "CE", "DISTRITO FEDERAL": "DF",
	"ESPIRITO SANTO": "ES", "GOIAS": "GO", "MARANHAO": "MA",
	"MINAS GERAIS": "MG", "MATO GROSSO DO SUL": "MS", "MATO GROSSO": "MT",
	"PARA": "PA", "PARAIBA": "PB", "PERNAMBUCO": "PE", "PIAUI": "PI",
	"PARANA": "PR", "RIO DE JANEIRO": "RJ", "RIO GRANDE DO NORTE": "RN",
	"RONDONIA": "RO", "RORAIMA": "RR", "RIO GRANDE DO SUL": "RS",
	"SANTA CATARINA": "SC", "SERGIPE": "SE", "SAO PAULO": "SP",
	"TOCANTINS": "TO",
}

// Normalizer turns raw crawl observations into typed, validated
// CleanedListings. Per-row failures are rejected with a recorded reason and
// never halt the batch.
type Normalizer struct {
	referenceYear int
	yearFloor     int
	logger        *utils.Logger
}

// NewNormalizer creates a Normalizer. referenceYear bounds plausible model
// years at referenceYear+1; yearFloor is the oldest year accepted.
func NewNormalizer(referenceYear, yearFloor int, logger *utils.Logger) *Normalizer {
	return &Normalizer{referenceYear: referenceYear, yearFloor: yearFloor, logger: logger}
}

// Normalize processes the full raw batch and returns the cleaned set plus a
// report accounting for every input row. When a listing was observed more
// than once, the most recent observation wins and the older ones are
// recorded as superseded.
func (n *Normalizer) Normalize(raw []*models.RawListing) ([]*models.CleanedListing, *models.StageReport) {
	report := models.NewStageReport("normalize")
	report.Input = len(raw)

	latest := make(map[string]*models.RawListing, len(raw))
	for _, r := range raw {
		if r.ListingID == "" {
			report.Reject("missing-listing-id")
			continue
		}
		prev, ok := latest[r.ListingID]
		if !ok {
			latest[r.ListingID] = r
			continue
		}
		report.Reject("superseded-observation")
		if r.FetchedAt.After(prev.FetchedAt) {
			latest[r.ListingID] = r
		}
	}

	cleaned := make([]*models.CleanedListing, 0, len(latest))
	for _, r := range latest {
		c, err := n.normalizeOne(r)
		if err != nil {
			reason := "invalid"
			var ve *models.ValidationError
			if errors.As(err, &ve) {
				reason = ve.Field + ":" + ve.Reason
			}
			report.Reject(reason)
			n.logger.Debug("[normalize] Rejected %s: %v", r.ListingID, err)
			continue
		}
		cleaned = append(cleaned, c)
		report.Accepted++
	}

	n.logger.Info("[normalize] %d raw rows → %d cleaned, %d rejected",
		report.Input, report.Accepted, report.Rejected())
	return cleaned, report
}

// normalizeOne applies every per-field rule to a single observation.
func (n *Normalizer) normalizeOne(r *models.RawListing) (*models.CleanedListing, error) {
	if !r.Title.Valid || strings.TrimSpace(r.Title.String) == "" {
		return nil, &models.ValidationError{Field: "title", Reason: "missing"}
	}
	title := collapseWhitespace(r.Title.String)

	year, ok := ExtractYear(title)
	if !ok {
		return nil, &models.ValidationError{Field: "year", Reason: "missing"}
	}
	if year < n.yearFloor || year > n.referenceYear+1 {
		return nil, &models.ValidationError{Field: "year", Reason: "implausible"}
	}

	if !r.PriceText.Valid || strings.TrimSpace(r.PriceText.String) == "" {
		return nil, &models.ValidationError{Field: "price", Reason: "missing"}
	}
	price, err := ParsePrice(r.PriceText.String)
	if err != nil {
		return nil, &models.ValidationError{Field: "price", Reason: "malformed"}
	}
	if price < minPlausiblePrice || price > maxPlausiblePrice {
		return nil, &models.ValidationError{Field: "price", Reason: "implausible"}
	}

	var mileage sql.NullFloat64
	if r.MileageText.Valid {
		if km, err := ParseMileage(r.MileageText.String); err == nil && km >= 0 && km <= maxPlausibleMileage {
			mileage = sql.NullFloat64{Float64: km, Valid: true}
		} else {
			n.logger.Debug("[normalize] %s: unusable mileage %q", r.ListingID, r.MileageText.String)
		}
	}

	var motor sql.NullFloat64
	if r.MotorText.Valid {
		if liters, err := ParseMotor(r.MotorText.String); err == nil && liters >= minPlausibleMotor && liters <= maxPlausibleMotor {
			motor = sql.NullFloat64{Float64: liters, Valid: true}
		} else {
			n.logger.Debug("[normalize] %s: unusable motor %q", r.ListingID, r.MotorText.String)
		}
	}

	city, state := ParseLocation(nullToString(r.LocationText))

	return &models.CleanedListing{
		ListingID:    r.ListingID,
		URL:          r.URL,
		Price:        price,
		Year:         year,
		Mileage:      mileage,
		Motor:        motor,
		City:         city,
		State:        state,
		Brand:        categorical(r.Brand, strings.ToUpper),
		Model:        categorical(r.Model, strings.ToUpper),
		Fuel:         categorical(r.Fuel, strings.ToLower),
		Transmission: categorical(r.Transmission, strings.ToLower),
		Color:        categorical(r.Color, strings.ToLower),
		Extras:       r.Extras,
		FetchedAt:    r.FetchedAt,
	}, nil
}

// ExtractYear finds the model year in free-form title text. Sellers put the
// model year after the brand and model name ("Honda Civic 2020 Full"), so
// when several 4-digit tokens appear the rightmost one wins.
func ExtractYear(title string) (int, bool) {
	matches := yearRegexp.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return 0, false
	}
	y, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0, false
	}
	return y, true
}

// ParsePrice parses a Brazilian-locale price string such as "R$ 45.000" or
// "R$ 45.000,50" into a float.
func ParsePrice(s string) (float64, error) {
	s = strings.NewReplacer("R$", "", "r$", "", "\u00a0", "", " ", "").Replace(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

// ParseMileage parses a mileage string such as "78.000 km" into kilometers.
func ParseMileage(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("km", "", "\u00a0", "", " ", "").Replace(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

// ParseMotor parses an engine-displacement string such as "1.0" or
// "Motor 2.0 16V" into liters, taking the first numeric token.
func ParseMotor(s string) (float64, error) {
	m := motorRegexp.FindString(s)
	if m == "" {
		return 0, errors.New("no numeric token")
	}
	return strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
}

// ParseLocation decomposes a combined location line ("city, state[, zip]" or
// "city - state") into a lowercase city and a canonical UF code. Unmapped
// states become the UNKNOWN sentinel rather than dropping the row; as a
// fallback a trailing UF inside the city token ("são paulo sp") is pulled
// out of the city.
func ParseLocation(s string) (city, state string) {
	state = models.Unknown

	s = collapseWhitespace(s)
	if s == "" {
		return "", state
	}

	normalized := strings.ReplaceAll(s, " - ", ", ")
	parts := strings.Split(normalized, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	city = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		if uf := CanonicalState(parts[1]); uf != "" {
			state = uf
		}
	}

	if state == models.Unknown {
		// Fallback: some ads fold the UF into the city ("são paulo sp").
		fields := strings.Fields(city)
		if len(fields) >= 2 {
			last := strings.ToUpper(fields[len(fields)-1])
			if _, ok := ufCodes[last]; ok {
				state = last
				city = strings.Join(fields[:len(fields)-1], " ")
			}
		}
	}

	return city, state
}

// CanonicalState maps a free-text state token to its UF code, accepting
// either the two-letter code or the full state name. Returns "" if unmapped.
func CanonicalState(s string) string {
	folded := strings.ToUpper(collapseWhitespace(foldAccents(s)))
	if _, ok := ufCodes[folded]; ok {
		return folded
	}
	if uf, ok := stateNames[folded]; ok {
		return uf
	}
	return ""
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldAccents(s string) string {
	if folded, _, err := transform.String(accentFolder, s); err == nil {
		return folded
	}
	return s
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// categorical normalizes a pass-through categorical field, substituting the
// UNKNOWN sentinel when the page never showed the field.
func categorical(v sql.NullString, casing func(string) string) string {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return models.Unknown
	}
	return casing(collapseWhitespace(v.String))
}

func nullToString(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}
