package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"olx-car-pipeline/models"
)

// WriteCleanedCSV fully rewrites the cleaned snapshot at path. The cleaned
// set is a derived, disposable cache: every normalizer run regenerates it.
func WriteCleanedCSV(path string, listings []*models.CleanedListing) error {
	w, f, err := createCSV(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := []string{
		"listing_id", "url", "price", "year", "mileage_km", "motor", "city",
		"state", "brand", "model", "fuel", "transmission", "color", "extras",
		"fetched_at",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("cleaned csv: write header: %w", err)
	}

	for _, l := range listings {
		mileage := ""
		if l.Mileage.Valid {
			mileage = strconv.FormatFloat(l.Mileage.Float64, 'f', -1, 64)
		}
		motor := ""
		if l.Motor.Valid {
			motor = strconv.FormatFloat(l.Motor.Float64, 'f', 1, 64)
		}
		row := []string{
			l.ListingID,
			l.URL,
			strconv.FormatFloat(l.Price, 'f', 2, 64),
			strconv.Itoa(l.Year),
			mileage,
			motor,
			l.City,
			l.State,
			l.Brand,
			l.Model,
			l.Fuel,
			l.Transmission,
			l.Color,
			strings.Join(l.Extras, extrasSeparator),
			l.FetchedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("cleaned csv: write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// WriteFeatureCSV fully rewrites the feature table at path. Every row
// carries the schema version tag so consumers can verify the contract.
func WriteFeatureCSV(path string, rows []*models.FeatureRow) error {
	w, f, err := createCSV(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := []string{
		"listing_id", "log_price", "car_age", "km_per_year", "motor", "brand",
		"state", "fuel", "transmission", "leather_seats", "sunroof",
		"four_by_four", "armored", "single_owner", "schema_version",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("feature csv: write header: %w", err)
	}

	for _, r := range rows {
		motor := ""
		if r.Motor.Valid {
			motor = strconv.FormatFloat(r.Motor.Float64, 'f', 1, 64)
		}
		row := []string{
			r.ListingID,
			strconv.FormatFloat(r.LogPrice, 'f', 6, 64),
			strconv.FormatFloat(r.CarAge, 'f', 1, 64),
			strconv.FormatFloat(r.KmPerYear, 'f', 2, 64),
			motor,
			r.Brand,
			r.State,
			r.Fuel,
			r.Transmission,
			strconv.FormatBool(r.LeatherSeats),
			strconv.FormatBool(r.Sunroof),
			strconv.FormatBool(r.FourByFour),
			strconv.FormatBool(r.Armored),
			strconv.FormatBool(r.SingleOwner),
			r.SchemaVersion,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("feature csv: write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// WriteManifest persists the grouping manifest next to the feature table so
// inference-time feature construction can apply the same category grouping.
func WriteManifest(path string, m *models.GroupingManifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("manifest: create dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("manifest: write %q: %w", path, err)
	}
	return nil
}

// ReadManifest loads a previously persisted grouping manifest.
func ReadManifest(path string) (*models.GroupingManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %q: %w", path, err)
	}
	var m models.GroupingManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: corrupt %q: %w", path, err)
	}
	return &m, nil
}

func createCSV(path string) (*csv.Writer, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("csv: create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("csv: create %q: %w", path, err)
	}
	return csv.NewWriter(f), f, nil
}
