package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"olx-car-pipeline/models"
)

// PostgresWriter persists the cleaned snapshot to PostgreSQL. The table is
// fully rewritten each run: cleaned data is a derived cache of the raw
// store, never the source of truth.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS car_listings (
			id           SERIAL PRIMARY KEY,
			listing_id   VARCHAR(32)   UNIQUE NOT NULL,
			url          TEXT          NOT NULL,
			price        NUMERIC(12,2) NOT NULL,
			year         INT           NOT NULL,
			mileage_km   NUMERIC(12,2),
			motor        NUMERIC(4,1),
			city         TEXT          NOT NULL DEFAULT '',
			state        VARCHAR(16)   NOT NULL,
			brand        TEXT          NOT NULL,
			model        TEXT          NOT NULL DEFAULT '',
			fuel         TEXT          NOT NULL,
			transmission TEXT          NOT NULL,
			color        TEXT          NOT NULL,
			extras       TEXT[]        NOT NULL DEFAULT '{}',
			fetched_at   TIMESTAMPTZ   NOT NULL,
			created_at   TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_car_listings_price ON car_listings(price);
		CREATE INDEX IF NOT EXISTS idx_car_listings_state ON car_listings(state);
		CREATE INDEX IF NOT EXISTS idx_car_listings_brand ON car_listings(brand);
		CREATE INDEX IF NOT EXISTS idx_car_listings_year  ON car_listings(year);
	`)
	return err
}

// Clear deletes all existing rows; the cleaned snapshot is regenerated whole.
func (pw *PostgresWriter) Clear() error {
	_, err := pw.db.Exec("DELETE FROM car_listings")
	if err != nil {
		return fmt.Errorf("postgres: clear: %w", err)
	}
	return nil
}

// Write rewrites the cleaned snapshot: clears old rows, then batch-inserts.
func (pw *PostgresWriter) Write(listings []*models.CleanedListing) error {
	if len(listings) == 0 {
		return nil
	}

	if err := pw.Clear(); err != nil {
		return err
	}

	const batchSize = 50
	for i := 0; i < len(listings); i += batchSize {
		end := i + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		if err := pw.insertBatch(listings[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (pw *PostgresWriter) insertBatch(batch []*models.CleanedListing) error {
	const cols = 15
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*cols)

	for idx, l := range batch {
		base := idx * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(ph, ",")+")")

		extras := l.Extras
		if extras == nil {
			extras = []string{}
		}
		valueArgs = append(valueArgs,
			l.ListingID, l.URL, l.Price, l.Year, l.Mileage, l.Motor, l.City,
			l.State, l.Brand, l.Model, l.Fuel, l.Transmission, l.Color,
			pq.Array(extras), l.FetchedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO car_listings (listing_id, url, price, year, mileage_km,
			motor, city, state, brand, model, fuel, transmission, color, extras, fetched_at)
		VALUES %s
		ON CONFLICT (listing_id) DO NOTHING
	`, strings.Join(valueStrings, ","))

	_, err := pw.db.Exec(query, valueArgs...)
	return err
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// FetchAll retrieves the stored cleaned snapshot, used to feed the feature
// builder from the same rows the database holds.
func (pw *PostgresWriter) FetchAll() ([]*models.CleanedListing, error) {
	rows, err := pw.db.Query(`
		SELECT listing_id, url, price, year, mileage_km, motor, city, state,
		       brand, model, fuel, transmission, color, extras, fetched_at
		FROM car_listings
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var listings []*models.CleanedListing
	for rows.Next() {
		l := &models.CleanedListing{}
		if err := rows.Scan(
			&l.ListingID, &l.URL, &l.Price, &l.Year, &l.Mileage, &l.Motor,
			&l.City, &l.State, &l.Brand, &l.Model, &l.Fuel, &l.Transmission,
			&l.Color, pq.Array(&l.Extras), &l.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
