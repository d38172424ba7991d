package storage

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"olx-car-pipeline/models"
)

// nullMarker encodes "field absent on the page" in the raw CSV, so a blank
// scraped value and an unscraped field stay distinguishable.
const nullMarker = `\N`

const extrasSeparator = "|"

var rawHeader = []string{
	"listing_id", "fetched_at", "url", "title", "price_text", "location_text",
	"mileage_text", "motor_text", "fuel", "transmission", "color", "brand",
	"model", "description", "extras",
}

// RawStore is the append-only raw snapshot: one CSV row per
// (ListingID, fetched-at) observation. Rows are never mutated or removed;
// re-appending an identical key is a no-op. All writes go through a single
// mutex so parallel crawler workers cannot interleave rows.
type RawStore struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	keys   map[string]struct{} // (listing_id, fetched_at) pairs
	ids    map[string]struct{} // listing_ids, for crawl resume
}

// OpenRawStore opens (or creates) the raw snapshot at path and indexes the
// existing rows so appends stay idempotent across runs.
func OpenRawStore(path string) (*RawStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("rawstore: create dir: %w", err)
	}

	s := &RawStore{
		path: path,
		keys: make(map[string]struct{}),
		ids:  make(map[string]struct{}),
	}

	existing, err := readRawRows(path)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		s.keys[rawKey(r.ListingID, r.FetchedAt)] = struct{}{}
		s.ids[r.ListingID] = struct{}{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("rawstore: open %q: %w", path, err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)

	if len(existing) == 0 {
		if fi, err := f.Stat(); err == nil && fi.Size() == 0 {
			if err := s.writer.Write(rawHeader); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("rawstore: write header: %w", err)
			}
			s.writer.Flush()
		}
	}

	return s, nil
}

// Append adds one observation. A listing with an empty ID is refused;
// an exact (ListingID, fetched-at) duplicate is silently dropped.
func (s *RawStore) Append(l *models.RawListing) error {
	if l.ListingID == "" {
		return fmt.Errorf("rawstore: refusing listing with empty ID (url %q)", l.URL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rawKey(l.ListingID, l.FetchedAt)
	if _, dup := s.keys[key]; dup {
		return nil
	}

	row := []string{
		l.ListingID,
		l.FetchedAt.UTC().Format(time.RFC3339),
		l.URL,
		encodeNull(l.Title),
		encodeNull(l.PriceText),
		encodeNull(l.LocationText),
		encodeNull(l.MileageText),
		encodeNull(l.MotorText),
		encodeNull(l.Fuel),
		encodeNull(l.Transmission),
		encodeNull(l.Color),
		encodeNull(l.Brand),
		encodeNull(l.Model),
		encodeNull(l.Description),
		strings.Join(l.Extras, extrasSeparator),
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("rawstore: write row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("rawstore: flush: %w", err)
	}

	s.keys[key] = struct{}{}
	s.ids[l.ListingID] = struct{}{}
	return nil
}

// HasListing reports whether any observation of the given listing is stored.
func (s *RawStore) HasListing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Rows returns the number of stored observations.
func (s *RawStore) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// ReadAll returns every stored observation, in append order.
func (s *RawStore) ReadAll() ([]*models.RawListing, error) {
	s.mu.Lock()
	s.writer.Flush()
	s.mu.Unlock()
	return readRawRows(s.path)
}

// Close flushes and closes the underlying file.
func (s *RawStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	return s.file.Close()
}

func rawKey(id string, ts time.Time) string {
	return id + "@" + ts.UTC().Format(time.RFC3339)
}

func encodeNull(v sql.NullString) string {
	if !v.Valid {
		return nullMarker
	}
	return v.String
}

func decodeNull(v string) sql.NullString {
	if v == nullMarker {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func readRawRows(path string) ([]*models.RawListing, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rawstore: open for read: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(rawHeader)

	var out []*models.RawListing
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rawstore: corrupt snapshot %q: %w", path, err)
		}
		if first {
			first = false
			if rec[0] == rawHeader[0] {
				continue
			}
		}

		fetchedAt, err := time.Parse(time.RFC3339, rec[1])
		if err != nil {
			return nil, fmt.Errorf("rawstore: corrupt snapshot %q: bad timestamp %q: %w", path, rec[1], err)
		}

		var extras []string
		if rec[14] != "" {
			extras = strings.Split(rec[14], extrasSeparator)
		}

		out = append(out, &models.RawListing{
			ListingID:    rec[0],
			FetchedAt:    fetchedAt,
			URL:          rec[2],
			Title:        decodeNull(rec[3]),
			PriceText:    decodeNull(rec[4]),
			LocationText: decodeNull(rec[5]),
			MileageText:  decodeNull(rec[6]),
			MotorText:    decodeNull(rec[7]),
			Fuel:         decodeNull(rec[8]),
			Transmission: decodeNull(rec[9]),
			Color:        decodeNull(rec[10]),
			Brand:        decodeNull(rec[11]),
			Model:        decodeNull(rec[12]),
			Description:  decodeNull(rec[13]),
			Extras:       extras,
		})
	}
	return out, nil
}
