package storage

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"olx-car-pipeline/models"
)

func sampleRaw(id string, ts time.Time) *models.RawListing {
	return &models.RawListing{
		ListingID:    id,
		URL:          "https://www.olx.com.br/carros/ad-" + id,
		Title:        sql.NullString{String: "Honda Civic 2020", Valid: true},
		PriceText:    sql.NullString{String: "R$ 95.000", Valid: true},
		LocationText: sql.NullString{String: "Curitiba, PR", Valid: true},
		MotorText:    sql.NullString{String: "2.0", Valid: true},
		Extras:       []string{"bancos_de_couro", "teto_solar"},
		FetchedAt:    ts,
	}
}

func TestRawStoreAppendAndDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	store, err := OpenRawStore(path)
	if err != nil {
		t.Fatalf("OpenRawStore: %v", err)
	}
	defer store.Close()

	ts := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	if err := store.Append(sampleRaw("1", ts)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Identical (ListingID, timestamp): must be a no-op, not a duplicate row.
	if err := store.Append(sampleRaw("1", ts)); err != nil {
		t.Fatalf("idempotent Append: %v", err)
	}
	// Same listing, later crawl: a new observation.
	if err := store.Append(sampleRaw("1", ts.Add(time.Hour))); err != nil {
		t.Fatalf("Append second observation: %v", err)
	}

	if store.Rows() != 2 {
		t.Errorf("Rows: got %d, want 2", store.Rows())
	}
	if !store.HasListing("1") {
		t.Error("HasListing(1) should be true")
	}
	if store.HasListing("2") {
		t.Error("HasListing(2) should be false")
	}
}

func TestRawStoreRefusesEmptyListingID(t *testing.T) {
	store, err := OpenRawStore(filepath.Join(t.TempDir(), "raw.csv"))
	if err != nil {
		t.Fatalf("OpenRawStore: %v", err)
	}
	defer store.Close()

	if err := store.Append(sampleRaw("", time.Now())); err == nil {
		t.Error("Append with empty ListingID must fail")
	}
}

func TestRawStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	store, err := OpenRawStore(path)
	if err != nil {
		t.Fatalf("OpenRawStore: %v", err)
	}

	ts := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	in := sampleRaw("42", ts)
	in.Brand = sql.NullString{} // absent on the page

	if err := store.Append(in); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("ReadAll: got %d rows, want 1", len(rows))
	}

	got := rows[0]
	if got.ListingID != "42" {
		t.Errorf("ListingID: got %q", got.ListingID)
	}
	if !got.FetchedAt.Equal(ts) {
		t.Errorf("FetchedAt: got %v, want %v", got.FetchedAt, ts)
	}
	if !got.Title.Valid || got.Title.String != "Honda Civic 2020" {
		t.Errorf("Title: got %+v", got.Title)
	}
	if got.Brand.Valid {
		t.Errorf("Brand must round-trip as absent, got %q", got.Brand.String)
	}
	if !got.MotorText.Valid || got.MotorText.String != "2.0" {
		t.Errorf("MotorText: got %+v", got.MotorText)
	}
	if len(got.Extras) != 2 || got.Extras[0] != "bancos_de_couro" {
		t.Errorf("Extras: got %v", got.Extras)
	}
	store.Close()
}

func TestRawStoreResumeAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	ts := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	store, err := OpenRawStore(path)
	if err != nil {
		t.Fatalf("OpenRawStore: %v", err)
	}
	if err := store.Append(sampleRaw("1", ts)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	store.Close()

	// A re-run must see the stored listing and treat re-appends as no-ops.
	reopened, err := OpenRawStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if !reopened.HasListing("1") {
		t.Error("reopened store must remember listing 1")
	}
	if err := reopened.Append(sampleRaw("1", ts)); err != nil {
		t.Fatalf("re-append: %v", err)
	}
	if reopened.Rows() != 1 {
		t.Errorf("Rows after idempotent re-append: got %d, want 1", reopened.Rows())
	}

	rows, err := reopened.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("on-disk rows: got %d, want 1", len(rows))
	}
}

func TestRawStoreConcurrentAppends(t *testing.T) {
	store, err := OpenRawStore(filepath.Join(t.TempDir(), "raw.csv"))
	if err != nil {
		t.Fatalf("OpenRawStore: %v", err)
	}
	defer store.Close()

	ts := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the goroutines race on the same key.
			id := "same"
			if i%2 == 0 {
				id = string(rune('a' + i))
			}
			_ = store.Append(sampleRaw(id, ts))
		}(i)
	}
	wg.Wait()

	rows, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 11 { // 10 unique + 1 shared
		t.Errorf("rows: got %d, want 11", len(rows))
	}
}
