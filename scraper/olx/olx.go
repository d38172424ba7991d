package olx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"olx-car-pipeline/config"
	"olx-car-pipeline/models"
	"olx-car-pipeline/storage"
	"olx-car-pipeline/utils"
)

const searchURL = "https://www.olx.com.br/autos-e-pecas/carros-vans-e-utilitarios"

// Scraper crawls OLX car listings: paginated search discovery, then one
// detail-page fetch + extraction per new listing, streamed straight into the
// raw store so partial progress survives a mid-crawl failure.
type Scraper struct {
	cfg    *config.Config
	logger *utils.Logger
	store  storage.RawAppender
	pool   *utils.WorkerPool
	seen   *utils.IDSet
	retry  *utils.RetryConfig

	mu    sync.Mutex
	stats models.CrawlStats
}

// New creates a ready-to-use OLX Scraper writing to the given raw store.
func New(cfg *config.Config, logger *utils.Logger, store storage.RawAppender) *Scraper {
	return &Scraper{
		cfg:    cfg,
		logger: logger,
		store:  store,
		pool:   utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs),
		seen:   utils.NewIDSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// Crawl walks search pages until the configured page budget is spent or a
// page yields zero new listing IDs, fetching detail pages concurrently.
// Cancellation of ctx stops the crawl between listings; in-flight fetches
// finish or time out on their own.
func (s *Scraper) Crawl(ctx context.Context) (*models.CrawlStats, error) {
	s.logger.Info("[olx] Starting crawl — up to %d pages, concurrency %d, min delay %dms",
		s.cfg.PagesToScrape, s.cfg.MaxConcurrency, s.cfg.RateLimitMs)

	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[olx] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise.
	allocCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelSilent()

	pagesCrawled := 0
	for page := 1; page <= s.cfg.PagesToScrape; page++ {
		if ctx.Err() != nil {
			s.logger.Warn("[olx] Crawl cancelled after %d pages", pagesCrawled)
			break
		}

		pageURL := fmt.Sprintf("%s?o=%d", searchURL, page)
		s.logger.Info("[olx] Search page %d/%d — %s", page, s.cfg.PagesToScrape, pageURL)

		summaries, err := s.discoverPage(ctx, allocCtx, pageURL, page)
		if err != nil {
			if page == 1 {
				// Never reached the source at all: fatal to the run.
				return s.snapshotStats(), fmt.Errorf("olx: first search page unreachable: %w", err)
			}
			s.logger.Error("[olx] Search page %d failed: %v — stopping pagination", page, err)
			break
		}
		pagesCrawled++

		fresh := s.enqueueNew(ctx, allocCtx, summaries)
		s.logger.Info("[olx] Page %d: %d ads on page, %d new", page, len(summaries), fresh)
		if fresh == 0 {
			s.logger.Info("[olx] Page %d yielded no new listings — stopping pagination", page)
			break
		}
	}

	s.pool.Wait()

	stats := s.snapshotStats()
	s.logger.Info("[olx] Crawl complete — discovered %d | skipped known %d | stored %d | terminal failures %d | retry-exhausted %d",
		stats.Discovered, stats.SkippedKnown, stats.Stored, stats.FailedFinal, stats.FailedRetry)
	return stats, nil
}

// discoverPage renders one search-results page and extracts ad summaries.
func (s *Scraper) discoverPage(ctx, allocCtx context.Context, pageURL string, pageNum int) ([]*Summary, error) {
	var summaries []*Summary

	err := s.retry.Do(ctx, fmt.Sprintf("search-page-%d", pageNum), func() error {
		html, err := s.renderPage(allocCtx, pageURL, 90*time.Second)
		if err != nil {
			return err
		}
		summaries, err = ExtractSearchPage(html)
		return err
	})
	return summaries, err
}

// enqueueNew submits detail-page jobs for listings not yet in the raw store
// (unless force-refetch is on) and not already seen this run. Returns how
// many IDs were new relative to the store, which drives pagination stop.
func (s *Scraper) enqueueNew(ctx, allocCtx context.Context, summaries []*Summary) int {
	fresh := 0
	for _, sum := range summaries {
		sum := sum
		if !s.seen.Add(sum.ListingID) {
			continue
		}
		s.addStat(func(st *models.CrawlStats) { st.Discovered++ })

		if !s.cfg.ForceRefetch && s.store.HasListing(sum.ListingID) {
			s.addStat(func(st *models.CrawlStats) { st.SkippedKnown++ })
			s.logger.Debug("[olx] Skipping already-stored listing %s", sum.ListingID)
			continue
		}
		fresh++

		s.pool.Submit(ctx, func() {
			s.processListing(ctx, allocCtx, sum)
		})
	}
	return fresh
}

// processListing drives one listing through fetch → render → extract →
// store. Extraction failure discards the listing; nothing partial is ever
// written.
func (s *Scraper) processListing(ctx, allocCtx context.Context, sum *Summary) {
	var listing *models.RawListing

	err := s.retry.Do(ctx, "listing-"+sum.ListingID, func() error {
		html, err := s.renderPage(allocCtx, sum.URL, 60*time.Second)
		if err != nil {
			return err
		}
		listing, err = ExtractListing(html, sum.URL, time.Now().UTC())
		if err != nil {
			return err
		}
		// The search card carries a displacement badge some detail pages omit.
		if !listing.MotorText.Valid && sum.MotorText != "" {
			listing.MotorText = present(sum.MotorText)
		}
		return nil
	})

	if err != nil {
		var ee *models.ExtractionError
		if errors.As(err, &ee) {
			s.addStat(func(st *models.CrawlStats) { st.FailedFinal++ })
			s.logger.Warn("[olx] Listing %s unparseable (%s) — skipped", sum.ListingID, ee.Reason)
		} else {
			s.addStat(func(st *models.CrawlStats) { st.FailedRetry++ })
			s.logger.Warn("[olx] Listing %s failed: %v", sum.ListingID, err)
		}
		return
	}

	if err := s.store.Append(listing); err != nil {
		s.logger.Error("[olx] Store append failed for %s: %v", listing.ListingID, err)
		return
	}
	s.addStat(func(st *models.CrawlStats) { st.Stored++ })
	s.logger.Debug("[olx] Stored %s — %s", listing.ListingID, listing.Title.String)
}

// renderPage navigates to url in a fresh tab, lets dynamic content settle
// and returns the rendered HTML. All failures here are FetchErrors and thus
// retryable.
func (s *Scraper) renderPage(allocCtx context.Context, url string, timeout time.Duration) (string, error) {
	tabCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(4*time.Second),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", &models.FetchError{URL: url, Err: err}
	}
	return html, nil
}

func (s *Scraper) addStat(f func(*models.CrawlStats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

func (s *Scraper) snapshotStats() *models.CrawlStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	return &st
}

// findChromeBinary locates a Chrome/Chromium binary, preferring the
// configured path.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
