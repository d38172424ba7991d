package services

import (
	"fmt"
	"sort"
	"strings"

	"olx-car-pipeline/models"
	"olx-car-pipeline/utils"
)

// SummaryService prints the end-of-run accounting: per-stage accepted and
// rejected counts (so silent data loss is observable), price statistics and
// the category distribution after grouping.
type SummaryService struct {
	logger *utils.Logger
}

func NewSummaryService(logger *utils.Logger) *SummaryService {
	return &SummaryService{logger: logger}
}

// Print renders the run summary to stdout.
func (s *SummaryService) Print(crawl *models.CrawlStats, reports []*models.StageReport,
	cleaned []*models.CleanedListing, features []*models.FeatureRow) {

	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  OLX CAR PIPELINE — RUN SUMMARY\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	if crawl != nil {
		fmt.Printf("\033[1;33m  Crawl\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  Discovered        : \033[1m%d\033[0m\n", crawl.Discovered)
		fmt.Printf("  Skipped (known)   : \033[1m%d\033[0m\n", crawl.SkippedKnown)
		fmt.Printf("  Stored            : \033[1m%d\033[0m\n", crawl.Stored)
		fmt.Printf("  Failed (terminal) : \033[1m%d\033[0m\n", crawl.FailedFinal)
		fmt.Printf("  Failed (retries)  : \033[1m%d\033[0m\n", crawl.FailedRetry)
		fmt.Println()
	}

	for _, r := range reports {
		fmt.Printf("\033[1;33m  Stage: %s\033[0m\n", r.Stage)
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  Input %d → accepted \033[1;32m%d\033[0m, rejected \033[1;31m%d\033[0m\n",
			r.Input, r.Accepted, r.Rejected())
		for _, reason := range sortedReasons(r.RejectedBy) {
			fmt.Printf("    %-32s %d\n", reason, r.RejectedBy[reason])
		}
		fmt.Println()
	}

	if len(cleaned) > 0 {
		min, max, avg := priceStats(cleaned)
		fmt.Printf("\033[1;33m  Price Statistics (cleaned set)\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  Average price : \033[1;32mR$ %.2f\033[0m\n", avg)
		fmt.Printf("  Minimum price : \033[1;32mR$ %.2f\033[0m\n", min)
		fmt.Printf("  Maximum price : \033[1;32mR$ %.2f\033[0m\n", max)
		fmt.Println()
	}

	if len(features) > 0 {
		fmt.Printf("\033[1;33m  Feature Rows by State (after grouping)\033[0m\n")
		fmt.Printf("  %s\n", thin)
		printDistribution(countBy(features, func(f *models.FeatureRow) string { return f.State }))
		fmt.Println()

		fmt.Printf("\033[1;33m  Feature Rows by Brand (after grouping)\033[0m\n")
		fmt.Printf("  %s\n", thin)
		printDistribution(countBy(features, func(f *models.FeatureRow) string { return f.Brand }))
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func priceStats(cleaned []*models.CleanedListing) (min, max, avg float64) {
	min = cleaned[0].Price
	max = cleaned[0].Price
	var total float64
	for _, l := range cleaned {
		total += l.Price
		if l.Price < min {
			min = l.Price
		}
		if l.Price > max {
			max = l.Price
		}
	}
	return min, max, total / float64(len(cleaned))
}

func countBy(features []*models.FeatureRow, key func(*models.FeatureRow) string) map[string]int {
	counts := make(map[string]int)
	for _, f := range features {
		counts[key(f)]++
	}
	return counts
}

func printDistribution(counts map[string]int) {
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	maxCount := 0
	for name, count := range counts {
		entries = append(entries, entry{name, count})
		if count > maxCount {
			maxCount = count
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	const barWidth = 30
	for _, e := range entries {
		n := e.count * barWidth / maxCount
		if n == 0 {
			n = 1
		}
		fmt.Printf("  %-22s %s (%d)\n", truncate(e.name, 20), strings.Repeat("█", n), e.count)
	}
}

func sortedReasons(m map[string]int) []string {
	reasons := make([]string, 0, len(m))
	for r := range m {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	return reasons
}

// truncate shortens s to max runes; byte slicing would split accented names.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
