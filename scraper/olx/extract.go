package olx

import (
	"database/sql"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"olx-car-pipeline/models"
)

var (
	// listingIDRegexp captures the numeric ad ID OLX puts at the end of every
	// listing URL, e.g. .../hilux-2012-diesel-1234567890
	listingIDRegexp = regexp.MustCompile(`-(\d+)(?:\?.*)?$`)
	digitRegexp     = regexp.MustCompile(`\d`)
)

// Summary is one ad discovered on a search-results page. Only the detail
// page yields a full RawListing.
type Summary struct {
	ListingID string
	URL       string
	Title     string
	PriceText string
	MotorText string // engine displacement badge, e.g. "1.0"
}

// ListingIDFromURL parses the numeric ad identifier out of an OLX ad URL.
func ListingIDFromURL(url string) string {
	m := listingIDRegexp.FindStringSubmatch(strings.TrimRight(url, "/"))
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractSearchPage parses one rendered search-results page into ad
// summaries. A page with zero ad cards returns an empty slice, not an error:
// that is how pagination naturally terminates.
func ExtractSearchPage(html string) ([]*Summary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &models.ExtractionError{Reason: models.ReasonEmptyPage}
	}

	var out []*Summary
	doc.Find(`div[class^="olx-adcard__content"]`).Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find("a").First().Attr("href")
		if !ok {
			return
		}
		id := ListingIDFromURL(href)
		if id == "" {
			return
		}
		out = append(out, &Summary{
			ListingID: id,
			URL:       href,
			Title:     cleanText(card.Find(`h2[class^="typo-body-large"]`).First().Text()),
			PriceText: cleanText(card.Find(`h3[class^="typo-body-large"]`).First().Text()),
			MotorText: cleanText(card.Find(`[aria-label^="Motor"]`).First().Text()),
		})
	})
	return out, nil
}

// ExtractListing parses one rendered ad detail page into a RawListing. It is
// a pure function of the page content: a field genuinely absent on the ad is
// recorded as absent (NullString with Valid=false), while a structurally
// broken page fails with an ExtractionError.
func ExtractListing(html, url string, fetchedAt time.Time) (*models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &models.ExtractionError{URL: url, Reason: models.ReasonEmptyPage}
	}
	if cleanText(doc.Find("body").Text()) == "" {
		return nil, &models.ExtractionError{URL: url, Reason: models.ReasonEmptyPage}
	}

	id := ListingIDFromURL(url)
	if id == "" {
		return nil, &models.ExtractionError{URL: url, Reason: models.ReasonMissingSelector}
	}

	title := cleanText(doc.Find(`h1[data-section="title"], h1`).First().Text())
	if title == "" {
		return nil, &models.ExtractionError{URL: url, Reason: models.ReasonMissingSelector}
	}

	listing := &models.RawListing{
		ListingID: id,
		URL:       url,
		Title:     present(title),
		FetchedAt: fetchedAt,
	}

	// Price: the ad may legitimately omit it ("a combinar"), but a price
	// element without a single digit is a broken page, not a missing field.
	priceSel := doc.Find(`[data-section="price"] h2, h2[class^="olx-text--title"]`).First()
	if priceSel.Length() > 0 {
		priceText := cleanText(priceSel.Text())
		if priceText != "" && !digitRegexp.MatchString(priceText) {
			return nil, &models.ExtractionError{URL: url, Reason: models.ReasonMalformedPrice}
		}
		listing.PriceText = present(priceText)
	}

	// Technical detail panel: overline span holds the field name, the
	// remaining span (or link) holds the value.
	details := make(map[string]string)
	doc.Find(`#details [data-ds-component="DS-Container"]`).Each(func(_ int, s *goquery.Selection) {
		key := normalizeOptionName(s.Find(`span[data-variant="overline"]`).First().Text())
		if key == "" {
			return
		}
		val := cleanText(s.Find(`span:not([data-variant="overline"]), a`).Last().Text())
		if val != "" {
			details[key] = val
		}
	})

	listing.Brand = presentFrom(details, "marca")
	listing.Model = presentFrom(details, "modelo")
	listing.MileageText = presentFrom(details, "quilometragem")
	listing.Fuel = presentFrom(details, "combustivel")
	listing.Transmission = presentFrom(details, "cambio")
	listing.Color = presentFrom(details, "cor")
	listing.MotorText = presentFrom(details, "potencia_do_motor")

	// Some ads only carry the displacement as a badge, not a panel row.
	if !listing.MotorText.Valid {
		if m := cleanText(doc.Find(`[aria-label^="Motor"]`).First().Text()); m != "" {
			listing.MotorText = present(m)
		}
	}

	if desc := cleanText(doc.Find(`[data-section="description"]`).First().Text()); desc != "" {
		listing.Description = present(desc)
	}

	// Location line: "city, state[, zip]" rendered in the location block.
	if loc := cleanText(doc.Find(`[data-section="location"] span.olx-text--body-small, span.olx-text--body-small`).First().Text()); loc != "" {
		listing.LocationText = present(loc)
	}

	listing.Extras = extractExtras(doc)

	return listing, nil
}

// extractExtras collects the optional-extras set: order-insensitive,
// deduplicated, names normalized so downstream membership checks are stable.
func extractExtras(doc *goquery.Document) []string {
	set := make(map[string]struct{})
	doc.Find(`div[class^="ad__sc-1jr3zuf-1"], [data-section="extras"] div`).Each(func(_ int, s *goquery.Selection) {
		for _, line := range strings.Split(s.Text(), "\n") {
			if name := normalizeOptionName(line); name != "" {
				set[name] = struct{}{}
			}
		}
	})
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeOptionName lowercases, strips accents and collapses everything
// that is not alphanumeric into single underscores, so "Tração 4x4" and
// "tracao  4X4" both become "tracao_4x4".
func normalizeOptionName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if stripped, _, err := transform.String(accentStripper, s); err == nil {
		s = stripped
	}
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// cleanText trims and collapses internal whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func present(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func presentFrom(details map[string]string, key string) sql.NullString {
	if v, ok := details[key]; ok {
		return present(v)
	}
	return sql.NullString{}
}
