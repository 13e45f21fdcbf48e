// Package pricing scrapes the Amazon Braket price list and matches entries to
// catalogued Braket backends.
package pricing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	collyfetcher "github.com/JakeFAU/quantum-catalog/internal/fetcher/colly"
)

// ErrNoPriceTable is returned when the page has no recognizable QPU price table.
var ErrNoPriceTable = errors.New("pricing: no qpu price table on page")

// SimulatorPerMinute is the published per-minute price of the managed simulators.
const SimulatorPerMinute = "0.075"

// Entry is one row of the price list. Simulator rows have no hardware provider.
type Entry struct {
	HardwareProvider string `json:"hardware_provider,omitempty"`
	Family           string `json:"qpu_family"`
	TaskPrice        string `json:"task_price,omitempty"`
	ShotPrice        string `json:"shot_price,omitempty"`
	PerMinutePrice   string `json:"per_minute_price,omitempty"`
}

// Simulators returns the fixed simulator price entries.
func Simulators() []Entry {
	return []Entry{
		{Family: "DM1", PerMinutePrice: SimulatorPerMinute},
		{Family: "SV1", PerMinutePrice: SimulatorPerMinute},
		{Family: "TN1", PerMinutePrice: SimulatorPerMinute},
	}
}

// Getter performs the page GET.
type Getter interface {
	Fetch(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error)
}

// Scraper reads the QPU price table from the pricing page.
type Scraper struct {
	getter Getter
	url    string
}

// NewScraper returns a Scraper for the page at url.
func NewScraper(getter Getter, url string) *Scraper {
	return &Scraper{getter: getter, url: url}
}

// Prices returns the scraped QPU entries followed by the simulator entries.
func (s *Scraper) Prices(ctx context.Context) ([]Entry, error) {
	resp, err := s.getter.Fetch(ctx, collyfetcher.Request{URL: s.url})
	if err != nil {
		return nil, fmt.Errorf("fetch pricing page: %w", err)
	}
	entries, err := ParseTable(resp.Body)
	if err != nil {
		return nil, err
	}
	return append(entries, Simulators()...), nil
}

// ParseTable extracts the first table whose header names a QPU family column.
func ParseTable(html []byte) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse pricing page: %w", err)
	}
	var entries []Entry
	found := false
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		header := strings.ToLower(table.Find("tr").First().Text())
		if !strings.Contains(header, "family") {
			return true
		}
		found = true
		table.Find("tr").Slice(1, goquery.ToEnd).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 4 {
				return
			}
			entries = append(entries, Entry{
				HardwareProvider: strings.TrimSpace(cells.Eq(0).Text()),
				Family:           strings.TrimSpace(cells.Eq(1).Text()),
				TaskPrice:        price(cells.Eq(2).Text()),
				ShotPrice:        price(cells.Eq(3).Text()),
			})
		})
		return false
	})
	if !found {
		return nil, ErrNoPriceTable
	}
	return entries, nil
}

// price keeps the leading amount of a cell such as "$0.30000 USD" or "0,30000 USD".
func price(cell string) string {
	fields := strings.Fields(cell)
	if len(fields) == 0 {
		return ""
	}
	return strings.ReplaceAll(strings.TrimPrefix(fields[0], "$"), ",", ".")
}
