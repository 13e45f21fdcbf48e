// Package rigetti extracts the QPU published on the Rigetti QCS page.
package rigetti

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
)

// Name is the registry key of the Rigetti extractor.
const Name = "rigetti.backends"

// Section titles read from the page.
const (
	SectionSystem      = "System"
	SectionPerformance = "Performance Snapshot"
)

// ErrLayout is returned when the page no longer has the expected structure.
var ErrLayout = errors.New("rigetti page layout not recognized")

// New returns the Rigetti scraping extractor.
func New() extractor.Extractor {
	return extractor.Func{
		FetchMethod: catalog.FetchScraping,
		Fn: func(ctx context.Context, in extractor.Input) ([]catalog.RawRecord, error) {
			scrape, ok := in.(extractor.ScrapeInput)
			if !ok || scrape.Session == nil {
				return nil, fmt.Errorf("%w: %T", extractor.ErrInvalidInput, in)
			}
			if err := scrape.Session.WaitVisible(ctx, "h2"); err != nil {
				return nil, fmt.Errorf("wait for qpu heading: %w", err)
			}
			html, err := scrape.Session.HTML(ctx)
			if err != nil {
				return nil, err
			}
			payload, err := Parse(html)
			if err != nil {
				return nil, err
			}
			return []catalog.RawRecord{{Provider: scrape.Provider, Payload: payload}}, nil
		},
	}
}

// Parse reads the QPU name and its System and Performance Snapshot tables.
func Parse(html string) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rigetti page: %w", err)
	}
	fields := strings.Fields(doc.Find("h2").First().Text())
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no qpu heading", ErrLayout)
	}
	out := map[string]any{"backend": fields[0]}

	doc.Find("h3").Each(func(_ int, h3 *goquery.Selection) {
		title := strings.TrimSpace(h3.Text())
		if title != SectionSystem && title != SectionPerformance {
			return
		}
		section := map[string]string{}
		h3.Parent().Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() != 2 {
				return
			}
			key := strings.TrimSpace(cells.Eq(0).Text())
			section[key] = strings.TrimSpace(cells.Eq(1).Text())
		})
		out[title] = section
	})
	for _, title := range []string{SectionSystem, SectionPerformance} {
		if _, ok := out[title]; !ok {
			return nil, fmt.Errorf("%w: missing %q section", ErrLayout, title)
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode rigetti qpu: %w", err)
	}
	return payload, nil
}
