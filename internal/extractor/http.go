package extractor

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	collyfetcher "github.com/JakeFAU/quantum-catalog/internal/fetcher/colly"
)

// Getter performs the HTTP GETs of API extractors.
type Getter interface {
	Fetch(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error)
}

// GetJSON fetches url with headers and returns the parsed body. A body that is
// not valid JSON is an error.
func GetJSON(ctx context.Context, getter Getter, url string, headers map[string]string) (gjson.Result, error) {
	resp, err := getter.Fetch(ctx, collyfetcher.Request{URL: url, Headers: headers})
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(resp.Body) {
		return gjson.Result{}, fmt.Errorf("GET %s: response is not JSON", url)
	}
	return gjson.ParseBytes(resp.Body), nil
}
