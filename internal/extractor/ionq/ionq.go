// Package ionq extracts backends from the IonQ REST API.
package ionq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
)

// Name is the registry key of the IonQ extractor.
const Name = "ionq.backends"

const simulator = "simulator"

// New returns the IonQ extractor. It lists backends with verbose status and
// attaches the current characterization of every QPU.
func New(getter extractor.Getter) extractor.Extractor {
	return extractor.Func{
		FetchMethod: catalog.FetchAPI,
		Fn: func(ctx context.Context, in extractor.Input) ([]catalog.RawRecord, error) {
			api, ok := in.(extractor.APIInput)
			if !ok {
				return nil, fmt.Errorf("%w: %T", extractor.ErrInvalidInput, in)
			}
			return extract(ctx, getter, api)
		},
	}
}

func extract(ctx context.Context, getter extractor.Getter, in extractor.APIInput) ([]catalog.RawRecord, error) {
	base := strings.TrimRight(in.BaseURL, "/")
	list, err := extractor.GetJSON(ctx, getter, base+"/backends?status=verbose", in.Headers)
	if err != nil {
		return nil, fmt.Errorf("list ionq backends: %w", err)
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("list ionq backends: expected an array")
	}

	var (
		records []catalog.RawRecord
		errs    []error
	)
	for _, backend := range list.Array() {
		name := backend.Get("backend").String()
		payload := backend.Raw
		if name != simulator {
			payload, err = withCharacterization(ctx, getter, base, name, payload, in.Headers)
			if err != nil {
				// Keep going; the other backends are still usable.
				errs = append(errs, err)
				continue
			}
		}
		records = append(records, catalog.RawRecord{Provider: in.Provider, Payload: json.RawMessage(payload)})
	}
	return records, errors.Join(errs...)
}

func withCharacterization(
	ctx context.Context,
	getter extractor.Getter,
	base, name, payload string,
	headers map[string]string,
) (string, error) {
	endpoint := fmt.Sprintf("%s/characterizations/backends/%s/current", base, url.PathEscape(name))
	charact, err := extractor.GetJSON(ctx, getter, endpoint, headers)
	if err != nil {
		return "", fmt.Errorf("characterization of %s: %w", name, err)
	}
	out, err := sjson.Delete(payload, "characterization_url")
	if err != nil {
		return "", fmt.Errorf("strip characterization url of %s: %w", name, err)
	}
	out, err = sjson.Set(out, "extra.characterization_id", "ionq."+charact.Get("backend").String())
	if err != nil {
		return "", fmt.Errorf("set characterization id of %s: %w", name, err)
	}
	out, err = sjson.SetRaw(out, "extra.characterization", stripConnectivity(charact))
	if err != nil {
		return "", fmt.Errorf("set characterization of %s: %w", name, err)
	}
	return out, nil
}

func stripConnectivity(charact gjson.Result) string {
	out, err := sjson.Delete(charact.Raw, "connectivity")
	if err != nil {
		return charact.Raw
	}
	return out
}
