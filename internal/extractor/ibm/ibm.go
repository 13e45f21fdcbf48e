// Package ibm extracts backends from the IBM Quantum runtime API.
package ibm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
)

// Name is the registry key of the IBM extractor.
const Name = "ibm.backends"

// New returns the IBM extractor. Simulators are skipped; every device is
// assembled from its status, properties and configuration documents.
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

// device is the raw shape handed to the normalizer.
type device struct {
	Backend     string        `json:"backend"`
	Status      string        `json:"status"`
	Qubits      int64         `json:"qubits"`
	Queue       int64         `json:"queue"`
	LastUpdated string        `json:"last_updated"`
	Extra       configuration `json:"extra"`
}

type configuration struct {
	BasisGates      []string `json:"basis_gates"`
	ClopsH          *int64   `json:"clops_h"`
	CreditsRequired bool     `json:"credits_required"`
	Description     string   `json:"description"`
	MaxExperiments  int64    `json:"max_experiments"`
	MaxShots        int64    `json:"max_shots"`
}

func extract(ctx context.Context, getter extractor.Getter, in extractor.APIInput) ([]catalog.RawRecord, error) {
	base := strings.TrimRight(in.BaseURL, "/")
	list, err := extractor.GetJSON(ctx, getter, base+"/backends", in.Headers)
	if err != nil {
		return nil, fmt.Errorf("list ibm backends: %w", err)
	}

	var (
		records []catalog.RawRecord
		errs    []error
	)
	for _, name := range list.Get("devices").Array() {
		backend := name.String()
		if strings.Contains(backend, "simulator") {
			continue
		}
		dev, err := fetchDevice(ctx, getter, base, backend, in.Headers)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		payload, err := json.Marshal(dev)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", backend, err))
			continue
		}
		records = append(records, catalog.RawRecord{Provider: in.Provider, Payload: payload})
	}
	return records, errors.Join(errs...)
}

func fetchDevice(
	ctx context.Context,
	getter extractor.Getter,
	base, backend string,
	headers map[string]string,
) (device, error) {
	prefix := base + "/backends/" + url.PathEscape(backend)
	status, err := extractor.GetJSON(ctx, getter, prefix+"/status", headers)
	if err != nil {
		return device{}, fmt.Errorf("status of %s: %w", backend, err)
	}
	props, err := extractor.GetJSON(ctx, getter, prefix+"/properties", headers)
	if err != nil {
		return device{}, fmt.Errorf("properties of %s: %w", backend, err)
	}
	conf, err := extractor.GetJSON(ctx, getter, prefix+"/configuration", headers)
	if err != nil {
		return device{}, fmt.Errorf("configuration of %s: %w", backend, err)
	}

	dev := device{
		Backend:     backend,
		Status:      status.Get("message").String(),
		Qubits:      conf.Get("n_qubits").Int(),
		Queue:       status.Get("length_queue").Int(),
		LastUpdated: props.Get("last_update_date").String(),
		Extra: configuration{
			CreditsRequired: conf.Get("credits_required").Bool(),
			Description:     conf.Get("description").String(),
			MaxExperiments:  conf.Get("max_experiments").Int(),
			MaxShots:        conf.Get("max_shots").Int(),
			BasisGates:      []string{},
		},
	}
	for _, gate := range conf.Get("basis_gates").Array() {
		dev.Extra.BasisGates = append(dev.Extra.BasisGates, gate.String())
	}
	if clops := conf.Get("clops_h"); clops.Exists() && clops.Type != gjson.Null {
		v := clops.Int()
		dev.Extra.ClopsH = &v
	}
	return dev, nil
}
