package catalog

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClassType discriminates the provider family of a backend.
type ClassType string

// Known backend families.
const (
	ClassIonQ    ClassType = "IonQ"
	ClassIBM     ClassType = "IBM"
	ClassRigetti ClassType = "Rigetti"
	ClassBraket  ClassType = "Braket"
)

// QueueType says how a queue value should be read.
type QueueType string

// Queue representations.
const (
	QueueAvgTime       QueueType = "avg_time"
	QueueJobsRemaining QueueType = "jobs_remaining"
)

// Queue is the backend's current queue indicator.
type Queue struct {
	Type  QueueType `json:"type"`
	Value string    `json:"value"`
}

// Backend is the canonical record for a single quantum system or simulator.
type Backend struct {
	ID          string      `json:"id,omitempty"`
	BID         string      `json:"bid"`
	ClassType   ClassType   `json:"class_type"`
	Provider    ProviderRef `json:"provider"`
	Name        string      `json:"backend_name"`
	LastChecked time.Time   `json:"last_checked"`
	Extra       []string    `json:"extra"`
	Pricing     *Pricing    `json:"pricing,omitempty"`
	Details     Details     `json:"-"`
}

// Details holds the family-specific attributes of a backend. The concrete type
// is one of IonQDetails, IBMDetails, RigettiDetails or BraketDetails.
type Details interface {
	Class() ClassType
}

// IonQDetails are the attributes reported by the IonQ API.
type IonQDetails struct {
	Status           string         `json:"status"`
	Qubits           int            `json:"qubits"`
	Queue            Queue          `json:"queue"`
	LastUpdated      time.Time      `json:"last_updated"`
	Degraded         bool           `json:"degraded"`
	HasAccess        bool           `json:"has_access"`
	NoiseModels      []string       `json:"noise_models,omitempty"`
	Characterization map[string]any `json:"characterization,omitempty"`
}

// IBMDetails are the attributes reported by the IBM Quantum runtime API.
type IBMDetails struct {
	Status          string    `json:"status"`
	Qubits          int       `json:"qubits"`
	Queue           Queue     `json:"queue"`
	LastUpdated     time.Time `json:"last_updated"`
	BasisGates      []string  `json:"basis_gates"`
	ClopsH          *int      `json:"clops_h,omitempty"`
	CreditsRequired bool      `json:"credits_required"`
	MaxExperiments  int       `json:"max_experiments"`
	MaxShots        int       `json:"max_shots"`
}

// RigettiDetails are the metrics published on the Rigetti QPU page, kept verbatim.
type RigettiDetails struct {
	Qubits                    int    `json:"qubits"`
	RepRate                   string `json:"rep_rate,omitempty"`
	MedianT1                  string `json:"median_t1,omitempty"`
	MedianT2                  string `json:"median_t2,omitempty"`
	MedianSim1QFidelity       string `json:"median_sim_1q_fidelity,omitempty"`
	Median2QXYFidelity        string `json:"median_2q_xy_fidelity,omitempty"`
	Median2QCZFidelity        string `json:"median_2q_cz_fidelity,omitempty"`
	MedianROFidelity          string `json:"median_ro_fidelity,omitempty"`
	MedianActiveResetFidelity string `json:"median_active_reset_fidelity,omitempty"`
}

// BraketDetails are the attributes reported by Amazon Braket device capabilities.
type BraketDetails struct {
	Status         string     `json:"status"`
	Qubits         int        `json:"qubits"`
	Queue          Queue      `json:"queue"`
	GatesSupported []string   `json:"gates_supported"`
	ShotsRange     ShotsRange `json:"shots_range"`
	DeviceCost     DeviceCost `json:"device_cost"`
}

// ShotsRange bounds the number of shots a device accepts.
type ShotsRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DeviceCost is the vendor-declared price of a device.
type DeviceCost struct {
	Price float64 `json:"price"`
	Unit  string  `json:"unit"`
}

// Pricing is the externally scraped price list entry matched to a backend.
type Pricing struct {
	Family         string `json:"family"`
	TaskPrice      string `json:"task_price,omitempty"`
	ShotPrice      string `json:"shot_price,omitempty"`
	PerMinutePrice string `json:"per_minute_price,omitempty"`
}

// Class implements Details.
func (IonQDetails) Class() ClassType { return ClassIonQ }

// Class implements Details.
func (IBMDetails) Class() ClassType { return ClassIBM }

// Class implements Details.
func (RigettiDetails) Class() ClassType { return ClassRigetti }

// Class implements Details.
func (BraketDetails) Class() ClassType { return ClassBraket }

type backendAlias Backend

// MarshalJSON flattens the family details next to the common fields.
func (b Backend) MarshalJSON() ([]byte, error) {
	alias := backendAlias(b)
	if alias.Extra == nil {
		alias.Extra = []string{}
	}
	head, err := json.Marshal(alias)
	if err != nil {
		return nil, fmt.Errorf("marshal backend %s: %w", b.BID, err)
	}
	if b.Details == nil {
		return head, nil
	}
	body, err := json.Marshal(b.Details)
	if err != nil {
		return nil, fmt.Errorf("marshal %s details: %w", b.ClassType, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s details: %w", b.ClassType, err)
	}
	// Common fields win over any clashing detail key.
	if err := json.Unmarshal(head, &fields); err != nil {
		return nil, fmt.Errorf("flatten backend: %w", err)
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal backend %s: %w", b.BID, err)
	}
	return out, nil
}

// UnmarshalJSON decodes the common fields and the class_type-selected details.
func (b *Backend) UnmarshalJSON(data []byte) error {
	var alias backendAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("unmarshal backend: %w", err)
	}
	var details Details
	switch alias.ClassType {
	case ClassIonQ:
		var d IonQDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("unmarshal IonQ details: %w", err)
		}
		details = d
	case ClassIBM:
		var d IBMDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("unmarshal IBM details: %w", err)
		}
		details = d
	case ClassRigetti:
		var d RigettiDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("unmarshal Rigetti details: %w", err)
		}
		details = d
	case ClassBraket:
		var d BraketDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("unmarshal Braket details: %w", err)
		}
		details = d
	default:
		return fmt.Errorf("%w: unknown class_type %q", ErrMalformed, alias.ClassType)
	}
	*b = Backend(alias)
	b.Details = details
	return nil
}

// alwaysProjected are returned regardless of the requested fields.
var alwaysProjected = []string{"id", "bid", "class_type", "provider", "backend_name"}

// Project returns b as a JSON object restricted to fields plus the identifying
// keys. An empty field list returns every populated key.
func Project(b Backend, fields []string) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	all := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("project backend %s: %w", b.BID, err)
	}
	if len(fields) == 0 {
		return all, nil
	}
	out := make(map[string]json.RawMessage, len(fields)+len(alwaysProjected))
	for _, key := range alwaysProjected {
		if v, ok := all[key]; ok {
			out[key] = v
		}
	}
	for _, key := range fields {
		if v, ok := all[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}
