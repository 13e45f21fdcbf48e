// Package normalize maps provider-shaped raw records onto the canonical backend
// schema. Records are routed on their origin first: anything that came through
// a third-party platform is handled by that platform's family, everything else
// by the family of the native provider.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

// Native provider names with a known family.
const (
	ProviderIonQ    = "IonQ"
	ProviderIBM     = "IBM Quantum"
	ProviderRigetti = "Rigetti"
)

var (
	// ErrUnsupportedProvider is returned for records whose family is unknown.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrInvalidRecord is returned when a payload lacks a field its family needs.
	ErrInvalidRecord = errors.New("invalid raw record")
)

type family func(raw gjson.Result) (catalog.Backend, error)

var (
	nativeFamilies = map[string]family{
		ProviderIonQ:    ionq,
		ProviderIBM:     ibm,
		ProviderRigetti: rigetti,
	}
	thirdPartyFamilies = map[string]family{
		catalog.PlatformAmazonBraket: braket,
	}
)

// Normalizer stamps normalized backends with the time read from its clock.
type Normalizer struct {
	clock catalog.Clock
}

// New returns a Normalizer using clock for last_checked.
func New(clock catalog.Clock) *Normalizer {
	return &Normalizer{clock: clock}
}

// Normalize maps raw onto a Backend carrying its bid and last_checked time.
func (n *Normalizer) Normalize(raw catalog.RawRecord) (catalog.Backend, error) {
	fn, err := familyOf(raw.Provider)
	if err != nil {
		return catalog.Backend{}, err
	}
	if !gjson.ValidBytes(raw.Payload) {
		return catalog.Backend{}, fmt.Errorf("%w: %s payload is not JSON", ErrInvalidRecord, raw.Provider.Name)
	}
	b, err := fn(gjson.ParseBytes(raw.Payload))
	if err != nil {
		return catalog.Backend{}, fmt.Errorf("normalize %s record: %w", raw.Provider.Name, err)
	}
	b.Provider = raw.Provider
	b.BID = BID(b.Name, raw.Provider.From)
	b.LastChecked = n.clock.Now()
	return b, nil
}

func familyOf(ref catalog.ProviderRef) (family, error) {
	if ref.ThirdPartyOrigin() {
		fn, ok := thirdPartyFamilies[ref.From]
		if !ok {
			return nil, fmt.Errorf("%w: third-party platform %q", ErrUnsupportedProvider, ref.From)
		}
		return fn, nil
	}
	fn, ok := nativeFamilies[ref.Name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", ErrUnsupportedProvider, ref.Name)
	}
	return fn, nil
}

func requireFields(raw gjson.Result, paths ...string) error {
	var missing []string
	for _, p := range paths {
		if !raw.Get(p).Exists() {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRecord, strings.Join(missing, ", "))
	}
	return nil
}

func stringList(raw gjson.Result) []string {
	out := []string{}
	for _, v := range raw.Array() {
		out = append(out, v.String())
	}
	return out
}

var ionqExtra = []string{"status", "qubits", "queue", "last_updated", "degraded", "has_access"}

func ionq(raw gjson.Result) (catalog.Backend, error) {
	if err := requireFields(raw, "backend", "status", "qubits", "average_queue_time",
		"last_updated", "degraded", "has_access"); err != nil {
		return catalog.Backend{}, err
	}
	name := raw.Get("backend").String()
	details := catalog.IonQDetails{
		Status: raw.Get("status").String(),
		Qubits: int(raw.Get("qubits").Int()),
		Queue: catalog.Queue{
			Type:  catalog.QueueAvgTime,
			Value: QueueTime(raw.Get("average_queue_time").Int()),
		},
		LastUpdated: time.Unix(raw.Get("last_updated").Int(), 0).UTC(),
		Degraded:    raw.Get("degraded").Bool(),
		HasAccess:   raw.Get("has_access").Bool(),
	}
	extra := append([]string(nil), ionqExtra...)
	if name == "simulator" {
		details.NoiseModels = stringList(raw.Get("noise_models"))
		extra = append(extra, "noise_models")
	} else {
		charact := raw.Get("extra.characterization")
		if !charact.IsObject() {
			return catalog.Backend{}, fmt.Errorf("%w: %s has no characterization", ErrInvalidRecord, name)
		}
		fields := map[string]any{}
		if err := json.Unmarshal([]byte(charact.Raw), &fields); err != nil {
			return catalog.Backend{}, fmt.Errorf("%w: characterization of %s: %v", ErrInvalidRecord, name, err)
		}
		for _, key := range []string{"connectivity", "id", "backend"} {
			delete(fields, key)
		}
		details.Characterization = fields
		extra = append(extra, "characterization")
	}
	return catalog.Backend{
		ClassType: catalog.ClassIonQ,
		Name:      capitalize(strings.TrimPrefix(name, "qpu.")),
		Extra:     extra,
		Details:   details,
	}, nil
}

func ibm(raw gjson.Result) (catalog.Backend, error) {
	if err := requireFields(raw, "backend", "status", "qubits", "queue", "last_updated", "extra"); err != nil {
		return catalog.Backend{}, err
	}
	updated, err := time.Parse(time.RFC3339Nano, raw.Get("last_updated").String())
	if err != nil {
		return catalog.Backend{}, fmt.Errorf("%w: last_updated: %v", ErrInvalidRecord, err)
	}
	conf := raw.Get("extra")
	details := catalog.IBMDetails{
		Status:          raw.Get("status").String(),
		Qubits:          int(raw.Get("qubits").Int()),
		Queue:           catalog.Queue{Type: catalog.QueueJobsRemaining, Value: strconv.FormatInt(raw.Get("queue").Int(), 10)},
		LastUpdated:     updated.UTC(),
		BasisGates:      stringList(conf.Get("basis_gates")),
		CreditsRequired: conf.Get("credits_required").Bool(),
		MaxExperiments:  int(conf.Get("max_experiments").Int()),
		MaxShots:        int(conf.Get("max_shots").Int()),
	}
	if clops := conf.Get("clops_h"); clops.Exists() && clops.Type != gjson.Null {
		v := int(clops.Int())
		details.ClopsH = &v
	}
	return catalog.Backend{
		ClassType: catalog.ClassIBM,
		Name:      capitalize(strings.TrimPrefix(raw.Get("backend").String(), "ibm_")),
		Extra: []string{
			"status", "qubits", "queue", "last_updated", "basis_gates",
			"clops_h", "credits_required", "max_experiments", "max_shots",
		},
		Details: details,
	}, nil
}

func rigetti(raw gjson.Result) (catalog.Backend, error) {
	if err := requireFields(raw, "backend", "System", "Performance Snapshot"); err != nil {
		return catalog.Backend{}, err
	}
	system := raw.Get("System")
	perf := raw.Get("Performance Snapshot")
	qubits, err := strconv.Atoi(strings.TrimSpace(system.Get("Qubits on device").String()))
	if err != nil {
		return catalog.Backend{}, fmt.Errorf("%w: qubits on device: %v", ErrInvalidRecord, err)
	}
	reset := perf.Get("Median Active Reset Fidelity")
	if !reset.Exists() {
		reset = perf.Get("Median RO Fidelity")
	}
	return catalog.Backend{
		ClassType: catalog.ClassRigetti,
		Name:      raw.Get("backend").String(),
		Extra: []string{
			"qubits", "rep_rate", "median_t1", "median_t2", "median_sim_1q_fidelity",
			"median_2q_xy_fidelity", "median_2q_cz_fidelity", "median_ro_fidelity",
			"median_active_reset_fidelity",
		},
		Details: catalog.RigettiDetails{
			Qubits:                    qubits,
			RepRate:                   system.Get("Rep rate").String(),
			MedianT1:                  perf.Get("Median T1").String(),
			MedianT2:                  perf.Get("Median T2").String(),
			MedianSim1QFidelity:       perf.Get("Median Sim 1Q Fidelity").String(),
			Median2QXYFidelity:        perf.Get("Median 2Q XY Fidelity").String(),
			Median2QCZFidelity:        perf.Get("Median 2Q CZ Fidelity").String(),
			MedianROFidelity:          perf.Get("Median RO Fidelity").String(),
			MedianActiveResetFidelity: reset.String(),
		},
	}, nil
}

func braket(raw gjson.Result) (catalog.Backend, error) {
	if err := requireFields(raw, "device_name", "status", "qubit_count", "queue_depth"); err != nil {
		return catalog.Backend{}, err
	}
	return catalog.Backend{
		ClassType: catalog.ClassBraket,
		Name:      raw.Get("device_name").String(),
		Extra:     []string{"status", "qubits", "queue", "gates_supported", "shots_range", "device_cost"},
		Details: catalog.BraketDetails{
			Status:         raw.Get("status").String(),
			Qubits:         int(raw.Get("qubit_count").Int()),
			Queue:          catalog.Queue{Type: catalog.QueueJobsRemaining, Value: raw.Get("queue_depth").String()},
			GatesSupported: stringList(raw.Get("gates_supported")),
			ShotsRange: catalog.ShotsRange{
				Min: int(raw.Get("shots_range.min").Int()),
				Max: int(raw.Get("shots_range.max").Int()),
			},
			DeviceCost: catalog.DeviceCost{
				Price: raw.Get("device_cost.price").Float(),
				Unit:  raw.Get("device_cost.unit").String(),
			},
		},
	}, nil
}
