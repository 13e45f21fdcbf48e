package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var checkedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newNormalizer() *Normalizer {
	return New(fixedClock{now: checkedAt})
}

const harmony = `{
  "backend": "qpu.harmony",
  "status": "available",
  "qubits": 11,
  "average_queue_time": 125000,
  "last_updated": 1700000000,
  "degraded": false,
  "has_access": true,
  "extra": {
    "characterization_id": "ionq.qpu.harmony",
    "characterization": {"id": "c-1", "backend": "qpu.harmony", "connectivity": [[0, 1]], "fidelity": {"spam": {"median": 0.99}}}
  }
}`

func TestQueueTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ms   int64
		want string
	}{
		{0, "< 1min"},
		{60_000, "< 1min"},
		{61_000, "1min"},
		{125_000, "2min"},
		{3_600_000, "60min"},
		{3_661_000, "1hrs 1min"},
		{86_400_000, "24hrs 0min"},
		{90_061_000, "1d 1hrs 1min"},
		{29*86_400_000 + 3_600_000, "29d 1hrs 0min"},
		{30 * 86_400_000, "> 1month"},
		{400 * 86_400_000, "> 1month"},
		{-5, "< 1min"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, QueueTime(tt.ms), "QueueTime(%d)", tt.ms)
	}
}

func TestSlugAndBID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "aria-1", Slug("Aria 1"))
	require.Equal(t, "ankaa-3", Slug("  Ankaa--3! "))
	require.Equal(t, "harmony", BID("Harmony", ""))
	require.Equal(t, "aria-1-amazon-braket", BID("Aria 1", catalog.PlatformAmazonBraket))
}

func TestNormalizeIonQHarmony(t *testing.T) {
	t.Parallel()

	raw := catalog.RawRecord{
		Provider: catalog.ProviderRef{ID: "p1", Name: ProviderIonQ},
		Payload:  json.RawMessage(harmony),
	}
	b, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)

	require.Equal(t, catalog.ClassIonQ, b.ClassType)
	require.Equal(t, "Harmony", b.Name)
	require.Equal(t, "harmony", b.BID)
	require.Equal(t, raw.Provider, b.Provider)
	require.Equal(t, checkedAt, b.LastChecked)
	require.Contains(t, b.Extra, "characterization")
	require.NotContains(t, b.Extra, "noise_models")

	details, ok := b.Details.(catalog.IonQDetails)
	require.True(t, ok)
	require.Equal(t, catalog.Queue{Type: catalog.QueueAvgTime, Value: "2min"}, details.Queue)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), details.LastUpdated)
	require.Equal(t, 11, details.Qubits)
	require.True(t, details.HasAccess)
	require.Contains(t, details.Characterization, "fidelity")
	for _, key := range []string{"id", "backend", "connectivity"} {
		require.NotContains(t, details.Characterization, key)
	}
}

func TestNormalizeIonQSimulator(t *testing.T) {
	t.Parallel()

	raw := catalog.RawRecord{
		Provider: catalog.ProviderRef{Name: ProviderIonQ},
		Payload: json.RawMessage(`{"backend":"simulator","status":"available","qubits":29,
			"average_queue_time":0,"last_updated":1700000000,"degraded":false,"has_access":true,
			"noise_models":["ideal","harmony"]}`),
	}
	b, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "Simulator", b.Name)
	require.Contains(t, b.Extra, "noise_models")
	require.NotContains(t, b.Extra, "characterization")
	details := b.Details.(catalog.IonQDetails)
	require.Equal(t, []string{"ideal", "harmony"}, details.NoiseModels)
	require.Equal(t, "< 1min", details.Queue.Value)
}

func TestNormalizeIBMQueueIsNotBucketed(t *testing.T) {
	t.Parallel()

	raw := catalog.RawRecord{
		Provider: catalog.ProviderRef{ID: "p2", Name: ProviderIBM},
		Payload: json.RawMessage(`{"backend":"ibm_kyoto","status":"active","qubits":127,"queue":125000,
			"last_updated":"2024-02-28T10:00:00-05:00",
			"extra":{"basis_gates":["ecr","rz"],"clops_h":null,"credits_required":true,
			"description":"Eagle r3","max_experiments":300,"max_shots":100000}}`),
	}
	b, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "Kyoto", b.Name)
	require.Equal(t, "kyoto", b.BID)

	details := b.Details.(catalog.IBMDetails)
	require.Equal(t, catalog.Queue{Type: catalog.QueueJobsRemaining, Value: "125000"}, details.Queue)
	require.NotEqual(t, QueueTime(125000), details.Queue.Value)
	require.Nil(t, details.ClopsH)
	require.Equal(t, time.Date(2024, 2, 28, 15, 0, 0, 0, time.UTC), details.LastUpdated)
	require.Equal(t, []string{"ecr", "rz"}, details.BasisGates)
	require.Equal(t, 100000, details.MaxShots)
}

func TestNormalizeRigetti(t *testing.T) {
	t.Parallel()

	raw := catalog.RawRecord{
		Provider: catalog.ProviderRef{Name: ProviderRigetti},
		Payload: json.RawMessage(`{"backend":"Ankaa-3",
			"System":{"Qubits on device":"84","Rep rate":"1 kHz"},
			"Performance Snapshot":{"Median T1":"22 us","Median T2":"19 us","Median RO Fidelity":"95.5%"}}`),
	}
	b, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "Ankaa-3", b.Name)
	details := b.Details.(catalog.RigettiDetails)
	require.Equal(t, 84, details.Qubits)
	require.Equal(t, "1 kHz", details.RepRate)
	require.Equal(t, "95.5%", details.MedianActiveResetFidelity)
}

func TestNormalizeBraketUsesThirdPartyBranch(t *testing.T) {
	t.Parallel()

	raw := catalog.RawRecord{
		// A pass-through provider named like a native family still takes the platform branch.
		Provider: catalog.ProviderRef{ID: "p3", Name: ProviderIonQ, From: catalog.PlatformAmazonBraket},
		Payload: json.RawMessage(`{"device_name":"Aria 1","status":"online","qubit_count":25,"queue_depth":"17",
			"gates_supported":["x","cnot"],"shots_range":{"min":1,"max":5000},
			"device_cost":{"price":0.03,"unit":"shot"}}`),
	}
	b, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, catalog.ClassBraket, b.ClassType)
	require.Equal(t, "aria-1-amazon-braket", b.BID)
	details := b.Details.(catalog.BraketDetails)
	require.Equal(t, catalog.Queue{Type: catalog.QueueJobsRemaining, Value: "17"}, details.Queue)
	require.Equal(t, catalog.ShotsRange{Min: 1, Max: 5000}, details.ShotsRange)
}

func TestNormalizeNativeNeverUsesThirdPartyTable(t *testing.T) {
	t.Parallel()

	// A Braket-shaped payload under a native provider must not be read as Braket.
	raw := catalog.RawRecord{
		Provider: catalog.ProviderRef{Name: catalog.PlatformAmazonBraket},
		Payload:  json.RawMessage(`{"device_name":"SV1","status":"online","qubit_count":34,"queue_depth":"0"}`),
	}
	_, err := newNormalizer().Normalize(raw)
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	for name := range nativeFamilies {
		fn, err := familyOf(catalog.ProviderRef{Name: name})
		require.NoError(t, err)
		require.NotNil(t, fn)
	}
}

func TestNormalizeErrors(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	_, err := n.Normalize(catalog.RawRecord{Provider: catalog.ProviderRef{Name: "D-Wave"}, Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = n.Normalize(catalog.RawRecord{
		Provider: catalog.ProviderRef{Name: "QuEra", From: "Azure Quantum"},
		Payload:  json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = n.Normalize(catalog.RawRecord{Provider: catalog.ProviderRef{Name: ProviderIonQ}, Payload: json.RawMessage(`{"backend":"qpu.aria-1"}`)})
	require.ErrorIs(t, err, ErrInvalidRecord)

	_, err = n.Normalize(catalog.RawRecord{Provider: catalog.ProviderRef{Name: ProviderIBM}, Payload: json.RawMessage(`not json`)})
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestNormalizeBIDIsDeterministic(t *testing.T) {
	t.Parallel()

	raw := catalog.RawRecord{Provider: catalog.ProviderRef{Name: ProviderIonQ}, Payload: json.RawMessage(harmony)}
	first, err := newNormalizer().Normalize(raw)
	require.NoError(t, err)
	second, err := New(fixedClock{now: checkedAt.Add(time.Hour)}).Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, first.BID, second.BID)
}
