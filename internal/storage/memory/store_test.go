package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%03d", s.n), nil
}

func ionqProvider() catalog.Provider {
	return catalog.Provider{
		PID:  "native.ionq",
		Name: "IonQ",
		Request: catalog.APIRequest{
			BaseURL:  "https://api.ionq.co/v0.3",
			Auth:     map[string]string{"Authorization": "apiKey TOKEN"},
			Function: catalog.ExtractorRef{Module: "ionq", Func: "backends"},
		},
	}
}

func TestStoreProviders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(&seqIDs{})
	braket := catalog.Provider{PID: "amazon_braket.ionq", Name: "IonQ", FromThirdParty: true,
		ThirdParty: &catalog.ThirdParty{Name: catalog.PlatformAmazonBraket}}

	ids, err := store.InsertProviders(ctx, []catalog.Provider{ionqProvider(), braket})
	require.NoError(t, err)
	require.Equal(t, []string{"id-001", "id-002"}, ids)

	_, err = store.InsertProviders(ctx, []catalog.Provider{{PID: "native.rigetti"}, ionqProvider()})
	require.ErrorIs(t, err, catalog.ErrConflict)
	count, err := store.CountProviders(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count, "a conflicting batch inserts nothing")

	got, err := store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)
	require.Equal(t, "id-001", got.ID)
	require.Equal(t, catalog.FetchAPI, got.Request.Method())

	natives, err := store.FindProviders(ctx, catalog.ProviderFilter{FromThirdParty: catalog.Bool(false)})
	require.NoError(t, err)
	require.Len(t, natives, 1)

	_, err = store.FindProvider(ctx, "native.dwave")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	checked := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetBackendIDs(ctx, "native.ionq", []string{"b1", "b2", "b3"}, checked))
	require.NoError(t, store.PullBackendIDs(ctx, []string{"b2"}))
	got, err = store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)
	require.Equal(t, []string{"b1", "b3"}, got.BackendIDs)
	require.Equal(t, checked, *got.LastChecked)

	got.Website = "https://ionq.com"
	got.ID = "ignored"
	require.NoError(t, store.UpdateProvider(ctx, got))
	again, err := store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)
	require.Equal(t, "https://ionq.com", again.Website)
	require.Equal(t, "id-001", again.ID)

	n, err := store.DeleteProviders(ctx, catalog.ProviderFilter{ThirdPartyName: catalog.PlatformAmazonBraket})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(&seqIDs{})
	_, err := store.InsertProviders(ctx, []catalog.Provider{ionqProvider()})
	require.NoError(t, err)
	require.NoError(t, store.SetBackendIDs(ctx, "native.ionq", []string{"b1"}, time.Now()))

	got, err := store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)
	got.BackendIDs[0] = "mutated"

	again, err := store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, again.BackendIDs)
}

func TestUpdateProviderKeepsBackendLinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(&seqIDs{})
	_, err := store.InsertProviders(ctx, []catalog.Provider{ionqProvider()})
	require.NoError(t, err)
	require.NoError(t, store.SetBackendIDs(ctx, "native.ionq", []string{"b1"}, time.Now()))

	stale, err := store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)

	checked := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetBackendIDs(ctx, "native.ionq", []string{"b2", "b3"}, checked))

	stale.Website = "https://ionq.com"
	require.NoError(t, store.UpdateProvider(ctx, stale))

	got, err := store.FindProvider(ctx, "native.ionq")
	require.NoError(t, err)
	require.Equal(t, "https://ionq.com", got.Website)
	require.Equal(t, []string{"b2", "b3"}, got.BackendIDs)
	require.Equal(t, checked, *got.LastChecked)
}

func TestStoreBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(&seqIDs{})
	ref := catalog.ProviderRef{ID: "p1", Name: "IonQ"}
	ids, err := store.InsertBackends(ctx, []catalog.Backend{
		{BID: "harmony-ionq", ClassType: catalog.ClassIonQ, Provider: ref, Name: "Harmony",
			Details: catalog.IonQDetails{Status: "available", Qubits: 11}},
		{BID: "aria-1-ionq", ClassType: catalog.ClassIonQ, Provider: ref, Name: "Aria 1",
			Details: catalog.IonQDetails{Status: "available", Qubits: 25}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	found, err := store.FindBackends(ctx, catalog.BackendFilter{BIDs: []string{"aria-1-ionq"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	details, ok := found[0].Details.(catalog.IonQDetails)
	require.True(t, ok)
	require.Equal(t, 25, details.Qubits)

	pricing := catalog.Pricing{Family: "Aria", ShotPrice: "0.03"}
	require.NoError(t, store.UpdatePricing(ctx, ids[1], pricing))
	b, err := store.FindBackend(ctx, ids[1])
	require.NoError(t, err)
	require.Equal(t, &pricing, b.Pricing)
	require.ErrorIs(t, store.UpdatePricing(ctx, "missing", pricing), catalog.ErrNotFound)

	n, err := store.DeleteBackends(ctx, []string{ids[0], "missing"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	count, err := store.CountBackends(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStoreUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(&seqIDs{})
	_, err := store.FindUserByEmail(ctx, "ops@example.com")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	created, err := store.UpsertUser(ctx, catalog.User{Email: "ops@example.com", Username: "ops"})
	require.NoError(t, err)
	require.Equal(t, "id-001", created.ID)

	created.APIKeys = map[string]map[string][]byte{"ionq": {"TOKEN": []byte("sealed")}}
	updated, err := store.UpsertUser(ctx, created)
	require.NoError(t, err)
	require.Equal(t, "id-001", updated.ID)
	require.Equal(t, []byte("sealed"), updated.APIKeys["ionq"]["TOKEN"])

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
