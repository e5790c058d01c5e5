package travel_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkarech/skyvault/internal/ai"
	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/identity"
	"github.com/mkarech/skyvault/internal/model"
	"github.com/mkarech/skyvault/internal/session"
	"github.com/mkarech/skyvault/internal/travel"
	"github.com/mkarech/skyvault/internal/vault"
	"github.com/mkarech/skyvault/internal/vaulttest"
)

type fixedGen struct {
	answer string
	prompt string
}

func (g *fixedGen) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, nil
}

func newService(t *testing.T, gen *fixedGen) (*travel.Service, *vault.BuilderClient, session.Store) {
	t.Helper()
	cluster, err := vaulttest.NewCluster(3)
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	kp, err := identity.Generate()
	require.NoError(t, err)
	cluster.Auth.Subscribe(kp.DID())

	ctx := context.Background()
	b, err := vault.NewBuilder(ctx, kp, cluster.AuthURL(), cluster.NodeURLs(), vault.BuilderOptions{})
	require.NoError(t, err)
	require.NoError(t, b.RefreshRootToken(ctx))
	_, err = b.MintNodeTokens()
	require.NoError(t, err)
	require.NoError(t, b.Register(ctx, "Travel Test"))

	store := session.NewMemory()
	var g ai.Generator
	if gen != nil {
		g = gen
	}
	return travel.NewService(b, g, store, nil), b, store
}

func sampleTraveler(event, date string) model.Traveler {
	return model.Traveler{
		Name:             "Coder",
		EventName:        event,
		TravelDate:       date,
		DepartureAirport: "JFK",
		Destination:      "LHR",
		GateNumber:       "1",
		AdditionalNote:   "likes books",
	}
}

func TestEnsureCollectionCachesAndVerifies(t *testing.T) {
	svc, b, store := newService(t, nil)
	ctx := context.Background()

	id1, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	// second call reuses the cached, still-existing collection
	id2, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	// a stale cache entry is discarded and a fresh collection provisioned
	require.NoError(t, store.SaveCollectionID(ctx, b.DID(), "99999999-9999-4999-8999-999999999999"))
	id3, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)
	require.NotEqual(t, "99999999-9999-4999-8999-999999999999", id3)

	ok, err := b.VerifyCollection(ctx, id3)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStoreAndListTravelers(t *testing.T) {
	svc, b, _ := newService(t, nil)
	ctx := context.Background()

	col, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)

	id, err := svc.StoreTraveler(ctx, col, sampleTraveler("Hackathon", "02/04/2025"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = svc.StoreTraveler(ctx, col, sampleTraveler("Hackathon", "03/04/2025"))
	require.NoError(t, err)
	_, err = svc.StoreTraveler(ctx, col, sampleTraveler("Concert", "05/05/2025"))
	require.NoError(t, err)

	all, err := svc.AllTravelers(ctx, col)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, got := range all {
		require.Equal(t, "JFK", got.DepartureAirport)
		require.Equal(t, "likes books", got.AdditionalNote)
	}

	byEvent, err := svc.TravelersByEvent(ctx, col, "Hackathon")
	require.NoError(t, err)
	require.Len(t, byEvent, 2)

	byEvent, err = svc.TravelersByEvent(ctx, col, "Nothing")
	require.NoError(t, err)
	require.Empty(t, byEvent)
}

func TestStoreTravelerRequiresEvent(t *testing.T) {
	svc, b, _ := newService(t, nil)
	ctx := context.Background()
	col, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)

	_, err = svc.StoreTraveler(ctx, col, model.Traveler{Name: "noevent"})
	require.Error(t, err)
}

func TestAllEventsAggregation(t *testing.T) {
	svc, b, _ := newService(t, nil)
	ctx := context.Background()
	col, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)

	for _, tr := range []model.Traveler{
		sampleTraveler("Hackathon", "02/04/2025"),
		sampleTraveler("Hackathon", "02/04/2025"), // duplicate date collapses
		sampleTraveler("Hackathon", "03/04/2025"),
		sampleTraveler("Concert", "05/05/2025"),
	} {
		_, err := svc.StoreTraveler(ctx, col, tr)
		require.NoError(t, err)
	}

	events, err := svc.AllEvents(ctx, col)
	require.NoError(t, err)
	require.Len(t, events, 2)

	byName := map[string]model.Event{}
	for _, ev := range events {
		byName[ev.EventName] = ev
	}
	hack := byName["Hackathon"]
	require.Equal(t, 3, hack.Travelers)
	require.ElementsMatch(t, []string{"02/04/2025", "03/04/2025"}, hack.TravelDates)
	require.Equal(t, []string{"JFK"}, hack.DepartureAirports)
	require.Equal(t, 1, byName["Concert"].Travelers)
}

func TestUpdateAndDeleteTraveler(t *testing.T) {
	svc, b, _ := newService(t, nil)
	ctx := context.Background()
	col, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)

	id, err := svc.StoreTraveler(ctx, col, sampleTraveler("Hackathon", "02/04/2025"))
	require.NoError(t, err)

	updated := sampleTraveler("Hackathon", "09/09/2025")
	updated.GateNumber = "42"
	require.NoError(t, svc.UpdateTraveler(ctx, col, id, updated))

	all, err := svc.AllTravelers(ctx, col)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "09/09/2025", all[0].TravelDate)
	require.Equal(t, "42", all[0].GateNumber)
	require.Equal(t, id, all[0].ID)

	require.NoError(t, svc.DeleteTraveler(ctx, col, id))
	all, err = svc.AllTravelers(ctx, col)
	require.NoError(t, err)
	require.Empty(t, all)

	err = svc.DeleteTraveler(ctx, col, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMatchTravelers(t *testing.T) {
	gen := &fixedGen{}
	svc, b, _ := newService(t, gen)
	ctx := context.Background()
	col, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)

	id, err := svc.StoreTraveler(ctx, col, sampleTraveler("Hackathon", "02/04/2025"))
	require.NoError(t, err)

	answer, err := json.Marshal([]model.Traveler{{ID: id, EventName: "Hackathon"}})
	require.NoError(t, err)
	gen.answer = string(answer)

	matched, err := svc.MatchTravelers(ctx, col, "find hackathon travelers")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, id, matched[0].ID)

	// the decrypted records ride along in the prompt
	require.Contains(t, gen.prompt, "find hackathon travelers")
	require.Contains(t, gen.prompt, "02/04/2025")
}

func TestMatchTravelersFailsClosed(t *testing.T) {
	gen := &fixedGen{answer: "I could not find anyone, sorry!"}
	svc, b, _ := newService(t, gen)
	ctx := context.Background()
	col, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)

	_, err = svc.MatchTravelers(ctx, col, "find travelers")
	require.Error(t, err)
}

func TestMatchTravelersWithoutGenerator(t *testing.T) {
	svc, b, _ := newService(t, nil)
	ctx := context.Background()
	col, err := svc.EnsureCollection(ctx, b.DID())
	require.NoError(t, err)

	_, err = svc.MatchTravelers(ctx, col, "find travelers")
	require.Error(t, err)
}
