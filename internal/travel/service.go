// Package travel implements the traveler matching application service on
// top of the vault builder client and the AI boundary.
package travel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mkarech/skyvault/internal/ai"
	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/model"
	"github.com/mkarech/skyvault/internal/secretshare"
	"github.com/mkarech/skyvault/internal/session"
	"github.com/mkarech/skyvault/internal/vault"
)

// Service exposes traveler storage, aggregation and matching.
type Service struct {
	builder *vault.BuilderClient
	gen     ai.Generator
	store   session.Store
	log     *zap.Logger
}

// NewService constructs the service.
func NewService(builder *vault.BuilderClient, gen ai.Generator, store session.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{builder: builder, gen: gen, store: store, log: log}
}

// EnsureCollection returns a usable traveler collection id for ownerKey
// (a wallet address, or the builder DID for the shared collection). Cached
// ids are verified before reuse; stale ids are discarded and a fresh
// collection is provisioned and cached.
func (s *Service) EnsureCollection(ctx context.Context, ownerKey string) (string, error) {
	cached, err := s.store.LoadCollectionID(ctx, ownerKey)
	if err == nil {
		ok, verr := s.builder.VerifyCollection(ctx, cached)
		if verr != nil {
			return "", verr
		}
		if ok {
			return cached, nil
		}
		s.log.Warn("cached collection id no longer exists, recreating",
			zap.String("owner", ownerKey), zap.String("collection", cached))
	} else if !errors.Is(err, errs.ErrNotFound) {
		return "", err
	}

	u, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	id := u.String()
	err = s.builder.CreateCollection(ctx, vault.TravelerCollection(id))
	if err != nil && !errors.Is(err, errs.ErrDuplicateEntry) {
		return "", fmt.Errorf("provision collection: %w", err)
	}
	if err := s.store.SaveCollectionID(ctx, ownerKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// NewCollection provisions a fresh traveler collection and returns its id.
// Unlike EnsureCollection it never reuses a cached id.
func (s *Service) NewCollection(ctx context.Context) (string, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	id := u.String()
	if err := s.builder.CreateCollection(ctx, vault.TravelerCollection(id)); err != nil {
		return "", fmt.Errorf("provision collection: %w", err)
	}
	return id, nil
}

// StoreTraveler writes one traveler record as the builder, secret-sharing
// the travel details. Returns the created record id.
func (s *Service) StoreTraveler(ctx context.Context, collectionID string, t model.Traveler) (string, error) {
	if t.EventName == "" {
		return "", errors.New("event_name is required")
	}
	ids, err := s.builder.CreateData(ctx, collectionID, []model.Record{travelerRecord(t)})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// UpdateTraveler replaces an existing record's payload.
func (s *Service) UpdateTraveler(ctx context.Context, collectionID, id string, t model.Traveler) error {
	rec := travelerRecord(t)
	delete(rec, "_id")
	return s.builder.UpdateData(ctx, model.DataReference{Collection: collectionID, Document: id}, rec)
}

// DeleteTraveler removes a record the builder owns.
func (s *Service) DeleteTraveler(ctx context.Context, collectionID, id string) error {
	return s.builder.DeleteData(ctx, model.DataReference{Collection: collectionID, Document: id})
}

// AllTravelers lists every readable record, decrypted.
func (s *Service) AllTravelers(ctx context.Context, collectionID string) ([]model.Traveler, error) {
	recs, err := s.builder.FindData(ctx, collectionID, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Traveler, 0, len(recs))
	for _, rec := range recs {
		out = append(out, travelerFromRecord(rec))
	}
	return out, nil
}

// TravelersByEvent filters the decrypted records by exact event name.
func (s *Service) TravelersByEvent(ctx context.Context, collectionID, eventName string) ([]model.Traveler, error) {
	all, err := s.AllTravelers(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	out := []model.Traveler{}
	for _, t := range all {
		if t.EventName == eventName {
			out = append(out, t)
		}
	}
	return out, nil
}

// AllEvents aggregates travelers by event name.
func (s *Service) AllEvents(ctx context.Context, collectionID string) ([]model.Event, error) {
	all, err := s.AllTravelers(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	var events []model.Event
	index := map[string]int{}
	for _, t := range all {
		if t.EventName == "" {
			continue
		}
		i, ok := index[t.EventName]
		if !ok {
			index[t.EventName] = len(events)
			events = append(events, model.Event{
				EventName:         t.EventName,
				TravelDates:       appendUnique(nil, t.TravelDate),
				DepartureAirports: appendUnique(nil, t.DepartureAirport),
				Travelers:         1,
			})
			continue
		}
		events[i].TravelDates = appendUnique(events[i].TravelDates, t.TravelDate)
		events[i].DepartureAirports = appendUnique(events[i].DepartureAirports, t.DepartureAirport)
		events[i].Travelers++
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// MatchTravelers runs a natural-language instruction over the decrypted
// records and returns the travelers the model selected. The model is asked
// for schema-conforming JSON; malformed answers fail the call.
func (s *Service) MatchTravelers(ctx context.Context, collectionID, instruction string) ([]model.Traveler, error) {
	if s.gen == nil {
		return nil, errors.New("no AI generator configured")
	}
	all, err := s.AllTravelers(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	dump, err := json.Marshal(all)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("%s\n\nSelect the matching travelers from this list:\n%s", instruction, dump)
	raw, err := ai.GenerateStructured(ctx, s.gen, prompt, matchSchema())
	if err != nil {
		return nil, fmt.Errorf("match travelers: %w", err)
	}
	var matched []model.Traveler
	if err := json.Unmarshal(raw, &matched); err != nil {
		return nil, err
	}
	return matched, nil
}

func matchSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"_id":               map[string]any{"type": "string"},
				"name":              map[string]any{"type": "string"},
				"event_name":        map[string]any{"type": "string"},
				"travel_date":       map[string]any{"type": "string"},
				"departure_airport": map[string]any{"type": "string"},
				"destination":       map[string]any{"type": "string"},
				"gate_number":       map[string]any{"type": "string"},
				"additional_note":   map[string]any{"type": "string"},
			},
			"required": []any{"_id", "event_name"},
		},
	}
}

// OwnedRecord renders t as a payload for a user-owned upload, with the
// travel details wrapped for secret sharing.
func OwnedRecord(t model.Traveler) model.Record {
	return travelerRecord(t)
}

// travelerRecord renders t with the travel details wrapped for secret sharing.
func travelerRecord(t model.Traveler) model.Record {
	rec := model.Record{}
	if t.ID != "" {
		rec["_id"] = t.ID
	}
	if t.Name != "" {
		rec["name"] = t.Name
	}
	rec["event_name"] = t.EventName
	putAllot(rec, "travel_date", t.TravelDate)
	putAllot(rec, "departure_airport", t.DepartureAirport)
	putAllot(rec, "destination", t.Destination)
	putAllot(rec, "gate_number", t.GateNumber)
	putAllot(rec, "additional_note", t.AdditionalNote)
	return rec
}

func travelerFromRecord(rec model.Record) model.Traveler {
	return model.Traveler{
		ID:               str(rec, "_id"),
		Name:             str(rec, "name"),
		EventName:        str(rec, "event_name"),
		TravelDate:       str(rec, "travel_date"),
		DepartureAirport: str(rec, "departure_airport"),
		Destination:      str(rec, "destination"),
		GateNumber:       str(rec, "gate_number"),
		AdditionalNote:   str(rec, "additional_note"),
	}
}

func putAllot(rec model.Record, key, value string) {
	if value == "" {
		return
	}
	rec[key] = map[string]any{secretshare.AllotKey: value}
}

func str(rec model.Record, key string) string {
	s, _ := rec[key].(string)
	return s
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
