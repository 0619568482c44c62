package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingStore rejects every append.
type failingStore struct{}

func (failingStore) Append(context.Context, *Event) error { return errors.New("db down") }

func (failingStore) List(context.Context, Query) ([]*Event, error) {
	return nil, errors.New("db down")
}

// captureBroadcaster records broadcast events.
type captureBroadcaster struct {
	events []*Event
}

func (b *captureBroadcaster) BroadcastAuditEvent(e *Event) { b.events = append(b.events, e) }

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, nil)

	e := &Event{Identity: "u", Kind: KindLoginSuccess}
	if err := rec.Record(context.Background(), e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if e.ID == "" {
		t.Error("event should get an id")
	}
	if e.Timestamp.IsZero() {
		t.Error("event should get a timestamp")
	}

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event stored, got %d", len(events))
	}
}

func TestSecurityRelevantAppendFailurePropagates(t *testing.T) {
	rec := NewRecorder(failingStore{}, nil)

	for _, kind := range []Kind{KindLockout, KindDeviceRevoked, KindLoginFailure, KindConfigChanged} {
		err := rec.Record(context.Background(), &Event{Identity: "u", Kind: kind})
		if err == nil {
			t.Errorf("kind %s: append failure must surface", kind)
		}
	}
}

func TestInformationalAppendFailureIsSwallowed(t *testing.T) {
	rec := NewRecorder(failingStore{}, nil)

	for _, kind := range []Kind{KindUsageIncrement, KindCostAdded, KindLoginSuccess, KindDeviceObserved, KindDecisionDenied} {
		if err := rec.Record(context.Background(), &Event{Identity: "u", Kind: kind}); err != nil {
			t.Errorf("kind %s: informational gap must not fail the caller: %v", kind, err)
		}
	}
}

func TestRecordBroadcastsOnSuccessOnly(t *testing.T) {
	b := &captureBroadcaster{}

	rec := NewRecorder(NewMemoryStore(), b)
	rec.Record(context.Background(), &Event{Identity: "u", Kind: KindLockout})
	if len(b.events) != 1 {
		t.Errorf("successful append should broadcast, got %d", len(b.events))
	}

	failing := NewRecorder(failingStore{}, b)
	_ = failing.Record(context.Background(), &Event{Identity: "u", Kind: KindLoginSuccess})
	if len(b.events) != 1 {
		t.Error("failed append must not broadcast")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	store.Append(ctx, &Event{ID: "1", Identity: "a", Kind: KindLoginFailure, Timestamp: base})
	store.Append(ctx, &Event{ID: "2", Identity: "a", Kind: KindLockout, Timestamp: base.Add(time.Minute)})
	store.Append(ctx, &Event{ID: "3", Identity: "b", Kind: KindLoginFailure, Timestamp: base.Add(2 * time.Minute)})

	events, err := store.List(ctx, Query{Identity: "a"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for a, got %d", len(events))
	}
	if events[0].ID != "2" {
		t.Errorf("expected newest first, got %s", events[0].ID)
	}

	events, _ = store.List(ctx, Query{Kind: KindLoginFailure})
	if len(events) != 2 {
		t.Errorf("expected 2 login failures, got %d", len(events))
	}

	events, _ = store.List(ctx, Query{From: base.Add(time.Minute), To: base.Add(time.Minute)})
	if len(events) != 1 || events[0].ID != "2" {
		t.Errorf("time range should match exactly event 2, got %+v", events)
	}

	events, _ = store.List(ctx, Query{Limit: 1})
	if len(events) != 1 || events[0].ID != "3" {
		t.Errorf("limit 1 should return the newest, got %+v", events)
	}
}

func TestSecurityRelevantKinds(t *testing.T) {
	relevant := map[Kind]bool{
		KindLockout:        true,
		KindDeviceRevoked:  true,
		KindLoginFailure:   true,
		KindConfigChanged:  true,
		KindLoginSuccess:   false,
		KindUsageIncrement: false,
		KindCostAdded:      false,
		KindDeviceObserved: false,
		KindDeviceTrust:    false,
		KindDecisionDenied: false,
	}
	for kind, want := range relevant {
		if kind.SecurityRelevant() != want {
			t.Errorf("kind %s: SecurityRelevant should be %v", kind, want)
		}
	}
}
