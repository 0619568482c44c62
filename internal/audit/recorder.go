package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/quotaguard/quotaguard/internal/idgen"
	"github.com/quotaguard/quotaguard/internal/logging"
)

// Broadcaster receives every successfully appended event, for live
// streaming. Implementations must not block.
type Broadcaster interface {
	BroadcastAuditEvent(event *Event)
}

// Recorder wraps a Store with id assignment, metrics, and the fail policy:
// an append failure for a security-relevant kind is returned to the caller,
// while informational kinds proceed with a separately alarmed audit gap.
type Recorder struct {
	store       Store
	broadcaster Broadcaster
}

// NewRecorder creates an audit recorder. broadcaster may be nil.
func NewRecorder(store Store, broadcaster Broadcaster) *Recorder {
	return &Recorder{store: store, broadcaster: broadcaster}
}

// Record appends one event. ID and Timestamp are assigned here when unset.
func (r *Recorder) Record(ctx context.Context, event *Event) error {
	defer observeOp("record")()

	if event.ID == "" {
		event.ID = idgen.WithPrefix("evt_")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := r.store.Append(ctx, event); err != nil {
		GapsTotal.WithLabelValues(string(event.Kind)).Inc()
		if event.Kind.SecurityRelevant() {
			return fmt.Errorf("audit record %s: %w", event.Kind, err)
		}
		logging.FromContext(ctx).Warn("audit gap",
			"kind", string(event.Kind),
			"identity", event.Identity,
			"error", err)
		return nil
	}

	EventsTotal.WithLabelValues(string(event.Kind)).Inc()
	if r.broadcaster != nil {
		r.broadcaster.BroadcastAuditEvent(event)
	}
	return nil
}

// List returns events matching the query, newest first.
func (r *Recorder) List(ctx context.Context, q Query) ([]*Event, error) {
	defer observeOp("list")()
	return r.store.List(ctx, q)
}
