package realtime

import (
	"io"
	"log/slog"
	"testing"

	"github.com/quotaguard/quotaguard/internal/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShouldSendAllEvents(t *testing.T) {
	h := NewHub(testLogger())
	c := &Client{sub: Subscription{AllEvents: true}}

	if !h.shouldSend(c, &audit.Event{Kind: audit.KindLockout, Identity: "a"}) {
		t.Error("all-events subscription should match everything")
	}
}

func TestShouldSendKindFilter(t *testing.T) {
	h := NewHub(testLogger())
	c := &Client{sub: Subscription{Kinds: []audit.Kind{audit.KindLockout}}}

	if !h.shouldSend(c, &audit.Event{Kind: audit.KindLockout}) {
		t.Error("matching kind should be sent")
	}
	if h.shouldSend(c, &audit.Event{Kind: audit.KindLoginFailure}) {
		t.Error("non-matching kind should be filtered")
	}
}

func TestShouldSendIdentityFilter(t *testing.T) {
	h := NewHub(testLogger())
	c := &Client{sub: Subscription{Identities: []string{"watched@example.com"}}}

	if !h.shouldSend(c, &audit.Event{Kind: audit.KindLockout, Identity: "watched@example.com"}) {
		t.Error("watched identity should be sent")
	}
	if h.shouldSend(c, &audit.Event{Kind: audit.KindLockout, Identity: "other@example.com"}) {
		t.Error("unwatched identity should be filtered")
	}
}

func TestShouldSendCombinedFilters(t *testing.T) {
	h := NewHub(testLogger())
	c := &Client{sub: Subscription{
		Kinds:      []audit.Kind{audit.KindLockout},
		Identities: []string{"watched@example.com"},
	}}

	if !h.shouldSend(c, &audit.Event{Kind: audit.KindLockout, Identity: "watched@example.com"}) {
		t.Error("both filters matching should be sent")
	}
	if h.shouldSend(c, &audit.Event{Kind: audit.KindLockout, Identity: "other@example.com"}) {
		t.Error("kind match alone should not pass the identity filter")
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	h := NewHub(testLogger())

	// Hub is not running, so the channel fills up. Every call must return.
	for i := 0; i < cap(h.broadcast)+10; i++ {
		h.BroadcastAuditEvent(&audit.Event{Kind: audit.KindUsageIncrement})
	}
}

func TestStatsEmptyHub(t *testing.T) {
	h := NewHub(testLogger())
	stats := h.Stats()

	if stats["connectedClients"] != 0 {
		t.Errorf("expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"] != int64(0) {
		t.Errorf("expected 0 total events, got %v", stats["totalEvents"])
	}
}
