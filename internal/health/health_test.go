package health

import (
	"context"
	"testing"
)

func TestCheckAllEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses, got %d", len(statuses))
	}
}

func TestCheckAllAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("up", func(context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("down", func(context.Context) Status {
		return Status{Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("one failing checker should make the aggregate unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "connection refused" {
		t.Errorf("detail should be carried, got %q", statuses[1].Detail)
	}
}

func TestCheckAllStampsRegisteredNames(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("janitor", func(context.Context) Status {
		// A checker-supplied name loses to the registration.
		return Status{Name: "something-else", Healthy: true}
	})

	_, statuses := r.CheckAll(context.Background())
	if statuses[0].Name != "database" || statuses[1].Name != "janitor" {
		t.Errorf("statuses should carry registration names, got %q and %q",
			statuses[0].Name, statuses[1].Name)
	}
}

func TestCheckAllAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(context.Context) Status { return Status{Healthy: true} })
	r.Register("b", func(context.Context) Status { return Status{Healthy: true} })

	healthy, _ := r.CheckAll(context.Background())
	if !healthy {
		t.Error("all healthy checkers should aggregate healthy")
	}
}
