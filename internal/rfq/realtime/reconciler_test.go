package realtime

import (
	"testing"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/cache"
	"github.com/factorypulse/pulse/internal/rfq/state"
	"go.uber.org/zap"
)

type notifierSpy struct {
	calls []ChangeEvent
}

func (n *notifierSpy) NotifyChange(orgID string, event ChangeEvent) {
	n.calls = append(n.calls, event)
}

func newTestReconciler() (*Reconciler, *state.ProjectStore, *cache.QueryCache, *notifierSpy) {
	store := state.NewProjectStore()
	qc := cache.NewQueryCache(5*time.Minute, 0)
	spy := &notifierSpy{}
	return NewReconciler(store, qc, spy, zap.NewNop()), store, qc, spy
}

func insertEvent(id string) ChangeEvent {
	return ChangeEvent{
		Type:  EventInsert,
		Table: "projects",
		OrgID: "org-1",
		New: map[string]interface{}{
			"id":                       id,
			"project_id":               "P-" + id,
			"title":                    "Widget RFQ",
			"status":                   "active",
			"priority_level":           "medium",
			"customer_organization_id": "org-1",
		},
	}
}

func TestApplyInsertIsIdempotent(t *testing.T) {
	r, store, _, _ := newTestReconciler()

	r.Apply(insertEvent("p1"))
	if store.Len() != 1 {
		t.Fatalf("expected 1 record after insert, got %d", store.Len())
	}

	// Duplicate delivery of the same INSERT must not create a second row
	r.Apply(insertEvent("p1"))
	if store.Len() != 1 {
		t.Errorf("duplicate insert created a second record: %d", store.Len())
	}
}

func TestApplyUpdateMergesKnownRecord(t *testing.T) {
	r, store, _, _ := newTestReconciler()
	r.Apply(insertEvent("p1"))

	r.Apply(ChangeEvent{
		Type:  EventUpdate,
		Table: "projects",
		OrgID: "org-1",
		New: map[string]interface{}{
			"id":     "p1",
			"status": "on_hold",
		},
	})

	got, ok := store.Get("p1")
	if !ok {
		t.Fatal("record disappeared after update")
	}
	if got.Status != "on_hold" {
		t.Errorf("status not merged: %q", got.Status)
	}
	if got.Title != "Widget RFQ" {
		t.Errorf("fields absent from the update payload were lost: %q", got.Title)
	}
}

func TestApplyUpdateUnknownRecordInserts(t *testing.T) {
	r, store, _, _ := newTestReconciler()

	// An update for a record this instance never saw: converge by inserting
	r.Apply(ChangeEvent{
		Type:  EventUpdate,
		Table: "projects",
		OrgID: "org-1",
		New: map[string]interface{}{
			"id":     "p9",
			"title":  "Late joiner",
			"status": "active",
		},
	})

	got, ok := store.Get("p9")
	if !ok {
		t.Fatal("update for unknown record should insert it")
	}
	if got.Title != "Late joiner" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestApplyDelete(t *testing.T) {
	r, store, _, _ := newTestReconciler()
	r.Apply(insertEvent("p1"))

	r.Apply(ChangeEvent{
		Type:  EventDelete,
		Table: "projects",
		OrgID: "org-1",
		Old:   map[string]interface{}{"id": "p1"},
	})

	if store.Len() != 0 {
		t.Errorf("record not removed, store has %d", store.Len())
	}
}

func TestApplyInvalidatesCacheAndNotifies(t *testing.T) {
	r, _, qc, spy := newTestReconciler()
	qc.Set("k1", "org-1", "payload")
	qc.Set("k2", "org-2", "payload")

	r.Apply(insertEvent("p1"))

	if _, ok := qc.Get("k1"); ok {
		t.Error("cache scope of the event's org should be invalidated")
	}
	if _, ok := qc.Get("k2"); !ok {
		t.Error("other org's cache entries must survive")
	}
	if len(spy.calls) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(spy.calls))
	}
	if spy.calls[0].RecordID() != "p1" {
		t.Errorf("notified wrong record: %q", spy.calls[0].RecordID())
	}
}

func TestApplyEventWithoutIDIsDropped(t *testing.T) {
	r, store, _, spy := newTestReconciler()

	r.Apply(ChangeEvent{Type: EventInsert, Table: "projects", OrgID: "org-1"})

	if store.Len() != 0 {
		t.Error("event without id must not touch the store")
	}
	if len(spy.calls) != 0 {
		t.Error("event without id must not be re-broadcast")
	}
}

func TestRunConsumesUntilClosed(t *testing.T) {
	r, store, _, _ := newTestReconciler()
	events := make(chan ChangeEvent, 4)
	events <- insertEvent("p1")
	events <- insertEvent("p2")
	close(events)

	done := make(chan struct{})
	go func() {
		r.Run(events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after channel close")
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 records, got %d", store.Len())
	}
}
