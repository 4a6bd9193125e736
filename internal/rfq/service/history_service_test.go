package service

import (
	"testing"
	"time"

	"github.com/factorypulse/pulse/internal/rfq/entity"
)

func transitionAt(toStage string, at time.Time) entity.StageTransition {
	return entity.StageTransition{
		ProjectID:   "p1",
		OrgID:       "org-1",
		ToStageID:   toStage,
		ToStageName: toStage,
		EnteredAt:   at,
	}
}

func TestPairHistoryDurations(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	records := []entity.StageTransition{
		transitionAt("s1", t0),
		transitionAt("s2", t0.Add(90*time.Minute)),
		transitionAt("s3", t0.Add(48*time.Hour)),
	}

	entries := pairHistory(records)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// First stage: exited when the second was entered
	if entries[0].ExitedAt == nil || !entries[0].ExitedAt.Equal(records[1].EnteredAt) {
		t.Errorf("entry 0 exited_at mismatch: %v", entries[0].ExitedAt)
	}
	if entries[0].DurationMinutes == nil || *entries[0].DurationMinutes != 90 {
		t.Errorf("entry 0 duration mismatch: %v", entries[0].DurationMinutes)
	}

	// Second stage: 48h - 90m
	wantMinutes := int64((48*time.Hour - 90*time.Minute).Minutes())
	if entries[1].DurationMinutes == nil || *entries[1].DurationMinutes != wantMinutes {
		t.Errorf("entry 1 duration mismatch: got %v want %d", entries[1].DurationMinutes, wantMinutes)
	}

	// Current stage stays open
	if entries[2].ExitedAt != nil || entries[2].DurationMinutes != nil {
		t.Errorf("last entry should be open: exited_at=%v duration=%v",
			entries[2].ExitedAt, entries[2].DurationMinutes)
	}
}

func TestPairHistoryEmptyAndSingle(t *testing.T) {
	if entries := pairHistory(nil); len(entries) != 0 {
		t.Errorf("empty input should yield no entries, got %d", len(entries))
	}

	single := pairHistory([]entity.StageTransition{
		transitionAt("s1", time.Now()),
	})
	if len(single) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(single))
	}
	if single[0].ExitedAt != nil {
		t.Error("sole entry is the current stage and must stay open")
	}
}
