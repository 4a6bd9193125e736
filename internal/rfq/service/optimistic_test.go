package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/state"
	"go.uber.org/zap"
)

func optimisticFixture() (*OptimisticCoordinator, *state.ProjectStore, entity.Project) {
	store := state.NewProjectStore()
	original := entity.Project{
		ID:                     "p1",
		ProjectID:              "P-2026090101",
		Title:                  "原始标题",
		Status:                 entity.ProjectStatusActive,
		PriorityLevel:          entity.PriorityHigh,
		Notes:                  "原始备注",
		CustomerOrganizationID: "org-1",
	}
	store.Upsert(original)
	return NewOptimisticCoordinator(store, zap.NewNop()), store, original
}

func TestPerformAppliesThenConfirms(t *testing.T) {
	coord, store, original := optimisticFixture()

	tentative := original
	tentative.Title = "暂定标题"

	confirmed := original
	confirmed.Title = "服务端标题"

	var seenDuringConfirm entity.Project
	result := coord.Perform(context.Background(), OptimisticCommand{
		Kind:      CommandUpdate,
		ProjectID: "p1",
		Tentative: &tentative,
	}, func(ctx context.Context) (*entity.Project, error) {
		// The tentative data must already be visible while the remote
		// confirmation is in flight.
		seenDuringConfirm, _ = store.Get("p1")
		return &confirmed, nil
	})

	if !result.Success {
		t.Fatalf("expected success, got err=%v", result.Err)
	}
	if seenDuringConfirm.Title != "暂定标题" {
		t.Errorf("tentative data not applied before confirm: %q", seenDuringConfirm.Title)
	}
	got, _ := store.Get("p1")
	if got.Title != "服务端标题" {
		t.Errorf("confirmed data should win: %q", got.Title)
	}
}

func TestPerformRollsBackExactSnapshot(t *testing.T) {
	coord, store, original := optimisticFixture()

	tentative := original
	tentative.Title = "暂定标题"
	tentative.Notes = "暂定备注"

	result := coord.Perform(context.Background(), OptimisticCommand{
		Kind:      CommandUpdate,
		ProjectID: "p1",
		Tentative: &tentative,
	}, func(ctx context.Context) (*entity.Project, error) {
		return nil, errors.New("db down")
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	got, ok := store.Get("p1")
	if !ok {
		t.Fatal("record disappeared after rollback")
	}
	if !reflect.DeepEqual(got, original) {
		t.Errorf("rollback is not the exact prior snapshot:\n got %+v\nwant %+v", got, original)
	}
}

func TestPerformCreateRollbackRemoves(t *testing.T) {
	store := state.NewProjectStore()
	coord := NewOptimisticCoordinator(store, zap.NewNop())

	tentative := entity.Project{ID: "new1", Title: "新项目", CustomerOrganizationID: "org-1"}
	result := coord.Perform(context.Background(), OptimisticCommand{
		Kind:      CommandCreate,
		ProjectID: "new1",
		Tentative: &tentative,
	}, func(ctx context.Context) (*entity.Project, error) {
		return nil, errors.New("constraint violation")
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if _, ok := store.Get("new1"); ok {
		t.Error("failed create must not leave a phantom record")
	}
}

func TestPerformDeleteRollbackRestores(t *testing.T) {
	coord, store, original := optimisticFixture()

	result := coord.Perform(context.Background(), OptimisticCommand{
		Kind:      CommandDelete,
		ProjectID: "p1",
	}, func(ctx context.Context) (*entity.Project, error) {
		// Record is already gone locally while the delete is pending
		if _, ok := store.Get("p1"); ok {
			t.Error("tentative delete not applied before confirm")
		}
		return nil, errors.New("forbidden")
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	got, ok := store.Get("p1")
	if !ok {
		t.Fatal("record not restored after failed delete")
	}
	if !reflect.DeepEqual(got, original) {
		t.Errorf("restored record differs from snapshot: %+v", got)
	}
}

func TestPerformRejectsConcurrentUpdate(t *testing.T) {
	coord, _, original := optimisticFixture()

	tentative := original
	tentative.Title = "第一个更新"

	firstEntered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Perform(context.Background(), OptimisticCommand{
			Kind:      CommandUpdate,
			ProjectID: "p1",
			Tentative: &tentative,
		}, func(ctx context.Context) (*entity.Project, error) {
			close(firstEntered)
			<-release
			return &tentative, nil
		})
	}()

	<-firstEntered
	second := original
	second.Title = "第二个更新"
	result := coord.Perform(context.Background(), OptimisticCommand{
		Kind:      CommandUpdate,
		ProjectID: "p1",
		Tentative: &second,
	}, func(ctx context.Context) (*entity.Project, error) {
		t.Error("second confirm must never run")
		return nil, nil
	})

	if !errors.Is(result.Err, ErrUpdatePending) {
		t.Errorf("expected ErrUpdatePending, got %v", result.Err)
	}

	close(release)
	wg.Wait()

	// Once the first settles, the entity accepts updates again
	if coord.Pending("p1") {
		t.Error("pending flag not cleared after completion")
	}
}

func TestPerformDifferentEntitiesDoNotBlock(t *testing.T) {
	store := state.NewProjectStore()
	store.Upsert(entity.Project{ID: "a", CustomerOrganizationID: "org-1"})
	store.Upsert(entity.Project{ID: "b", CustomerOrganizationID: "org-1"})
	coord := NewOptimisticCoordinator(store, zap.NewNop())

	aEntered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pa := entity.Project{ID: "a", Title: "A"}
		coord.Perform(context.Background(), OptimisticCommand{
			Kind: CommandUpdate, ProjectID: "a", Tentative: &pa,
		}, func(ctx context.Context) (*entity.Project, error) {
			close(aEntered)
			<-release
			return &pa, nil
		})
	}()

	<-aEntered
	pb := entity.Project{ID: "b", Title: "B"}
	result := coord.Perform(context.Background(), OptimisticCommand{
		Kind: CommandUpdate, ProjectID: "b", Tentative: &pb,
	}, func(ctx context.Context) (*entity.Project, error) {
		return &pb, nil
	})
	if !result.Success {
		t.Errorf("update of a different entity blocked: %v", result.Err)
	}

	close(release)
	wg.Wait()
}

func TestPerformRequiresTentativeData(t *testing.T) {
	coord, _, _ := optimisticFixture()
	result := coord.Perform(context.Background(), OptimisticCommand{
		Kind:      CommandUpdate,
		ProjectID: "p1",
	}, func(ctx context.Context) (*entity.Project, error) {
		return nil, nil
	})
	if result.Err == nil {
		t.Error("update without tentative data should be rejected")
	}
}
