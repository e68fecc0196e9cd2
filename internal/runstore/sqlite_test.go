package runstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xiaohan0616/acpd/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	if err := store.Create(ctx, makeRun("r1", domain.RunStatusCreated), noopCancel); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.UpdateStatus(ctx, "r1", domain.RunStatusInProgress); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := store.Finish(ctx, "r1", domain.RunStatusCompleted); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.RunStatusCompleted || got.FinishedAt == nil {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestSQLiteAwaitTakeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	store.Create(ctx, makeRun("r1", domain.RunStatusInProgress), noopCancel)

	meta := domain.ToolConfirmationAwait{RequestID: "req-1", SessionID: "s1"}
	if err := store.SetAwaiting(ctx, "r1", domain.AwaitRequest{RequestType: "tool_confirmation"}, meta); err != nil {
		t.Fatalf("SetAwaiting failed: %v", err)
	}

	status, _ := store.GetStatus(ctx, "r1")
	if status != domain.RunStatusAwaiting {
		t.Fatalf("expected awaiting, got %s", status)
	}

	taken, ok, err := store.TakeAwaitIfAwaiting(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("first take should succeed, got ok=%v err=%v", ok, err)
	}
	tc, isTC := taken.(domain.ToolConfirmationAwait)
	if !isTC || tc.RequestID != "req-1" || tc.SessionID != "s1" {
		t.Fatalf("unexpected metadata: %+v", taken)
	}

	if _, ok, _ := store.TakeAwaitIfAwaiting(ctx, "r1"); ok {
		t.Fatal("second take should return nothing")
	}
}

func TestSQLiteEventOrderAndOutput(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	store.Create(ctx, makeRun("r1", domain.RunStatusInProgress), noopCancel)

	store.AppendEvent(ctx, "r1", domain.Event{Type: domain.EventTypeRunCreated})
	store.AppendEvent(ctx, "r1", domain.Event{Type: domain.EventTypeRunInProgress})
	store.AppendEvent(ctx, "r1", domain.Event{Type: domain.EventTypeRunCompleted})

	events, err := store.GetEvents(ctx, "r1")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 3 ||
		events[0].Type != domain.EventTypeRunCreated ||
		events[2].Type != domain.EventTypeRunCompleted {
		t.Fatalf("unexpected events: %+v", events)
	}

	store.AppendOutput(ctx, "r1", domain.Message{Role: domain.RoleAgent, Parts: []domain.MessagePart{domain.TextPart("a")}})
	store.AppendOutput(ctx, "r1", domain.Message{Role: domain.RoleAgent, Parts: []domain.MessagePart{domain.TextPart("b")}})

	run, _ := store.Get(ctx, "r1")
	if len(run.Output) != 2 || run.Output[1].Parts[0].Content != "b" {
		t.Fatalf("unexpected output: %+v", run.Output)
	}
}

func TestSQLiteNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	if _, err := store.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetEvents(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, _ := store.Cancel(ctx, "missing"); ok {
		t.Fatal("cancel on unknown run should report false")
	}
	if _, ok, err := store.TakeAwaitIfAwaiting(ctx, "missing"); ok || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound from take on unknown run, got ok=%v err=%v", ok, err)
	}
}

func TestSQLiteCancelHandle(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	runCtx, cancel := context.WithCancel(context.Background())
	store.Create(ctx, makeRun("r1", domain.RunStatusInProgress), cancel)

	ok, _ := store.Cancel(ctx, "r1")
	if !ok {
		t.Fatal("cancel should report true")
	}
	select {
	case <-runCtx.Done():
	default:
		t.Fatal("cancellation handle should report cancelled")
	}
}

func TestSQLiteEviction(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	active := makeRun("active", domain.RunStatusInProgress)
	store.Create(ctx, active, noopCancel)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < MaxCompletedRuns+10; i++ {
		run := makeRun(fmt.Sprintf("done-%04d", i), domain.RunStatusCompleted)
		at := base.Add(time.Duration(i) * time.Second)
		run.FinishedAt = &at
		store.Create(ctx, run, noopCancel)
	}

	if _, err := store.Get(ctx, "active"); err != nil {
		t.Fatalf("active run must survive eviction: %v", err)
	}
	if _, err := store.Get(ctx, "done-0000"); err != ErrNotFound {
		t.Fatalf("expected oldest run evicted, got %v", err)
	}

	runs, err := store.List(ctx, MaxCompletedRuns+100, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != MaxCompletedRuns+1 {
		t.Fatalf("expected %d runs, got %d", MaxCompletedRuns+1, len(runs))
	}
}

func TestSQLiteEvictionDropsCancelHandles(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	at := time.Now().Add(-time.Hour)
	victim := makeRun("victim", domain.RunStatusCompleted)
	victim.FinishedAt = &at
	store.Create(ctx, victim, noopCancel)

	base := time.Now().Add(-30 * time.Minute)
	for i := 0; i < MaxCompletedRuns; i++ {
		run := makeRun(fmt.Sprintf("done-%04d", i), domain.RunStatusCompleted)
		finished := base.Add(time.Duration(i) * time.Second)
		run.FinishedAt = &finished
		store.Create(ctx, run, noopCancel)
	}

	if _, err := store.Get(ctx, "victim"); err != ErrNotFound {
		t.Fatalf("expected victim evicted, got %v", err)
	}
	if ok, _ := store.Cancel(ctx, "victim"); ok {
		t.Fatal("expected victim cancel handle evicted")
	}

	store.mu.Lock()
	handles := len(store.cancels)
	store.mu.Unlock()
	if handles != MaxCompletedRuns {
		t.Fatalf("expected %d cancel handles after eviction, got %d", MaxCompletedRuns, handles)
	}
}
