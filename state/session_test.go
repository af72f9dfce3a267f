package state

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

func TestSessionStartsLoading(t *testing.T) {
	logger, _ := newTestLogger()
	s := NewSession("user-1", newMemStore(), logger, time.Second)
	defer s.close()

	if snap := s.Snapshot(); snap.Phase != PhaseLoading {
		t.Fatalf("expected loading, got %v", snap.Phase)
	}
	if _, _, err := s.Dispatch(domain.AddList{Text: "x"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSessionLoadSeedsDefaultBoard(t *testing.T) {
	store := newMemStore()
	s := readySession(t, store)

	snap := s.Snapshot()
	if snap.Phase != PhaseReady {
		t.Fatalf("expected ready, got %v", snap.Phase)
	}
	if !reflect.DeepEqual(snap.Board, domain.DefaultBoard()) {
		t.Fatalf("expected default board, got %#v", snap.Board)
	}
	if _, saves := store.saved("user-1"); saves != 0 {
		t.Fatalf("seeding must not save, saves=%d", saves)
	}
}

func TestSessionLoadUsesStoredBoard(t *testing.T) {
	store := newMemStore()
	stored := domain.Board{Lists: []domain.List{{ID: "a", Text: "Only", Tasks: []domain.Task{}}}}
	store.boards["user-1"] = stored

	s := readySession(t, store)
	if got := s.Snapshot().Board; !reflect.DeepEqual(got, stored) {
		t.Fatalf("unexpected board: %#v", got)
	}
}

func TestSessionLoadFailureIsTerminal(t *testing.T) {
	store := newMemStore()
	store.loadErr = errBoom
	logger, hook := newTestLogger()
	s := NewSession("user-1", store, logger, time.Second)
	defer s.close()

	if err := s.Load(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected load error, got %v", err)
	}
	store.loadErr = nil
	if err := s.Load(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("second load must not retry, got %v", err)
	}
	if store.loads != 1 {
		t.Fatalf("expected one store load, got %d", store.loads)
	}

	snap := s.Snapshot()
	if snap.Phase != PhaseFailed || !errors.Is(snap.Err, errBoom) {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
	if _, _, err := s.Dispatch(domain.AddList{Text: "x"}); !errors.Is(err, ErrFailed) {
		t.Fatalf("expected ErrFailed, got %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error log, got %#v", entry)
	}
}

func TestSessionWaitBlocksUntilLoaded(t *testing.T) {
	store := newMemStore()
	store.gate = make(chan struct{})
	logger, _ := newTestLogger()
	s := NewSession("user-1", store, logger, time.Second)
	defer s.close()

	go func() { _ = s.Load(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	snap, err := s.Wait(ctx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) || snap.Phase != PhaseLoading {
		t.Fatalf("expected wait to time out while loading, got %v %v", snap.Phase, err)
	}

	close(store.gate)
	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err = s.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if snap.Phase != PhaseReady {
		t.Fatalf("expected ready, got %v", snap.Phase)
	}
}

func TestSessionDispatchSavesLatestBoard(t *testing.T) {
	store := newMemStore()
	s := readySession(t, store)

	board, applied, err := s.Dispatch(
		domain.AddList{Text: "Later"},
		domain.MoveList{DragIndex: 3, HoverIndex: 0},
	)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 applied, got %d", applied)
	}
	if board.Lists[0].Text != "Later" {
		t.Fatalf("unexpected first list: %#v", board.Lists[0])
	}

	flush(t, s)
	saved, _ := store.saved("user-1")
	if !reflect.DeepEqual(saved, board) {
		t.Fatalf("saved board differs:\n got %#v\nwant %#v", saved, board)
	}
}

func TestSessionDispatchStopsAtFirstError(t *testing.T) {
	store := newMemStore()
	s := readySession(t, store)

	board, applied, err := s.Dispatch(
		domain.AddList{Text: "Later"},
		domain.AddTask{Text: "orphan", ListID: "missing"},
		domain.AddList{Text: "Never"},
	)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if applied != 1 || len(board.Lists) != 4 {
		t.Fatalf("expected only the first action applied, applied=%d lists=%d", applied, len(board.Lists))
	}
	if got := s.Snapshot().Board; !reflect.DeepEqual(got, board) {
		t.Fatalf("session board differs from returned board")
	}
}

func TestSessionRejectedDispatchDoesNotSave(t *testing.T) {
	store := newMemStore()
	s := readySession(t, store)

	before := s.Snapshot().Board
	if _, applied, err := s.Dispatch(domain.MoveList{DragIndex: 9, HoverIndex: 0}); !errors.Is(err, domain.ErrIndexOutOfRange) || applied != 0 {
		t.Fatalf("expected out of range, applied=%d err=%v", applied, err)
	}
	flush(t, s)
	if _, saves := store.saved("user-1"); saves != 0 {
		t.Fatalf("expected no save, got %d", saves)
	}
	if !reflect.DeepEqual(s.Snapshot().Board, before) {
		t.Fatalf("board changed after rejected action")
	}
}

func TestSessionSnapshotIsACopy(t *testing.T) {
	s := readySession(t, newMemStore())

	snap := s.Snapshot()
	snap.Board.Lists[0].Text = "mutated"
	snap.Board.Lists[0].Tasks[0].Text = "mutated"

	again := s.Snapshot()
	if again.Board.Lists[0].Text == "mutated" || again.Board.Lists[0].Tasks[0].Text == "mutated" {
		t.Fatalf("snapshot shares memory with the session")
	}
}

func TestSessionSubscribe(t *testing.T) {
	s := readySession(t, newMemStore())

	ch, cancel := s.Subscribe()
	first := <-ch
	if first.Phase != PhaseReady || len(first.Board.Lists) != 3 {
		t.Fatalf("unexpected initial snapshot: %#v", first)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := s.Dispatch(domain.AddList{Text: "more"}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	select {
	case latest := <-ch:
		if len(latest.Board.Lists) != 6 {
			t.Fatalf("slow subscriber should see the latest board, got %d lists", len(latest.Board.Lists))
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot delivered")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after cancel")
	}
	if _, _, err := s.Dispatch(domain.AddList{Text: "after"}); err != nil {
		t.Fatalf("dispatch after cancel: %v", err)
	}
}

func TestSessionSubscribeSeesLoad(t *testing.T) {
	store := newMemStore()
	store.gate = make(chan struct{})
	logger, _ := newTestLogger()
	s := NewSession("user-1", store, logger, time.Second)
	defer s.close()

	ch, cancel := s.Subscribe()
	defer cancel()
	if snap := <-ch; snap.Phase != PhaseLoading {
		t.Fatalf("expected loading snapshot, got %v", snap.Phase)
	}

	go func() { _ = s.Load(context.Background()) }()
	close(store.gate)

	select {
	case snap := <-ch:
		if snap.Phase != PhaseReady {
			t.Fatalf("expected ready snapshot, got %v", snap.Phase)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("load was not published")
	}
}

func TestPhaseMarshalJSON(t *testing.T) {
	for phase, want := range map[Phase]string{
		PhaseLoading: `"loading"`,
		PhaseReady:   `"ready"`,
		PhaseFailed:  `"failed"`,
	} {
		got, err := phase.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal %v: %v", phase, err)
		}
		if string(got) != want {
			t.Fatalf("phase %d: got %s want %s", int(phase), got, want)
		}
	}
}
