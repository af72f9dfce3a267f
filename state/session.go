package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/storage"
)

// Session owns the board of a single user. Transitions are serialized by
// the session mutex; everything handed out is a deep copy.
type Session struct {
	userID string
	store  storage.Store
	log    *log.Logger
	saver  *autosaver

	loadOnce sync.Once
	loaded   chan struct{}
	lastUsed atomic.Int64 // unix nanos

	mu      sync.Mutex
	phase   Phase
	board   domain.Board
	loadErr error
	subs    map[int]chan Snapshot
	nextSub int
	retired bool
}

// ErrEvicted is returned by Dispatch on a session the registry dropped for
// being idle. Asking the registry again yields a fresh session.
var ErrEvicted = errors.New("session evicted")

// NewSession creates a session in the Loading phase. Nothing is read from
// the store until Load is called.
func NewSession(userID string, store storage.Store, logger *log.Logger, saveTimeout time.Duration) *Session {
	if store == nil {
		panic("state.NewSession: store is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	s := &Session{
		userID: userID,
		store:  store,
		log:    logger,
		saver:  newAutosaver(store, userID, logger, saveTimeout),
		loaded: make(chan struct{}),
		subs:   make(map[int]chan Snapshot),
	}
	s.touch()
	return s
}

func (s *Session) UserID() string { return s.userID }

// Load reads the board from the store and moves the session to Ready or
// Failed. Only the first call does any work; later calls return the
// outcome of the first.
func (s *Session) Load(ctx context.Context) error {
	s.loadOnce.Do(func() {
		start := time.Now()
		board, err := s.store.Load(ctx, s.userID)
		if errors.Is(err, storage.ErrNotFound) {
			s.log.WithField("user_id", s.userID).Info("no stored board, seeding default")
			board, err = domain.DefaultBoard(), nil
		}

		s.mu.Lock()
		if err != nil {
			s.phase = PhaseFailed
			s.loadErr = err
			s.log.WithField("user_id", s.userID).WithError(err).Error("board load failed")
		} else {
			s.phase = PhaseReady
			s.board = board.Clone()
			s.log.WithFields(log.Fields{
				"user_id":    s.userID,
				"lists":      len(board.Lists),
				"tasks":      board.TaskCount(),
				"elapsed_ms": time.Since(start).Milliseconds(),
			}).Debug("board loaded")
		}
		s.notifyLocked()
		s.mu.Unlock()
		close(s.loaded)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Wait blocks until the session has left the Loading phase or ctx is done.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.loaded:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Dispatch applies the actions in order. It stops at the first action the
// reducer rejects; actions before it stay applied. The returned board is
// the state after the last successful action and applied counts them.
func (s *Session) Dispatch(actions ...domain.Action) (board domain.Board, applied int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.retired {
		return domain.Board{}, 0, ErrEvicted
	}
	switch s.phase {
	case PhaseLoading:
		return domain.Board{}, 0, ErrNotReady
	case PhaseFailed:
		return domain.Board{}, 0, fmt.Errorf("%w: %v", ErrFailed, s.loadErr)
	}

	current := s.board
	for _, action := range actions {
		next, aerr := domain.Apply(current, action)
		if aerr != nil {
			err = fmt.Errorf("apply %s: %w", actionName(action), aerr)
			break
		}
		current = next
		applied++
	}

	if applied > 0 {
		s.board = current
		s.saver.schedule(current.Clone())
		s.notifyLocked()
	}
	return current.Clone(), applied, err
}

// Subscribe returns a channel that receives the current snapshot right away
// and again after every transition. A slow reader only sees the latest
// snapshot. cancel must be called to release the subscription. The channel
// of an evicted session is closed right away.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
			s.touch()
		})
	}
	return ch, cancel
}

// Flush waits for pending saves.
func (s *Session) Flush(ctx context.Context) error {
	return s.saver.Flush(ctx)
}

func (s *Session) close() {
	s.saver.close()
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// retire marks the session evicted if nothing used it after cutoff, it is
// not loading, nobody is subscribed and no save is outstanding. A retired
// session rejects further dispatches.
func (s *Session) retire(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return true
	}
	if s.phase == PhaseLoading || len(s.subs) > 0 || s.lastUsed.Load() > cutoff.UnixNano() || s.saver.busy() {
		return false
	}
	s.retired = true
	return true
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{Phase: s.phase, Err: s.loadErr}
	if s.phase == PhaseReady {
		snap.Board = s.board.Clone()
	}
	return snap
}

func (s *Session) notifyLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func actionName(a domain.Action) string {
	if a == nil {
		return "nil action"
	}
	return string(a.Type())
}
