package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard-api/domain"
	"taskboard-api/storage"
)

type memStore struct {
	mu       sync.Mutex
	boards   map[string]domain.Board
	saves    []domain.Board
	loadErr  error
	saveErr  error
	gate     chan struct{} // when set, Load waits for it
	saveGate chan struct{}
	loads    int
}

func newMemStore() *memStore {
	return &memStore{boards: make(map[string]domain.Board)}
}

func (m *memStore) Load(ctx context.Context, userID string) (domain.Board, error) {
	m.mu.Lock()
	m.loads++
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Board{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.Board{}, m.loadErr
	}
	b, ok := m.boards[userID]
	if !ok {
		return domain.Board{}, storage.ErrNotFound
	}
	return b.Clone(), nil
}

func (m *memStore) Save(ctx context.Context, userID string, board domain.Board) error {
	m.mu.Lock()
	gate := m.saveGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.boards[userID] = board.Clone()
	m.saves = append(m.saves, board.Clone())
	return nil
}

func (m *memStore) saved(userID string) (domain.Board, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boards[userID], len(m.saves)
}

func newTestLogger() (*log.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	return logger, hook
}

func readySession(t *testing.T, store *memStore) *Session {
	t.Helper()
	logger, _ := newTestLogger()
	s := NewSession("user-1", store, logger, time.Second)
	t.Cleanup(s.close)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

var errBoom = errors.New("boom")
