package state

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/storage"
)

// autosaver persists boards for one user on its own goroutine. It holds at
// most one pending board: scheduling while a save is in flight replaces the
// pending board, so only the latest state is written once the store catches up.
type autosaver struct {
	store   storage.Store
	userID  string
	log     *log.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending *domain.Board
	idle    chan struct{} // closed once pending is drained, nil while idle

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newAutosaver(store storage.Store, userID string, logger *log.Logger, timeout time.Duration) *autosaver {
	a := &autosaver{
		store:   store,
		userID:  userID,
		log:     logger,
		timeout: timeout,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// schedule queues board for saving and returns immediately.
func (a *autosaver) schedule(board domain.Board) {
	a.mu.Lock()
	a.pending = &board
	if a.idle == nil {
		a.idle = make(chan struct{})
	}
	a.mu.Unlock()

	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Flush blocks until every scheduled board has been handed to the store or
// ctx is done.
func (a *autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	idle := a.idle
	a.mu.Unlock()
	if idle == nil {
		return nil
	}

	select {
	case <-idle:
		return nil
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// busy reports whether a board is pending or being saved.
func (a *autosaver) busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idle != nil
}

func (a *autosaver) close() {
	a.once.Do(func() { close(a.stop) })
	<-a.done
}

func (a *autosaver) run() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case <-a.kick:
		}

		for {
			a.mu.Lock()
			next := a.pending
			a.pending = nil
			if next == nil {
				if a.idle != nil {
					close(a.idle)
					a.idle = nil
				}
				a.mu.Unlock()
				break
			}
			a.mu.Unlock()

			a.save(*next)
		}
	}
}

func (a *autosaver) save(board domain.Board) {
	ctx := context.Background()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := a.store.Save(ctx, a.userID, board); err != nil {
		entry := a.log.WithFields(log.Fields{
			"user_id": a.userID,
			"lists":   len(board.Lists),
			"tasks":   board.TaskCount(),
		}).WithError(err)
		if errors.Is(err, storage.ErrBoardTooLarge) {
			entry.Error("board exceeds the storage limit, changes are not persisted")
			return
		}
		entry.Warn("board save failed")
		return
	}
	a.log.WithFields(log.Fields{
		"user_id":    a.userID,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("board saved")
}
