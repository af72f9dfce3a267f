package state

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/storage"
)

// RegistryConfig tunes the sessions a Registry hands out.
type RegistryConfig struct {
	// SaveTimeout bounds a single background save.
	SaveTimeout time.Duration
	// IdleTimeout evicts sessions nobody used for this long. Zero keeps
	// sessions for the life of the registry.
	IdleTimeout time.Duration
}

// Registry hands out one Session per user, creating it on first use and
// loading it in the background.
type Registry struct {
	store  storage.Store
	log    *log.Logger
	cfg    RegistryConfig
	base   context.Context
	cancel context.CancelFunc

	stopJanitor chan struct{}
	janitorDone chan struct{}

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

var ErrClosed = errors.New("registry is closed")

func NewRegistry(store storage.Store, logger *log.Logger, cfg RegistryConfig) *Registry {
	if store == nil {
		panic("state.NewRegistry: store is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		store:       store,
		log:         logger,
		cfg:         cfg,
		base:        ctx,
		cancel:      cancel,
		stopJanitor: make(chan struct{}),
		janitorDone: make(chan struct{}),
		sessions:    make(map[string]*Session),
	}
	if cfg.IdleTimeout > 0 {
		go r.janitor(max(cfg.IdleTimeout/2, time.Millisecond))
	} else {
		close(r.janitorDone)
	}
	return r
}

// Session returns the session for userID. Concurrent callers for the same
// user share one session and one load.
func (r *Registry) Session(userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.sessions[userID]; ok {
		s.touch()
		return s, nil
	}

	s := NewSession(userID, r.store, r.log, r.cfg.SaveTimeout)
	r.sessions[userID] = s
	go func() {
		_ = s.Load(r.base)
	}()
	return s, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) janitor(every time.Duration) {
	defer close(r.janitorDone)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopJanitor:
			return
		case now := <-ticker.C:
			if n := r.evictIdle(now.Add(-r.cfg.IdleTimeout)); n > 0 {
				r.log.Debugf("evicted idle sessions: %d, remaining: %d", n, r.Len())
			}
		}
	}
}

// evictIdle drops every session that was not used after cutoff and has
// nothing left to save, then stops their autosavers. A later Session call
// for the same user loads the board from the store again.
func (r *Registry) evictIdle(cutoff time.Time) int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	var evicted []*Session
	for userID, s := range r.sessions {
		if s.retire(cutoff) {
			delete(r.sessions, userID)
			evicted = append(evicted, s)
		}
	}
	r.mu.Unlock()

	for _, s := range evicted {
		s.close()
	}
	return len(evicted)
}

// Close stops accepting new sessions, flushes every pending save and stops
// the autosavers. Sessions whose flush did not finish before ctx expired
// are reported in the returned error and left running.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	close(r.stopJanitor)
	<-r.janitorDone

	var errs []error
	for _, s := range sessions {
		if err := s.Flush(ctx); err != nil {
			r.log.WithField("user_id", s.UserID()).WithError(err).Warn("flush on shutdown did not finish")
			errs = append(errs, err)
			continue
		}
		s.close()
	}
	r.cancel()
	r.log.Infof("session registry closed, sessions: %d", len(sessions))
	return errors.Join(errs...)
}
