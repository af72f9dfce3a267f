package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/storage"
)

// JournalSenderConfig sizes the worker pool that publishes applied actions.
type JournalSenderConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

type journalJob struct {
	userID  string
	entries []storage.JournalEntry
}

// JournalSender hands applied actions to the journal off the request path.
// When the buffer stays full for longer than the handoff timeout the
// request goroutine publishes inline instead.
type JournalSender struct {
	journal Journal
	log     *log.Logger
	cfg     JournalSenderConfig

	jobs chan journalJob
	wg   sync.WaitGroup
	mu   sync.RWMutex
}

func NewJournalSender(journal Journal, cfg JournalSenderConfig, logger *log.Logger) *JournalSender {
	if journal == nil {
		panic("api.NewJournalSender: journal is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	s := &JournalSender{
		journal: journal,
		log:     logger,
		cfg:     cfg,
		jobs:    make(chan journalJob, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i, s.jobs)
	}
	logger.Infof("journal sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return s
}

// Send publishes the entries asynchronously when possible.
func (s *JournalSender) Send(userID string, entries []storage.JournalEntry) {
	if len(entries) == 0 {
		return
	}
	job := journalJob{userID: userID, entries: entries}
	if s.tryEnqueue(job) {
		return
	}

	s.log.Warn("journal buffer saturated; publishing inline")
	s.publish(job, -1)
}

// Close stops accepting jobs and waits for the workers to drain the buffer.
func (s *JournalSender) Close() {
	s.mu.Lock()
	if s.jobs != nil {
		close(s.jobs)
		s.jobs = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *JournalSender) worker(id int, jobs <-chan journalJob) {
	defer s.wg.Done()
	for j := range jobs {
		s.publish(j, id)
	}
}

func (s *JournalSender) publish(j journalJob, worker int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	err := s.journal.Append(ctx, j.userID, j.entries)
	cancel()
	if err != nil {
		s.log.WithFields(log.Fields{
			"user_id": j.userID,
			"count":   len(j.entries),
			"worker":  worker,
		}).WithError(err).Error("journal append failed")
	}
}

func (s *JournalSender) tryEnqueue(job journalJob) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.jobs == nil {
		return false
	}

	if trySendNonBlocking(s.jobs, job) {
		return true
	}
	if s.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(s.cfg.HandoffTimeout)
	defer timer.Stop()
	return sendWithTimer(s.jobs, job, timer.C)
}

func trySendNonBlocking(ch chan<- journalJob, job journalJob) bool {
	select {
	case ch <- job:
		return true
	default:
		return false
	}
}

func sendWithTimer(ch chan<- journalJob, job journalJob, timer <-chan time.Time) bool {
	select {
	case ch <- job:
		return true
	case <-timer:
		return false
	}
}
