package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard-api/storage"
)

type recordingJournal struct {
	mu      sync.Mutex
	calls   map[string][]storage.JournalEntry
	block   chan struct{}
	err     error
	entered chan struct{}
}

func newRecordingJournal() *recordingJournal {
	return &recordingJournal{calls: make(map[string][]storage.JournalEntry)}
}

func (r *recordingJournal) Append(ctx context.Context, userID string, entries []storage.JournalEntry) error {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls[userID] = append(r.calls[userID], entries...)
	return nil
}

func (r *recordingJournal) entries(userID string) []storage.JournalEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.JournalEntry(nil), r.calls[userID]...)
}

func TestJournalSenderDeliversOnClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	journal := newRecordingJournal()
	sender := NewJournalSender(journal, JournalSenderConfig{Workers: 2, Buffer: 8, Timeout: time.Second}, logger)

	for i := 0; i < 5; i++ {
		sender.Send("user", []storage.JournalEntry{{Timestamp: int64(i)}})
	}
	sender.Send("user", nil)
	sender.Close()

	if got := len(journal.entries("user")); got != 5 {
		t.Fatalf("expected 5 entries, got %d", got)
	}
}

func TestJournalSenderFallsBackInline(t *testing.T) {
	logger, hook := test.NewNullLogger()
	journal := newRecordingJournal()
	journal.block = make(chan struct{})
	journal.entered = make(chan struct{}, 4)
	sender := NewJournalSender(journal, JournalSenderConfig{Workers: 1, Buffer: 0, Timeout: time.Second, HandoffTimeout: 50 * time.Millisecond}, logger)

	// occupy the only worker
	sender.Send("user", []storage.JournalEntry{{Timestamp: 1}})
	<-journal.entered

	done := make(chan struct{})
	go func() {
		sender.Send("user", []storage.JournalEntry{{Timestamp: 2}})
		close(done)
	}()
	<-journal.entered
	close(journal.block)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("inline send did not finish")
	}
	sender.Close()

	if got := len(journal.entries("user")); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "journal buffer saturated; publishing inline" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected saturation warning")
	}
}

func TestJournalSenderLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	journal := newRecordingJournal()
	journal.err = errors.New("queue down")
	sender := NewJournalSender(journal, JournalSenderConfig{Workers: 1, Buffer: 1, Timeout: time.Second}, logger)

	sender.Send("user", []storage.JournalEntry{{Timestamp: 1}})
	sender.Close()

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "journal append failed" || entry.Data["user_id"] != "user" {
		t.Fatalf("expected failure log, got %#v", entry)
	}
}

func TestSendAfterCloseRunsInline(t *testing.T) {
	logger, _ := test.NewNullLogger()
	journal := newRecordingJournal()
	sender := NewJournalSender(journal, JournalSenderConfig{Workers: 1, Buffer: 1, Timeout: time.Second}, logger)
	sender.Close()

	sender.Send("user", []storage.JournalEntry{{Timestamp: 1}})
	if got := len(journal.entries("user")); got != 1 {
		t.Fatalf("expected inline delivery after close, got %d", got)
	}
}

func TestSendWithTimerTimesOut(t *testing.T) {
	ch := make(chan journalJob)
	timer := time.NewTimer(10 * time.Millisecond)
	defer timer.Stop()
	if sendWithTimer(ch, journalJob{}, timer.C) {
		t.Fatal("expected send to time out with no receiver")
	}
}

func TestTrySendNonBlocking(t *testing.T) {
	ch := make(chan journalJob, 1)
	if !trySendNonBlocking(ch, journalJob{}) {
		t.Fatal("expected send into empty buffer")
	}
	if trySendNonBlocking(ch, journalJob{}) {
		t.Fatal("expected full buffer to refuse")
	}
}
