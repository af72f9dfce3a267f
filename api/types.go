package api

import (
	"context"

	"taskboard-api/state"
	"taskboard-api/storage"
)

// Boards resolves the board session of a user.
type Boards interface {
	Session(userID string) (*state.Session, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents the same action from being applied twice.
type Deduper interface {
	// AddMany records the keys and reports, per key, whether it was newly added.
	AddMany(ctx context.Context, userID string, keys []string) ([]bool, error)
	// Remove deletes a previously added key so the caller may retry the action.
	Remove(ctx context.Context, userID, key string) error
}

// Journal receives every applied action.
type Journal interface {
	Append(ctx context.Context, userID string, entries []storage.JournalEntry) error
}

// JournalSink accepts applied actions for asynchronous publishing.
type JournalSink interface {
	Send(userID string, entries []storage.JournalEntry)
}
