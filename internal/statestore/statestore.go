// Package statestore persists the per-attempt values of an OAuth
// authorization-code flow between the redirect to the provider and the
// callback. Entries are single use: Consume removes what it returns.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjsadow/passage/internal/db"
)

// Entry is one in-flight authorization attempt.
type Entry struct {
	State        string    `json:"state"`
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	Nonce        string    `json:"nonce,omitempty"`
	CallbackURL  string    `json:"callback_url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the entry is no longer usable at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store saves and consumes OAuth state entries.
type Store interface {
	// Save stores an entry until its ExpiresAt.
	Save(ctx context.Context, entry *Entry) error

	// Consume atomically loads and removes an entry. It returns nil, nil when
	// the state is unknown, already used or expired.
	Consume(ctx context.Context, state string) (*Entry, error)
}

// DBStore keeps state in the oauth_states table, so any replica sharing the
// database can complete a flow started by another.
type DBStore struct {
	db  *db.DB
	now func() time.Time
}

// NewDBStore returns a Store backed by the database.
func NewDBStore(database *db.DB) *DBStore {
	return &DBStore{db: database, now: time.Now}
}

func (s *DBStore) Save(ctx context.Context, entry *Entry) error {
	if entry.State == "" {
		return errors.New("state is required")
	}
	err := s.db.SaveOAuthState(ctx, &db.OAuthState{
		State:        entry.State,
		Provider:     entry.Provider,
		CodeVerifier: entry.CodeVerifier,
		Nonce:        entry.Nonce,
		CallbackURL:  entry.CallbackURL,
		ExpiresAt:    entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

func (s *DBStore) Consume(ctx context.Context, state string) (*Entry, error) {
	found, err := s.db.ConsumeOAuthState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if found == nil {
		return nil, nil
	}

	entry := &Entry{
		State:        found.State,
		Provider:     found.Provider,
		CodeVerifier: found.CodeVerifier,
		Nonce:        found.Nonce,
		CallbackURL:  found.CallbackURL,
		ExpiresAt:    found.ExpiresAt,
	}
	if entry.Expired(s.now()) {
		return nil, nil
	}
	return entry, nil
}

var (
	_ Store = (*DBStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
