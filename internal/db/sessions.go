package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CreateSession stores a new database session.
func (db *DB) CreateSession(ctx context.Context, session *Session) error {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	_, err := db.bun.NewInsert().Model(session).Exec(ctx)
	return err
}

// GetSessionAndUser loads a session and its user by session token.
// Returns nil, nil, nil when the token is unknown or the user is gone.
func (db *DB) GetSessionAndUser(ctx context.Context, sessionToken string) (*Session, *User, error) {
	var session Session
	err := db.bun.NewSelect().Model(&session).Where("session_token = ?", sessionToken).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	user, err := db.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, nil
	}
	return &session, user, nil
}

// UpdateSessionExpiry extends a session.
func (db *DB) UpdateSessionExpiry(ctx context.Context, sessionToken string, expires time.Time) error {
	result, err := db.bun.NewUpdate().Model((*Session)(nil)).
		Set("expires = ?", expires).
		Set("updated_at = ?", time.Now()).
		Where("session_token = ?", sessionToken).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteSession removes a session. Deleting an unknown token is not an error.
func (db *DB) DeleteSession(ctx context.Context, sessionToken string) error {
	_, err := db.bun.NewDelete().Model((*Session)(nil)).
		Where("session_token = ?", sessionToken).
		Exec(ctx)
	return err
}

// ListSessionsByUser returns the sessions of a user, newest first.
func (db *DB) ListSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := db.bun.NewSelect().Model(&sessions).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	return sessions, err
}
