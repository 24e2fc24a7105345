package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// CreateVerificationToken stores a hashed magic-link token.
func (db *DB) CreateVerificationToken(ctx context.Context, token *VerificationToken) error {
	_, err := db.bun.NewInsert().Model(token).Exec(ctx)
	return err
}

// DeleteVerificationToken removes a token that will never be delivered.
// Deleting a missing token is not an error.
func (db *DB) DeleteVerificationToken(ctx context.Context, identifier, tokenHash string) error {
	_, err := db.bun.NewDelete().Model((*VerificationToken)(nil)).
		Where("identifier = ?", identifier).
		Where("token_hash = ?", tokenHash).
		Exec(ctx)
	return err
}

// UseVerificationToken atomically loads and deletes a verification token so
// that it can be redeemed only once. Returns nil if no such token exists.
// Expiry is left to the caller.
func (db *DB) UseVerificationToken(ctx context.Context, identifier, tokenHash string) (*VerificationToken, error) {
	var token *VerificationToken
	err := db.bun.RunInTx(ctx, nil, func(txCtx context.Context, tx bun.Tx) error {
		var entry VerificationToken
		err := tx.NewSelect().Model(&entry).
			Where("identifier = ?", identifier).
			Where("token_hash = ?", tokenHash).
			Scan(txCtx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		result, err := tx.NewDelete().Model((*VerificationToken)(nil)).
			Where("identifier = ?", identifier).
			Where("token_hash = ?", tokenHash).
			Exec(txCtx)
		if err != nil {
			return err
		}
		// A concurrent redemption already removed it.
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			return nil
		}
		token = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// SaveOAuthState stores the state of an in-flight authorization-code flow.
func (db *DB) SaveOAuthState(ctx context.Context, state *OAuthState) error {
	_, err := db.bun.NewInsert().Model(state).Exec(ctx)
	return err
}

// ConsumeOAuthState atomically loads and deletes an OAuth state entry.
// Returns nil if not found.
func (db *DB) ConsumeOAuthState(ctx context.Context, state string) (*OAuthState, error) {
	var found *OAuthState
	err := db.bun.RunInTx(ctx, nil, func(txCtx context.Context, tx bun.Tx) error {
		var entry OAuthState
		err := tx.NewSelect().Model(&entry).Where("state = ?", state).Scan(txCtx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		result, err := tx.NewDelete().Model((*OAuthState)(nil)).Where("state = ?", state).Exec(txCtx)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			return nil
		}
		found = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
