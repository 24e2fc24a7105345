package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CreateUser inserts a user. An ID is generated when empty.
func (db *DB) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err := db.bun.NewInsert().Model(user).Exec(ctx)
	return err
}

// GetUser retrieves a user by ID. Returns nil if not found.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := db.bun.NewSelect().Model(&user).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by normalized email. Returns nil if not found.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if email == "" {
		return nil, nil
	}
	var user User
	err := db.bun.NewSelect().Model(&user).Where("email = ?", email).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByAccount retrieves the user linked to a provider account.
// Returns nil if the account is not linked.
func (db *DB) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error) {
	var user User
	err := db.bun.NewSelect().Model(&user).
		Where("id = (?)", db.bun.NewSelect().Model((*Account)(nil)).
			Column("user_id").
			Where("provider = ?", provider).
			Where("provider_account_id = ?", providerAccountID)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser updates the profile fields of an existing user.
func (db *DB) UpdateUser(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now()
	result, err := db.bun.NewUpdate().Model(user).
		Column("name", "email", "email_verified", "image", "updated_at").
		WherePK().
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

// DeleteUser removes a user together with their accounts and sessions.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	return db.bun.RunInTx(ctx, nil, func(txCtx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Account)(nil)).Where("user_id = ?", id).Exec(txCtx); err != nil {
			return fmt.Errorf("delete accounts: %w", err)
		}
		if _, err := tx.NewDelete().Model((*Session)(nil)).Where("user_id = ?", id).Exec(txCtx); err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		result, err := tx.NewDelete().Model((*User)(nil)).Where("id = ?", id).Exec(txCtx)
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
	})
}

// LinkAccount stores a provider account for a user. An ID is generated when empty.
func (db *DB) LinkAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now()
	_, err := db.bun.NewInsert().Model(account).Exec(ctx)
	return err
}

// CreateUserWithAccount inserts a user and its first provider account in one
// transaction, so a failed link leaves no user behind.
func (db *DB) CreateUserWithAccount(ctx context.Context, user *User, account *Account) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	account.CreatedAt = now
	account.UserID = user.ID

	return db.bun.RunInTx(ctx, nil, func(txCtx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(user).Exec(txCtx); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.NewInsert().Model(account).Exec(txCtx); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	})
}

// UnlinkAccount removes a provider account link.
func (db *DB) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	result, err := db.bun.NewDelete().Model((*Account)(nil)).
		Where("provider = ?", provider).
		Where("provider_account_id = ?", providerAccountID).
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

// ListAccounts returns the provider accounts linked to a user.
func (db *DB) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	var accounts []Account
	err := db.bun.NewSelect().Model(&accounts).
		Where("user_id = ?", userID).
		OrderExpr("created_at ASC").
		Scan(ctx)
	return accounts, err
}
