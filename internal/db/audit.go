package db

import (
	"context"
	"fmt"
	"time"
)

// Audit actions recorded by the auth handlers.
const (
	AuditSignIn      = "signin"
	AuditSignOut     = "signout"
	AuditCreateUser  = "create_user"
	AuditLinkAccount = "link_account"
	AuditSignInError = "signin_error"
)

// LogAudit creates an audit log entry
func (db *DB) LogAudit(ctx context.Context, userID, action, provider, details string) error {
	entry := AuditLog{
		Timestamp: time.Now(),
		UserID:    userID,
		Action:    action,
		Provider:  provider,
		Details:   details,
	}
	_, err := db.bun.NewInsert().Model(&entry).Exec(ctx)
	return err
}

// AuditLogFilter holds query parameters for filtering audit logs
type AuditLogFilter struct {
	UserID string
	Action string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// AuditLogPage holds a page of audit log results with total count
type AuditLogPage struct {
	Logs  []AuditLog `json:"logs"`
	Total int        `json:"total"`
}

// QueryAuditLogs returns audit logs matching the given filter, newest first.
func (db *DB) QueryAuditLogs(ctx context.Context, filter AuditLogFilter) (*AuditLogPage, error) {
	q := db.bun.NewSelect().Model((*AuditLog)(nil))

	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if !filter.From.IsZero() {
		q = q.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("timestamp <= ?", filter.To)
	}

	total, err := q.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := max(filter.Offset, 0)

	var logs []AuditLog
	err = q.OrderExpr("timestamp DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx, &logs)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	if logs == nil {
		logs = []AuditLog{}
	}

	return &AuditLogPage{Logs: logs, Total: total}, nil
}
