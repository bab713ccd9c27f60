package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	TenantID   string
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Payload    map[string]any
	At         time.Time
}

// AuditAppender appends audit records; storage mechanics live behind it.
type AuditAppender interface {
	Append(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db DBTX
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db DBTX) *AuditLogger {
	return &AuditLogger{db: db}
}

// Append persists the log entry.
func (l *AuditLogger) Append(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.TenantID == "" || log.Action == "" {
		return errors.New("audit log requires tenant and action")
	}
	payload, err := json.Marshal(log.Payload)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (tenant_id, user_id, action, entity_type, entity_id, payload, occurred_at) VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6, COALESCE($7, NOW()))`,
		log.TenantID, log.UserID, log.Action, log.EntityType, log.EntityID, payload, at)
	return err
}
