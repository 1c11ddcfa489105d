package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/audit"
)

// AuditService records operator-visible log rows for grants, redemptions and
// reset batches. Writes are explicit calls from the services that cause them,
// never implicit save hooks.
type AuditService struct {
	db *pgxpool.Pool
}

func NewAuditService(db *pgxpool.Pool) *AuditService {
	return &AuditService{db: db}
}

// Record writes one audit row through q, which may be an open transaction so
// the audit row commits or rolls back with the operation it describes.
func (s *AuditService) Record(ctx context.Context, q querier, actor, action string, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (id, actor, action, details, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New(), actor, action, detailsJSON)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	return nil
}

// List returns the newest audit rows, optionally filtered to one action.
// The operator uses this to find the failing batch range after a partial
// reset.
func (s *AuditService) List(ctx context.Context, action string, limit int) ([]*audit.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, actor, action, details, created_at
		FROM audit_logs
		WHERE ($1 = '' OR action = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, action, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		e := &audit.Entry{}
		var detailsJSON []byte
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.CreatedAt = createdAt
		if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
			e.Details = map[string]any{"raw": string(detailsJSON)}
		}
		entries = append(entries, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return entries, nil
}
