package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/audit"
	"placeQuestAPI/internal/progress"
)

// ProgressService advances per-(user, definition, period) counters. The
// find-or-create, increment, threshold check and grant all run in one
// transaction with the row locked, so two concurrent actions for the same
// key cannot both cross the threshold.
type ProgressService struct {
	db      *pgxpool.Pool
	granter *GrantService
}

func NewProgressService(db *pgxpool.Pool, granter *GrantService) *ProgressService {
	return &ProgressService{db: db, granter: granter}
}

// ApplyAdvance moves one progress record by the evaluator's verdict and
// grants on the first threshold crossing. Progress past the target is
// discarded, never banked for a future period. Returns a nil GrantResult
// when the advance did not complete the record.
func (s *ProgressService) ApplyAdvance(ctx context.Context, userID uuid.UUID, adv Advance) (*progress.Record, *GrantResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	def := adv.Definition
	record, err := lockProgressRecord(ctx, tx, userID, &def, adv.PeriodDate)
	if err != nil {
		return nil, nil, err
	}

	// Completed, non-resettable records stay complete; resettable ones get a
	// fresh row next period, so a completed row is always terminal.
	if record.Complete() {
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to commit no-op advance: %w", err)
		}
		return record, nil, nil
	}

	newCount := record.CurrentCount + adv.Delta
	if adv.SetToTarget {
		newCount = record.TargetCount
	}
	if newCount > record.TargetCount {
		newCount = record.TargetCount
	}

	if newCount == record.CurrentCount {
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to commit no-op advance: %w", err)
		}
		return record, nil, nil
	}

	completed := newCount >= record.TargetCount

	var completedAt *time.Time
	status := progress.StatusIncomplete
	if completed {
		now := time.Now()
		completedAt = &now
		status = progress.StatusComplete
	}

	_, err = tx.Exec(ctx, `
		UPDATE progress_records
		SET current_count = $2, status = $3, completed_at = $4, updated_at = NOW()
		WHERE id = $1
	`, record.ID, newCount, status, completedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to advance progress record: %w", err)
	}

	record.CurrentCount = newCount
	record.Status = status
	record.CompletedAt = completedAt

	var result *GrantResult
	if completed {
		// Sole organic trigger path for granting: threshold crossing inside
		// this transaction.
		result, err = s.granter.grantTx(ctx, tx, userID, &def, "system", audit.ActionGrant)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit advance: %w", err)
	}

	if completed {
		grantsTotal.WithLabelValues(string(def.Kind)).Inc()
	}

	return record, result, nil
}

// ListProgress returns every active definition with the user's progress in
// the definition's current period. Definitions the user never touched show
// zero counts.
func (s *ProgressService) ListProgress(ctx context.Context, userID uuid.UUID) ([]*progress.WithDefinition, error) {
	query := `
	SELECT
		d.id, d.code, d.kind, d.title, d.description, d.icon, d.criteria_action,
		d.criteria_target, d.max_rank, d.coin_reward, d.xp_reward, d.reset_schedule,
		d.level, d.required_definition_id, d.is_active, d.created_at,
		COALESCE(pr.current_count, 0) AS current_count,
		COALESCE(pr.target_count, d.criteria_target) AS target_count,
		COALESCE(pr.status, 'incomplete') AS status,
		pr.completed_at,
		pr.period_date
	FROM definitions d
	LEFT JOIN progress_records pr
		ON pr.definition_id = d.id
		AND pr.user_id = $1
		AND pr.period_date = CASE d.reset_schedule
			WHEN 'daily' THEN CURRENT_DATE
			WHEN 'weekly' THEN DATE_TRUNC('week', CURRENT_DATE)::DATE
			ELSE '0001-01-01'::DATE
		END
	WHERE d.is_active
	ORDER BY d.kind, d.level, d.criteria_target
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch progress: %w", err)
	}
	defer rows.Close()

	var items []*progress.WithDefinition
	for rows.Next() {
		item := &progress.WithDefinition{}
		err := rows.Scan(
			&item.Definition.ID,
			&item.Definition.Code,
			&item.Definition.Kind,
			&item.Definition.Title,
			&item.Definition.Description,
			&item.Definition.Icon,
			&item.Definition.CriteriaAction,
			&item.Definition.CriteriaTarget,
			&item.Definition.MaxRank,
			&item.Definition.CoinReward,
			&item.Definition.XPReward,
			&item.Definition.ResetSchedule,
			&item.Definition.Level,
			&item.Definition.RequiredDefinitionID,
			&item.Definition.IsActive,
			&item.Definition.CreatedAt,
			&item.CurrentCount,
			&item.TargetCount,
			&item.Status,
			&item.CompletedAt,
			&item.PeriodDate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress rows: %w", err)
	}

	if items == nil {
		items = []*progress.WithDefinition{}
	}

	return items, nil
}

// CompletedDefinitionIDs returns the definitions the user has ever completed,
// used by the evaluator's prerequisite gate.
func (s *ProgressService) CompletedDefinitionIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT definition_id
		FROM progress_records
		WHERE user_id = $1 AND status = 'complete'
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch completed definitions: %w", err)
	}
	defer rows.Close()

	completed := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan definition id: %w", err)
		}
		completed[id] = true
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completed definitions: %w", err)
	}

	return completed, nil
}
