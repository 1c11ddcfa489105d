package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/ledger"
)

// LedgerService owns the append-only coin/exp transaction log. Entries are
// written through an open transaction by the granter and the reset job;
// reads are paginated history for the user API.
type LedgerService struct {
	db *pgxpool.Pool
}

func NewLedgerService(db *pgxpool.Pool) *LedgerService {
	return &LedgerService{db: db}
}

// appendEntry inserts one ledger row through q (usually a transaction owned
// by the caller). History is never edited; corrections are new signed rows.
func appendEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, currency, amount, related_kind, related_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, e.ID, e.UserID, e.Currency, e.Amount, e.RelatedKind, e.RelatedID, e.Note)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return nil
}

// History returns one page of a user's transactions, newest first, optionally
// filtered to one currency.
func (s *LedgerService) History(ctx context.Context, userID uuid.UUID, currency ledger.Currency, page, pageSize int) (*ledger.HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	where := `WHERE user_id = $1`
	args := []any{userID}
	if currency != "" {
		where += ` AND currency = $2`
		args = append(args, currency)
	}

	var totalCount int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries `+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, currency, amount, related_kind, related_id, note, created_at
		FROM ledger_entries
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT %d OFFSET %d
	`, where, pageSize, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		e := &ledger.Entry{}
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Currency,
			&e.Amount,
			&e.RelatedKind,
			&e.RelatedID,
			&e.Note,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	if entries == nil {
		entries = []*ledger.Entry{}
	}

	return &ledger.HistoryPage{
		Entries:    entries,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: totalCount,
	}, nil
}

// SumFor returns the signed total of a user's entries in one currency. The
// aggregate counter on the user row must always match this sum.
func (s *LedgerService) SumFor(ctx context.Context, userID uuid.UUID, currency ledger.Currency) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND currency = $2
	`, userID, currency).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return sum, nil
}
