package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/audit"
	"placeQuestAPI/internal/leaderboard"
	"placeQuestAPI/internal/ledger"
)

const (
	// Advisory lock keys keep the two maintenance jobs from overlapping
	// with themselves across instances.
	refreshLockKey = 0x504c4f01
	resetLockKey   = 0x504c4f02

	resetBatchSize  = 50
	defaultCacheTTL = 5 * time.Minute
)

type LeaderboardService struct {
	db    *pgxpool.Pool
	audit *AuditService

	mu       sync.RWMutex
	cache    map[string]cachedBoard
	cacheTTL time.Duration
}

// cachedBoard keeps the visible page plus the full ranked list, so a
// caller's own position can be answered from cache even when they sit
// below the page cutoff.
type cachedBoard struct {
	entries    []leaderboard.Entry
	full       []leaderboard.Entry
	totalUsers int
	expiresAt  time.Time
}

func NewLeaderboardService(db *pgxpool.Pool, auditSvc *AuditService) *LeaderboardService {
	return &LeaderboardService{
		db:       db,
		audit:    auditSvc,
		cache:    make(map[string]cachedBoard),
		cacheTTL: defaultCacheTTL,
	}
}

// acquireJobLock takes a session advisory lock on a connection pinned out of
// the pool. Session locks live on the connection that ran pg_try_advisory_lock,
// so both the lock and its unlock must run on that same connection; it stays
// checked out until the returned release func unlocks it and hands it back.
func (s *LeaderboardService) acquireJobLock(ctx context.Context, key int64) (func(), error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for job lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, ErrJobAlreadyRunning
	}

	return func() {
		var unlocked bool
		if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&unlocked); err != nil {
			log.Printf("acquireJobLock: failed to release advisory lock %d: %v", key, err)
		} else if !unlocked {
			log.Printf("acquireJobLock: advisory lock %d was not held on this connection", key)
		}
		conn.Release()
	}, nil
}

// Refresh rebuilds the active snapshot from the user aggregates and drops
// the cache. Safe to trigger from a cron-style caller on any instance; the
// advisory lock makes a concurrent refresh a no-op for the loser.
func (s *LeaderboardService) Refresh(ctx context.Context) error {
	unlock, err := s.acquireJobLock(ctx, refreshLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := s.readStandings(ctx)
	if err != nil {
		return err
	}
	leaderboard.SortAndRank(entries)

	if err := s.upsertActiveSnapshot(ctx, entries); err != nil {
		return err
	}

	s.invalidateCache()
	leaderboardRefreshes.Inc()
	log.Printf("Refresh: leaderboard snapshot rebuilt with %d entries", len(entries))
	return nil
}

func (s *LeaderboardService) upsertActiveSnapshot(ctx context.Context, entries []leaderboard.Entry) error {
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO leaderboard_snapshots (id, status, leaderboard_data, started_at)
		VALUES ($1, 'active', $2, NOW())
		ON CONFLICT (status) WHERE status = 'active'
		DO UPDATE SET leaderboard_data = EXCLUDED.leaderboard_data
	`, uuid.New(), data)
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (s *LeaderboardService) readStandings(ctx context.Context) ([]leaderboard.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, username, total_exp, total_coin, total_checkin
		FROM users
		ORDER BY total_exp DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read standings: %w", err)
	}
	defer rows.Close()

	var entries []leaderboard.Entry
	for rows.Next() {
		var e leaderboard.Entry
		if err := rows.Scan(&e.UserID, &e.Username, &e.TotalExp, &e.TotalCoin, &e.TotalCheckin); err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetTopUsers serves the all-time board from the active snapshot, cached in
// memory per limit. userID localizes the caller's own position even past
// the visible page.
func (s *LeaderboardService) GetTopUsers(ctx context.Context, userID uuid.UUID, limit int) (*leaderboard.Board, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	key := fmt.Sprintf("alltime:%d", limit)
	if c, ok := s.cached(key); ok {
		leaderboardCacheLookups.WithLabelValues("hit").Inc()
		return localize(c, userID), nil
	}
	leaderboardCacheLookups.WithLabelValues("miss").Inc()

	entries, _, err := s.activeSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	c := s.store(key, entries, limit)
	return localize(c, userID), nil
}

// GetTopUsersInWindow ranks users by exp earned inside the current week or
// month, summed from the ledger so the window survives the monthly reset.
// Window exp breaks ties on all-time coin, same as the main board.
func (s *LeaderboardService) GetTopUsersInWindow(ctx context.Context, userID uuid.UUID, window leaderboard.Window, limit int) (*leaderboard.Board, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var trunc string
	switch window {
	case leaderboard.WindowWeek:
		trunc = "week"
	case leaderboard.WindowMonth:
		trunc = "month"
	default:
		return nil, ErrUnknownWindow
	}

	key := fmt.Sprintf("%s:%d", window, limit)
	if c, ok := s.cached(key); ok {
		leaderboardCacheLookups.WithLabelValues("hit").Inc()
		return localize(c, userID), nil
	}
	leaderboardCacheLookups.WithLabelValues("miss").Inc()

	query := fmt.Sprintf(`
		SELECT u.id, u.username, COALESCE(SUM(l.amount), 0) AS window_exp, u.total_coin, u.total_checkin
		FROM users u
		JOIN ledger_entries l ON l.user_id = u.id
		WHERE l.currency = 'exp'
		  AND l.amount > 0
		  AND l.created_at >= DATE_TRUNC('%s', NOW())
		GROUP BY u.id, u.username, u.total_coin, u.total_checkin
	`, trunc)

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s standings: %w", window, err)
	}
	defer rows.Close()

	var entries []leaderboard.Entry
	for rows.Next() {
		var e leaderboard.Entry
		if err := rows.Scan(&e.UserID, &e.Username, &e.TotalExp, &e.TotalCoin, &e.TotalCheckin); err != nil {
			return nil, fmt.Errorf("failed to scan %s standing: %w", window, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	leaderboard.SortAndRank(entries)

	c := s.store(key, entries, limit)
	return localize(c, userID), nil
}

// GetUserRank answers "where am I" without paging the whole board. It reads
// the active snapshot first and falls back to a live count when the user
// joined after the last refresh.
func (s *LeaderboardService) GetUserRank(ctx context.Context, userID uuid.UUID) (*leaderboard.Entry, error) {
	entries, _, err := s.activeSnapshot(ctx)
	if err == nil {
		for i := range entries {
			if entries[i].UserID == userID {
				e := leaderboard.Positioned(entries[i])
				return &e, nil
			}
		}
	} else if err != ErrNotFound {
		return nil, err
	}

	var e leaderboard.Entry
	err = s.db.QueryRow(ctx, `
		SELECT u.id, u.username, u.total_exp, u.total_coin, u.total_checkin,
			(SELECT COUNT(*) + 1 FROM users o WHERE o.total_exp > u.total_exp) AS rank
		FROM users u
		WHERE u.id = $1
	`, userID).Scan(&e.UserID, &e.Username, &e.TotalExp, &e.TotalCoin, &e.TotalCheckin, &e.Rank)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to compute rank: %w", err)
	}
	e = leaderboard.Positioned(e)
	return &e, nil
}

// CurrentRank is the cheap variant the criteria evaluator uses for
// rank-gated definitions. Staleness is bounded by the snapshot refresh
// interval.
func (s *LeaderboardService) CurrentRank(ctx context.Context, userID uuid.UUID) (int, error) {
	entry, err := s.GetUserRank(ctx, userID)
	if err != nil {
		return leaderboard.UnrankedSentinel, err
	}
	return entry.Rank, nil
}

// MonthlyReset retires the active snapshot, zeroes every user's exp in
// batches, and opens a fresh board. The confirm flag guards against the
// endpoint being hit by accident; the advisory lock guards against the job
// running twice at once.
func (s *LeaderboardService) MonthlyReset(ctx context.Context, actor string, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}

	unlock, err := s.acquireJobLock(ctx, resetLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	snapshotID, err := s.retireActiveSnapshot(ctx)
	if err != nil {
		return err
	}

	if err := s.audit.Record(ctx, s.db, actor, audit.ActionResetStarted,
		map[string]any{"snapshot_id": snapshotID}); err != nil {
		return err
	}

	totalUsers := 0
	for {
		n, err := s.resetBatch(ctx, actor, snapshotID)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		totalUsers += n
		resetBatchesTotal.Inc()
	}

	if err := s.upsertActiveSnapshot(ctx, nil); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, s.db, actor, audit.ActionResetFinished,
		map[string]any{"snapshot_id": snapshotID, "users_reset": totalUsers}); err != nil {
		return err
	}

	s.invalidateCache()
	log.Printf("MonthlyReset: reset exp for %d users, retired snapshot %s", totalUsers, snapshotID)
	return nil
}

// retireActiveSnapshot freezes the final standings and flips the snapshot
// to inactive so the reset's ledger entries can point at the board they
// settled. With no active snapshot a fresh one is frozen immediately.
func (s *LeaderboardService) retireActiveSnapshot(ctx context.Context) (uuid.UUID, error) {
	entries, err := s.readStandings(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	leaderboard.SortAndRank(entries)

	if err := s.upsertActiveSnapshot(ctx, entries); err != nil {
		return uuid.Nil, err
	}

	var snapshotID uuid.UUID
	err = s.db.QueryRow(ctx, `
		UPDATE leaderboard_snapshots
		SET status = 'inactive', ended_at = NOW()
		WHERE status = 'active'
		RETURNING id
	`).Scan(&snapshotID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to retire snapshot: %w", err)
	}
	return snapshotID, nil
}

// resetBatch zeroes one batch of users inside a single transaction:
// a negative exp ledger entry per user so history still sums to the
// aggregate, the aggregate update itself, and an audit row recording the
// id range. SKIP LOCKED lets the batch coexist with in-flight grants.
func (s *LeaderboardService) resetBatch(ctx context.Context, actor string, snapshotID uuid.UUID) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin reset batch: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, total_exp FROM users
		WHERE total_exp <> 0
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, resetBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to select reset batch: %w", err)
	}

	type userExp struct {
		id  uuid.UUID
		exp int64
	}
	var batch []userExp
	for rows.Next() {
		var r userExp
		if err := rows.Scan(&r.id, &r.exp); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan reset row: %w", err)
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	for _, r := range batch {
		entry := &ledger.Entry{
			UserID:      r.id,
			Currency:    ledger.CurrencyExp,
			Amount:      -r.exp,
			RelatedKind: ledger.RelatedLeaderboardReset,
			RelatedID:   &snapshotID,
			Note:        "monthly leaderboard reset",
		}
		if err := appendEntry(ctx, tx, entry); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE users SET total_exp = 0, updated_at = NOW() WHERE id = $1`, r.id); err != nil {
			return 0, fmt.Errorf("failed to zero user exp: %w", err)
		}
	}

	err = s.audit.Record(ctx, tx, actor, audit.ActionResetBatch, map[string]any{
		"snapshot_id": snapshotID,
		"batch_size":  len(batch),
		"first_user":  batch[0].id,
		"last_user":   batch[len(batch)-1].id,
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit reset batch: %w", err)
	}
	return len(batch), nil
}

func (s *LeaderboardService) activeSnapshot(ctx context.Context) ([]leaderboard.Entry, time.Time, error) {
	var data []byte
	var startedAt time.Time
	err := s.db.QueryRow(ctx,
		`SELECT leaderboard_data, started_at FROM leaderboard_snapshots WHERE status = 'active'`,
	).Scan(&data, &startedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("failed to load active snapshot: %w", err)
	}

	var entries []leaderboard.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return entries, startedAt, nil
}

// ClearCache drops every cached board. Exposed to operators for use after
// out-of-band data fixes.
func (s *LeaderboardService) ClearCache() {
	s.invalidateCache()
}

func (s *LeaderboardService) cached(key string) (cachedBoard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[key]
	if !ok || time.Now().After(c.expiresAt) {
		return cachedBoard{}, false
	}
	return c, true
}

func (s *LeaderboardService) store(key string, full []leaderboard.Entry, limit int) cachedBoard {
	page := full
	if len(page) > limit {
		page = page[:limit]
	}
	c := cachedBoard{
		entries:    page,
		full:       full,
		totalUsers: len(full),
		expiresAt:  time.Now().Add(s.cacheTTL),
	}
	s.mu.Lock()
	s.cache[key] = c
	s.mu.Unlock()
	return c
}

func (s *LeaderboardService) invalidateCache() {
	s.mu.Lock()
	s.cache = make(map[string]cachedBoard)
	s.mu.Unlock()
}

// localize builds a response board and fills in the caller's own position,
// including users ranked below the visible page.
func localize(c cachedBoard, userID uuid.UUID) *leaderboard.Board {
	board := &leaderboard.Board{Entries: c.entries, TotalUsers: c.totalUsers}
	for i := range c.full {
		if c.full[i].UserID == userID {
			pos := c.full[i]
			board.UserPosition = &pos
			break
		}
	}
	return board
}
