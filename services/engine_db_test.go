package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placeQuestAPI/internal/definition"
	"placeQuestAPI/internal/ledger"
	"placeQuestAPI/internal/user"
)

// These tests exercise the transactional paths against a real database.
// They skip unless TEST_DATABASE_URL points at a Postgres instance with
// schema.sql applied.
func setupEngineDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DELETE FROM users WHERE clerk_id LIKE 'user_enginetest_%'")
		_, _ = pool.Exec(ctx, "DELETE FROM definitions WHERE code LIKE 'enginetest_%'")
		_, _ = pool.Exec(ctx, "DELETE FROM audit_logs WHERE actor LIKE 'enginetest%'")
		pool.Close()
	})

	return pool
}

func createTestUser(t *testing.T, pool *pgxpool.Pool) *user.User {
	t.Helper()

	svc := NewUserService(pool)
	u, err := svc.CreateUser(context.Background(), &user.CreateUserRequest{
		ClerkID:  "user_enginetest_" + uuid.NewString(),
		Email:    "enginetest@example.com",
		Username: "enginetest",
	})
	require.NoError(t, err)
	return u
}

func createTestDefinition(t *testing.T, pool *pgxpool.Pool, target int, coin, xp int64, schedule definition.ResetSchedule) definition.Definition {
	t.Helper()

	def := definition.Definition{
		ID:             uuid.New(),
		Code:           fmt.Sprintf("enginetest_%s", uuid.NewString()[:8]),
		Kind:           definition.KindAchievement,
		Title:          "Engine test",
		CriteriaAction: definition.ActionCheckin,
		CriteriaTarget: target,
		CoinReward:     coin,
		XPReward:       xp,
		ResetSchedule:  schedule,
		Level:          1,
		IsActive:       true,
	}
	_, err := pool.Exec(context.Background(), `
		INSERT INTO definitions (id, code, kind, title, criteria_action, criteria_target,
			coin_reward, xp_reward, reset_schedule, level, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, def.ID, def.Code, def.Kind, def.Title, def.CriteriaAction, def.CriteriaTarget,
		def.CoinReward, def.XPReward, def.ResetSchedule, def.Level, def.IsActive)
	require.NoError(t, err)
	return def
}

func TestApplyAdvance_ThresholdGrantsExactlyOnce(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	u := createTestUser(t, pool)
	def := createTestDefinition(t, pool, 2, 100, 50, definition.ResetNone)

	auditSvc := NewAuditService(pool)
	progressSvc := NewProgressService(pool, NewGrantService(pool, auditSvc))

	// First advance: below threshold, no grant.
	record, grant, err := progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, Delta: 1})
	require.NoError(t, err)
	assert.Nil(t, grant)
	assert.Equal(t, 1, record.CurrentCount)
	assert.False(t, record.Complete())

	// Second advance crosses the threshold: grant fires.
	record, grant, err = progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, Delta: 1})
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, int64(100), grant.CoinGranted)
	assert.Equal(t, int64(50), grant.ExpGranted)
	assert.True(t, record.Complete())

	// Third advance: completed records are terminal, no double grant.
	record, grant, err = progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, Delta: 1})
	require.NoError(t, err)
	assert.Nil(t, grant)
	assert.True(t, record.Complete())

	fresh, err := NewUserService(pool).GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), fresh.TotalCoin)
	assert.Equal(t, int64(50), fresh.TotalExp)
	assert.Equal(t, 1, fresh.TotalAchievement)
}

func TestApplyAdvance_ConcurrentCompletionGrantsOnce(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	u := createTestUser(t, pool)
	def := createTestDefinition(t, pool, 1, 100, 0, definition.ResetNone)

	progressSvc := NewProgressService(pool, NewGrantService(pool, NewAuditService(pool)))

	const workers = 8
	var wg sync.WaitGroup
	grants := make(chan *GrantResult, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, grant, err := progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, Delta: 1})
			if err == nil && grant != nil {
				grants <- grant
			}
		}()
	}
	wg.Wait()
	close(grants)

	granted := 0
	for range grants {
		granted++
	}
	assert.Equal(t, 1, granted, "exactly one worker should win the grant")

	fresh, err := NewUserService(pool).GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), fresh.TotalCoin)
}

func TestAdminGrant_SecondAttemptConflicts(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	u := createTestUser(t, pool)
	def := createTestDefinition(t, pool, 5, 10, 20, definition.ResetNone)

	grantSvc := NewGrantService(pool, NewAuditService(pool))

	result, err := grantSvc.AdminGrant(ctx, u.ID, def.ID, "enginetest-op")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.CoinGranted)

	_, err = grantSvc.AdminGrant(ctx, u.ID, def.ID, "enginetest-op")
	assert.ErrorIs(t, err, ErrAlreadyGranted)
}

func TestLedgerSumMatchesAggregate(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	u := createTestUser(t, pool)
	def := createTestDefinition(t, pool, 1, 70, 30, definition.ResetNone)

	progressSvc := NewProgressService(pool, NewGrantService(pool, NewAuditService(pool)))
	_, grant, err := progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, Delta: 1})
	require.NoError(t, err)
	require.NotNil(t, grant)

	ledgerSvc := NewLedgerService(pool)
	coinSum, err := ledgerSvc.SumFor(ctx, u.ID, ledger.CurrencyCoin)
	require.NoError(t, err)
	expSum, err := ledgerSvc.SumFor(ctx, u.ID, ledger.CurrencyExp)
	require.NoError(t, err)

	fresh, err := NewUserService(pool).GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.TotalCoin, coinSum)
	assert.Equal(t, fresh.TotalExp, expSum)
}

func TestRedeemReward_BalanceAndStock(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	u := createTestUser(t, pool)
	rewardSvc := NewRewardService(pool, NewAuditService(pool))

	rewardID := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO rewards (id, name, description, coin_price, stock, is_active)
		VALUES ($1, 'enginetest reward', '', 50, 1, TRUE)
	`, rewardID)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DELETE FROM rewards WHERE id = $1", rewardID)
	})

	// Broke user can't redeem.
	_, err = rewardSvc.RedeemReward(ctx, u.ID, rewardID)
	assert.ErrorIs(t, err, ErrInsufficientCoin)

	_, err = pool.Exec(ctx, `UPDATE users SET total_coin = 80 WHERE id = $1`, u.ID)
	require.NoError(t, err)

	redemption, err := rewardSvc.RedeemReward(ctx, u.ID, rewardID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), redemption.CoinSpent)

	fresh, err := NewUserService(pool).GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), fresh.TotalCoin)

	// Stock exhausted now.
	_, err = pool.Exec(ctx, `UPDATE users SET total_coin = 500 WHERE id = $1`, u.ID)
	require.NoError(t, err)
	_, err = rewardSvc.RedeemReward(ctx, u.ID, rewardID)
	assert.ErrorIs(t, err, ErrOutOfStock)
}

func TestMonthlyReset_ZeroesExpAndKeepsLedgerConsistent(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	u := createTestUser(t, pool)
	def := createTestDefinition(t, pool, 1, 0, 250, definition.ResetNone)

	auditSvc := NewAuditService(pool)
	progressSvc := NewProgressService(pool, NewGrantService(pool, auditSvc))
	_, grant, err := progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, Delta: 1})
	require.NoError(t, err)
	require.NotNil(t, grant)

	lbSvc := NewLeaderboardService(pool, auditSvc)

	// Without confirm nothing happens.
	err = lbSvc.MonthlyReset(ctx, "enginetest-op", false)
	assert.ErrorIs(t, err, ErrConfirmationRequired)

	require.NoError(t, lbSvc.MonthlyReset(ctx, "enginetest-op", true))

	fresh, err := NewUserService(pool).GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fresh.TotalExp)

	// The negative reset entry must bring the ledger sum back to zero.
	expSum, err := NewLedgerService(pool).SumFor(ctx, u.ID, ledger.CurrencyExp)
	require.NoError(t, err)
	assert.Equal(t, int64(0), expSum)

	// The fresh board opens empty, as a JSON array rather than null.
	var boardData string
	err = pool.QueryRow(ctx,
		`SELECT leaderboard_data::text FROM leaderboard_snapshots WHERE status = 'active'`,
	).Scan(&boardData)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", boardData)

	// A second reset finds nothing to do but still succeeds, and writes no
	// further ledger entries for already-zeroed users.
	var before int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, u.ID).Scan(&before))

	require.NoError(t, lbSvc.MonthlyReset(ctx, "enginetest-op", true))

	var after int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, u.ID).Scan(&after))
	assert.Equal(t, before, after)
}

func TestDailyDefinition_NewPeriodStartsFresh(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	u := createTestUser(t, pool)
	def := createTestDefinition(t, pool, 1, 10, 0, definition.ResetDaily)

	progressSvc := NewProgressService(pool, NewGrantService(pool, NewAuditService(pool)))

	today, err := timeInPeriod(def.ResetSchedule)
	require.NoError(t, err)

	_, grant, err := progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, PeriodDate: today, Delta: 1})
	require.NoError(t, err)
	require.NotNil(t, grant)

	// Same period: terminal.
	_, grant, err = progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, PeriodDate: today, Delta: 1})
	require.NoError(t, err)
	assert.Nil(t, grant)

	// Next day is a separate record, so the challenge completes again.
	tomorrow := today.AddDate(0, 0, 1)
	_, grant, err = progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, PeriodDate: tomorrow, Delta: 1})
	require.NoError(t, err)
	assert.NotNil(t, grant)
}

func timeInPeriod(schedule definition.ResetSchedule) (time.Time, error) {
	if schedule != definition.ResetDaily {
		return time.Time{}, fmt.Errorf("unexpected schedule %s", schedule)
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
}

func TestApplyAdvance_OversizedDeltaClampsAtTarget(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	u := createTestUser(t, pool)
	def := createTestDefinition(t, pool, 3, 30, 15, definition.ResetNone)

	progressSvc := NewProgressService(pool, NewGrantService(pool, NewAuditService(pool)))

	// A batch import worth ten checkins still lands exactly on the target:
	// progress past it is discarded and the grant fires once.
	record, grant, err := progressSvc.ApplyAdvance(ctx, u.ID, Advance{Definition: def, Delta: 10})
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, def.CriteriaTarget, record.CurrentCount)
	assert.Equal(t, record.TargetCount, record.CurrentCount)
	assert.True(t, record.Complete())

	fresh, err := NewUserService(pool).GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), fresh.TotalCoin)
	assert.Equal(t, int64(15), fresh.TotalExp)
}

func TestRefresh_SkipsWhileLockHeldThenRecovers(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	lbSvc := NewLeaderboardService(pool, NewAuditService(pool))

	// Hold the refresh lock from another session, as a job running on a
	// second instance would.
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	var held bool
	require.NoError(t, conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, refreshLockKey).Scan(&held))
	require.True(t, held)

	assert.ErrorIs(t, lbSvc.Refresh(ctx), ErrJobAlreadyRunning)

	var released bool
	require.NoError(t, conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, refreshLockKey).Scan(&released))
	require.True(t, released)
	conn.Release()

	// With the contender gone the refresh succeeds, and it must leave the
	// lock free again instead of stranding it on a pooled connection.
	require.NoError(t, lbSvc.Refresh(ctx))
	require.NoError(t, lbSvc.Refresh(ctx))
}

func TestRecordAction_FollowCreditsFollowedUser(t *testing.T) {
	pool := setupEngineDB(t)
	ctx := context.Background()

	follower := createTestUser(t, pool)
	followed := createTestUser(t, pool)

	auditSvc := NewAuditService(pool)
	progressSvc := NewProgressService(pool, NewGrantService(pool, auditSvc))
	actionSvc := NewActionService(pool, progressSvc, NewLeaderboardService(pool, auditSvc), NewNotificationService(pool))

	_, err := actionSvc.RecordAction(ctx, follower.ID, definition.ActionFollow,
		Payload{"followed_id": followed.ID.String()})
	require.NoError(t, err)

	userSvc := NewUserService(pool)
	freshFollowed, err := userSvc.GetUserByID(ctx, followed.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, freshFollowed.TotalFollower, "the follower total belongs to the followed user")

	freshFollower, err := userSvc.GetUserByID(ctx, follower.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, freshFollower.TotalFollower)
}
