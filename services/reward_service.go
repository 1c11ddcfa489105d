package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/audit"
	"placeQuestAPI/internal/ledger"
	"placeQuestAPI/internal/reward"
)

type RewardService struct {
	db    *pgxpool.Pool
	audit *AuditService
}

func NewRewardService(db *pgxpool.Pool, auditSvc *AuditService) *RewardService {
	return &RewardService{db: db, audit: auditSvc}
}

// ListRewards returns the active catalog, cheapest first.
func (s *RewardService) ListRewards(ctx context.Context) ([]*reward.Reward, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, image_url, coin_price, stock, is_active, created_at
		FROM rewards
		WHERE is_active
		ORDER BY coin_price, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []*reward.Reward
	for rows.Next() {
		var r reward.Reward
		err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.ImageURL,
			&r.CoinPrice, &r.Stock, &r.IsActive, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, &r)
	}

	return rewards, rows.Err()
}

// RedeemReward spends coin on a reward. The debit, the stock decrement, and
// the redemption record commit together or not at all; both the reward row
// and the user row are locked so concurrent redemptions can't oversell
// stock or overspend a balance.
func (s *RewardService) RedeemReward(ctx context.Context, userID, rewardID uuid.UUID) (*reward.Redemption, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var r reward.Reward
	err = tx.QueryRow(ctx, `
		SELECT id, name, coin_price, stock, is_active
		FROM rewards
		WHERE id = $1
		FOR UPDATE
	`, rewardID).Scan(&r.ID, &r.Name, &r.CoinPrice, &r.Stock, &r.IsActive)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}
	if !r.IsActive {
		return nil, ErrRewardInactive
	}
	if r.Stock <= 0 {
		return nil, ErrOutOfStock
	}

	var totalCoin int64
	err = tx.QueryRow(ctx, `SELECT total_coin FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&totalCoin)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if totalCoin < r.CoinPrice {
		return nil, ErrInsufficientCoin
	}

	redemption := &reward.Redemption{
		ID:         uuid.New(),
		UserID:     userID,
		RewardID:   rewardID,
		CoinSpent:  r.CoinPrice,
		RedeemedAt: time.Now(),
	}

	entry := &ledger.Entry{
		UserID:      userID,
		Currency:    ledger.CurrencyCoin,
		Amount:      -r.CoinPrice,
		RelatedKind: ledger.RelatedRewardRedemption,
		RelatedID:   &redemption.ID,
		Note:        fmt.Sprintf("redeemed %s", r.Name),
	}
	if err := appendEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET total_coin = total_coin - $1, updated_at = NOW() WHERE id = $2`,
		r.CoinPrice, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to debit user: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE rewards SET stock = stock - 1 WHERE id = $1`, rewardID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrement stock: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reward_redemptions (id, user_id, reward_id, coin_spent, redeemed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, redemption.ID, redemption.UserID, redemption.RewardID, redemption.CoinSpent, redemption.RedeemedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record redemption: %w", err)
	}

	err = s.audit.Record(ctx, tx, userID.String(), audit.ActionRewardRedemption, map[string]any{
		"redemption_id": redemption.ID,
		"reward_id":     rewardID,
		"coin_spent":    r.CoinPrice,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	log.Printf("RedeemReward: user %s redeemed %s for %d coin", userID, r.Name, r.CoinPrice)
	return redemption, nil
}

// GetRedemptions lists a user's redemption history, newest first.
func (s *RewardService) GetRedemptions(ctx context.Context, userID uuid.UUID) ([]*reward.Redemption, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, reward_id, coin_spent, redeemed_at
		FROM reward_redemptions
		WHERE user_id = $1
		ORDER BY redeemed_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	defer rows.Close()

	var redemptions []*reward.Redemption
	for rows.Next() {
		var rd reward.Redemption
		if err := rows.Scan(&rd.ID, &rd.UserID, &rd.RewardID, &rd.CoinSpent, &rd.RedeemedAt); err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		redemptions = append(redemptions, &rd)
	}

	return redemptions, rows.Err()
}
