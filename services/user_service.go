package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/user"
)

const userColumns = `id, clerk_id, email, username, image_url,
	total_exp, total_coin, total_checkin, total_review, total_follower,
	total_achievement, total_challenge, created_at, updated_at`

type UserService struct {
	db *pgxpool.Pool
}

func NewUserService(db *pgxpool.Pool) *UserService {
	return &UserService{db: db}
}

func (s *UserService) CreateUser(ctx context.Context, req *user.CreateUserRequest) (*user.User, error) {
	u := &user.User{
		ID:        uuid.New(),
		ClerkID:   req.ClerkID,
		Email:     req.Email,
		Username:  req.Username,
		ImageURL:  req.ImageURL,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	query := `
	INSERT INTO users (id, clerk_id, email, username, image_url, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ` + userColumns

	err := s.db.QueryRow(
		ctx,
		query,
		u.ID,
		u.ClerkID,
		u.Email,
		u.Username,
		u.ImageURL,
		u.CreatedAt,
		u.UpdatedAt,
	).Scan(scanUserFields(u)...)

	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return u, nil
}

func (s *UserService) GetUserByClerkID(ctx context.Context, clerkID string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE clerk_id = $1`

	u := &user.User{}
	err := s.db.QueryRow(ctx, query, clerkID).Scan(scanUserFields(u)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}

func (s *UserService) GetUserByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u := &user.User{}
	err := s.db.QueryRow(ctx, query, id).Scan(scanUserFields(u)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}

// ResolveUserID maps a Clerk ID onto the internal user ID without loading
// the full row.
func (s *UserService) ResolveUserID(ctx context.Context, clerkID string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM users WHERE clerk_id = $1`, clerkID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return userID, nil
}

func scanUserFields(u *user.User) []any {
	return []any{
		&u.ID,
		&u.ClerkID,
		&u.Email,
		&u.Username,
		&u.ImageURL,
		&u.TotalExp,
		&u.TotalCoin,
		&u.TotalCheckin,
		&u.TotalReview,
		&u.TotalFollower,
		&u.TotalAchievement,
		&u.TotalChallenge,
		&u.CreatedAt,
		&u.UpdatedAt,
	}
}
