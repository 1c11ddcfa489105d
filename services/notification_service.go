package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/definition"
	"placeQuestAPI/internal/notification"
)

// PushProvider delivers a push message to a set of device tokens. FCM in
// production, a fake in tests.
type PushProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

type NotificationService struct {
	db   *pgxpool.Pool
	push PushProvider
}

func NewNotificationService(db *pgxpool.Pool) *NotificationService {
	return &NotificationService{db: db}
}

// SetPushProvider injects the provider after construction; pushes are
// skipped while it is nil.
func (s *NotificationService) SetPushProvider(p PushProvider) {
	s.push = p
}

// NotifyGrant stores an unlock notification and pushes it to the user's
// devices. Called after the granting transaction commits; failures here are
// logged, never propagated into the grant path.
func (s *NotificationService) NotifyGrant(ctx context.Context, userID uuid.UUID, result *GrantResult) {
	title := "Achievement unlocked!"
	if result.Kind == definition.KindChallenge {
		title = "Challenge completed!"
	}
	body := fmt.Sprintf("%s — +%d coin, +%d XP", result.Title, result.CoinGranted, result.ExpGranted)

	data := map[string]any{
		"definition_id": result.DefinitionID.String(),
		"code":          result.Code,
		"kind":          string(result.Kind),
		"coin":          result.CoinGranted,
		"xp":            result.ExpGranted,
	}

	if err := s.create(ctx, userID, title, body, data); err != nil {
		log.Printf("NotifyGrant: failed to store notification for user %s: %v", userID, err)
	}

	if s.push == nil {
		return
	}

	tokens, err := s.deviceTokens(ctx, userID)
	if err != nil {
		log.Printf("NotifyGrant: failed to load device tokens for user %s: %v", userID, err)
		return
	}

	if err := s.push.SendPush(ctx, tokens, title, body, data); err != nil {
		log.Printf("NotifyGrant: push failed for user %s: %v", userID, err)
	}
}

func (s *NotificationService) create(ctx context.Context, userID uuid.UUID, title, body string, data map[string]any) error {
	dataJSON, _ := json.Marshal(data)

	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, body, data, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New(), userID, title, body, dataJSON)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *NotificationService) deviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, token, platform
		FROM device_tokens
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []notification.DeviceToken
	for rows.Next() {
		var t notification.DeviceToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}

	return tokens, rows.Err()
}

// RegisterDevice upserts a push token for the user.
func (s *NotificationService) RegisterDevice(ctx context.Context, userID uuid.UUID, req *notification.RegisterDeviceRequest) error {
	platform := req.Platform
	if platform == "" {
		platform = "android"
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO device_tokens (id, user_id, token, platform, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, token) DO UPDATE SET platform = $4
	`, uuid.New(), userID, req.Token, platform)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}

	return nil
}

// GetNotifications returns the user's newest notifications.
func (s *NotificationService) GetNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*notification.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, title, body, data, read_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifs []*notification.Notification
	for rows.Next() {
		n := &notification.Notification{}
		var dataJSON []byte
		var createdAt time.Time
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &dataJSON, &n.ReadAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.CreatedAt = createdAt
		json.Unmarshal(dataJSON, &n.Data)
		notifs = append(notifs, n)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	if notifs == nil {
		notifs = []*notification.Notification{}
	}

	return notifs, nil
}
