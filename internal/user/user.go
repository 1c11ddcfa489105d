package user

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID               uuid.UUID `json:"id"`
	ClerkID          string    `json:"clerkId"`
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	ImageURL         *string   `json:"imageUrl,omitempty"`
	TotalExp         int64     `json:"total_exp"`
	TotalCoin        int64     `json:"total_coin"`
	TotalCheckin     int       `json:"total_checkin"`
	TotalReview      int       `json:"total_review"`
	TotalFollower    int       `json:"total_follower"`
	TotalAchievement int       `json:"total_achievement"`
	TotalChallenge   int       `json:"total_challenge"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type CreateUserRequest struct {
	ClerkID  string  `json:"clerk_id"`
	Email    string  `json:"email"`
	Username string  `json:"username"`
	ImageURL *string `json:"image_url"`
}
