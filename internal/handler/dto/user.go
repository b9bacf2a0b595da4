package dto

import (
	"time"

	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/service"
)

// RegisterRequest is the body of POST /api/v1/users/register.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest is the body of POST /api/v1/users/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required,max=128"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	CreditBalance int64     `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionResponse carries an access token.
type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// CreditsResponse is the body of GET /api/v1/users/credits.
type CreditsResponse struct {
	Credits int64        `json:"credits"`
	User    UserResponse `json:"user"`
}

// ToUserResponse converts a User model.
func ToUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		CreditBalance: u.CreditBalance,
		CreatedAt:     u.CreatedAt,
	}
}

// ToSessionResponse converts a Session.
func ToSessionResponse(s *service.Session) *SessionResponse {
	return &SessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      ToUserResponse(s.User),
	}
}
