// Package service provides account business logic: registration, login
// and profile lookup.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/imagify/imagify/internal/auth"
	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
)

// Service errors.
var (
	ErrInvalidName        = errors.New("name must be between 1 and 100 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be between 8 and 128 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

const (
	// DefaultSignupCredits is the starting balance of a new account.
	DefaultSignupCredits = 5

	maxNameLength     = 100
	maxEmailLength    = 254
	minPasswordLength = 8
)

// Welcomer sends the welcome message of a new account.
type Welcomer interface {
	Welcome(ctx context.Context, user *model.User) error
}

// Session is an issued access token.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// AccountService handles user accounts.
type AccountService struct {
	users         store.UserStore
	hasher        *auth.Hasher
	tokens        *auth.TokenIssuer
	welcomer      Welcomer
	signupCredits int64
	logger        *slog.Logger
	metrics       metrics.Recorder

	dummyOnce sync.Once
	dummyHash string
}

// AccountConfig configures an AccountService.
type AccountConfig struct {
	SignupCredits int64
	Welcomer      Welcomer
	Logger        *slog.Logger
	Metrics       metrics.Recorder
}

// NewAccountService creates a new AccountService.
func NewAccountService(users store.UserStore, hasher *auth.Hasher, tokens *auth.TokenIssuer, cfg AccountConfig) *AccountService {
	if cfg.SignupCredits < 0 {
		cfg.SignupCredits = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return &AccountService{
		users:         users,
		hasher:        hasher,
		tokens:        tokens,
		welcomer:      cfg.Welcomer,
		signupCredits: cfg.SignupCredits,
		logger:        cfg.Logger.With("component", "account"),
		metrics:       cfg.Metrics,
	}
}

// RegisterInput defines input for creating an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates an account with the signup credits and signs it in.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, ErrInvalidName
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if len(input.Password) < minPasswordLength || len(input.Password) > auth.MaxPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:            uuid.NewString(),
		Name:          name,
		Email:         email,
		PasswordHash:  hash,
		CreditBalance: s.signupCredits,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.signupCredits > 0 {
		s.metrics.IncCreditGranted("signup")
	}
	s.logger.Info("user registered", "user_id", user.ID)

	if s.welcomer != nil {
		if err := s.welcomer.Welcome(ctx, user); err != nil {
			s.logger.Warn("welcome notification failed", "user_id", user.ID, "error", err)
		}
	}

	return s.issue(user)
}

// Login verifies credentials and issues a token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *AccountService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			// Spend the same hashing work as a real check.
			_, _ = s.hasher.Verify(password, s.dummy())
			s.logger.Warn("login failed", "reason", "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.logger.Warn("login failed", "reason", "wrong_password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return s.issue(user)
}

// Profile returns the user with its current balance.
func (s *AccountService) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *AccountService) issue(user *model.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

func (s *AccountService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(uuid.NewString())
	})
	return s.dummyHash
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.ContainsAny(email, " \t\r\n") || !strings.Contains(domain, ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
