// Package auth exchanges static tokens for signed JWTs and resolves the
// bearer credentials on incoming requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/internal/storage"
	"github.com/haasonsaas/docsight/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// Session is the result of a successful token exchange.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
	User        *models.User
}

// Service resolves bearer credentials against the user store. A bearer
// value may be a signed JWT or the user's static token; both paths
// update last_seen.
type Service struct {
	users  storage.UserStore
	jwt    *JWTService
	expiry time.Duration
	log    *observability.Logger
}

// NewService constructs the auth service. JWT issuance stays disabled
// until a secret is configured; static tokens keep working either way.
func NewService(cfg config.AuthConfig, users storage.UserStore, log *observability.Logger) *Service {
	if log == nil {
		log = observability.NopLogger()
	}
	s := &Service{users: users, expiry: cfg.TokenExpiry(), log: log}
	if strings.TrimSpace(cfg.JWTSecretKey) != "" {
		s.jwt = NewJWTService(cfg.JWTSecretKey, cfg.TokenExpiry())
	}
	return s
}

// Exchange swaps a static token for a signed JWT session.
func (s *Service) Exchange(ctx context.Context, staticToken string) (*Session, error) {
	if s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	user, err := s.users.GetByStaticToken(ctx, strings.TrimSpace(staticToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("resolve static token: %w", err)
	}
	s.touch(ctx, user.ID)

	token, err := s.jwt.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.expiry / time.Second),
		User:        user,
	}, nil
}

// Authenticate resolves a bearer credential to a user. JWTs are tried
// first, then the static-token table.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*models.User, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, ErrInvalidToken
	}

	if s.jwt != nil {
		if userID, err := s.jwt.Validate(bearer); err == nil {
			user, err := s.users.GetByID(ctx, userID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, ErrInvalidToken
				}
				return nil, fmt.Errorf("load user: %w", err)
			}
			s.touch(ctx, user.ID)
			return user, nil
		}
	}

	user, err := s.users.GetByStaticToken(ctx, bearer)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("resolve static token: %w", err)
	}
	s.touch(ctx, user.ID)
	return user, nil
}

// Settings returns the user's settings, creating the defaults on first
// touch.
func (s *Service) Settings(ctx context.Context, userID string) (*models.UserSettings, error) {
	settings, err := s.users.GetSettings(ctx, userID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings, err = s.users.CreateDefaultSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	return settings, nil
}

func (s *Service) touch(ctx context.Context, userID string) {
	if err := s.users.UpdateLastSeen(ctx, userID); err != nil {
		s.log.Warn(ctx, "update last_seen failed", "user_id", userID, "error", err)
	}
}
