package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lgulliver/strongbox/pkg/config"
	"github.com/lgulliver/strongbox/pkg/types"
	"github.com/lgulliver/strongbox/pkg/utils"
	"github.com/rs/zerolog/log"
)

// TokenSubject is the subject of every token issued for the shared secret
const TokenSubject = "api-client"

// ErrUnauthorized is returned for a missing or wrong secret or token
var ErrUnauthorized = errors.New("unauthorized")

// Service guards the API with a single shared secret. The secret is kept
// only as a bcrypt hash; keys that passed the bcrypt check once are
// remembered by their SHA-256 digest so later requests skip the slow compare.
type Service struct {
	config     *config.AuthConfig
	secretHash string

	mu       sync.RWMutex
	verified map[string]struct{}
}

// NewService creates a new authentication service
func NewService(cfg *config.AuthConfig) (*Service, error) {
	if cfg.APIPassword == "" {
		return nil, fmt.Errorf("api password is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	hash, err := utils.HashPassword(cfg.APIPassword, cfg.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api password: %w", err)
	}

	return &Service{
		config:     cfg,
		secretHash: hash,
		verified:   make(map[string]struct{}),
	}, nil
}

// ValidateAPIKey checks key against the shared secret
func (s *Service) ValidateAPIKey(ctx context.Context, key string) error {
	if key == "" {
		return ErrUnauthorized
	}

	digest := utils.HashAPIKey(key)
	s.mu.RLock()
	_, ok := s.verified[digest]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	if !utils.CheckPassword(key, s.secretHash) {
		log.Debug().Msg("api key rejected")
		return ErrUnauthorized
	}

	s.mu.Lock()
	s.verified[digest] = struct{}{}
	s.mu.Unlock()
	return nil
}

// IssueToken exchanges the shared secret for a signed token
func (s *Service) IssueToken(ctx context.Context, key string) (*types.AuthToken, error) {
	if err := s.ValidateAPIKey(ctx, key); err != nil {
		return nil, err
	}

	token, expiresAt, err := utils.GenerateJWT(TokenSubject, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	log.Info().Time("expires_at", expiresAt).Msg("issued api token")
	return &types.AuthToken{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateToken validates a token and returns its subject
func (s *Service) ValidateToken(ctx context.Context, token string) (string, error) {
	subject, err := utils.ValidateJWT(token, s.config.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if subject != TokenSubject {
		return "", ErrUnauthorized
	}
	return subject, nil
}
