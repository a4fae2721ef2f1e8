package middleware

import (
	"context"
)

// AuthServiceInterface defines the contract for authentication services
type AuthServiceInterface interface {
	ValidateToken(ctx context.Context, token string) (string, error)
	ValidateAPIKey(ctx context.Context, apiKey string) error
}
