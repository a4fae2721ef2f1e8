package auth

import (
	"context"
	"testing"
	"time"

	"github.com/lgulliver/strongbox/pkg/config"
	"github.com/lgulliver/strongbox/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestService(t *testing.T) *Service {
	authConfig := &config.AuthConfig{
		APIPassword:   "open-sesame",
		JWTSecret:     "test-secret-key-for-testing-purposes",
		JWTExpiration: time.Hour,
		BCryptCost:    4, // Low cost for testing speed
	}

	service, err := NewService(authConfig)
	require.NoError(t, err)
	return service
}

func TestNewService(t *testing.T) {
	service := setupTestService(t)

	assert.NotNil(t, service)
	assert.NotEqual(t, "open-sesame", service.secretHash)
	assert.True(t, utils.CheckPassword("open-sesame", service.secretHash))
	assert.Empty(t, service.verified)
}

func TestNewService_RequiresSecrets(t *testing.T) {
	_, err := NewService(&config.AuthConfig{JWTSecret: "x", BCryptCost: 4})
	assert.Error(t, err)

	_, err = NewService(&config.AuthConfig{APIPassword: "x", BCryptCost: 4})
	assert.Error(t, err)
}

func TestValidateAPIKey(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "correct key", key: "open-sesame"},
		{name: "wrong key", key: "open-sesame!", wantErr: true},
		{name: "empty key", key: "", wantErr: true},
		{name: "case matters", key: "Open-Sesame", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.ValidateAPIKey(ctx, tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateAPIKey_CachesVerifiedKeys(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, service.ValidateAPIKey(ctx, "open-sesame"))
	assert.Contains(t, service.verified, utils.HashAPIKey("open-sesame"))
	assert.Len(t, service.verified, 1)

	require.Error(t, service.ValidateAPIKey(ctx, "nope"))
	assert.Len(t, service.verified, 1)

	require.NoError(t, service.ValidateAPIKey(ctx, "open-sesame"))
}

func TestIssueToken(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	token, err := service.IssueToken(ctx, "open-sesame")
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, time.Minute)

	subject, err := service.ValidateToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenSubject, subject)
}

func TestIssueToken_WrongKey(t *testing.T) {
	service := setupTestService(t)

	token, err := service.IssueToken(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, token)
}

func TestValidateToken_Invalid(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	_, err := service.ValidateToken(ctx, "invalid.token.here")
	assert.ErrorIs(t, err, ErrUnauthorized)

	foreign, _, err := utils.GenerateJWT(TokenSubject, "some-other-secret", time.Hour)
	require.NoError(t, err)
	_, err = service.ValidateToken(ctx, foreign)
	assert.ErrorIs(t, err, ErrUnauthorized)

	otherSubject, _, err := utils.GenerateJWT("someone-else", service.config.JWTSecret, time.Hour)
	require.NoError(t, err)
	_, err = service.ValidateToken(ctx, otherSubject)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
