package services

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-inbox/models"
)

const testSecret = "inbox-token-test-secret-32bytes!"

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)

	token, expires, err := issuer.Issue(models.Agent{ID: "A", DisplayName: "Ana", Role: models.RoleSeller})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	actor, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.Actor{ID: "A", Name: "Ana", Role: models.RoleSeller}, actor)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)

	other, _, err := NewTokenIssuer("another-secret-another-secret!!!", time.Hour).
		Issue(models.Agent{ID: "A", Role: models.RoleAdmin})
	require.NoError(t, err)
	_, err = issuer.Verify(other)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = issuer.Verify("not-a-jwt")
	assert.True(t, errors.Is(err, ErrInvalidToken))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, AgentClaims{
		Role: models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "A",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = issuer.Verify(signed)
	assert.True(t, errors.Is(err, ErrExpiredToken))

	badRole := jwt.NewWithClaims(jwt.SigningMethodHS256, AgentClaims{
		Role:             "owner",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "A"},
	})
	signed, err = badRole.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = issuer.Verify(signed)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestAgentDirectory_Authenticate(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	dir, err := NewAgentDirectory([]models.Agent{
		{ID: "A", Username: "Ana", Role: models.RoleSeller, PasswordHash: hash},
		{ID: "root", Username: "admin", DisplayName: "Admin", Role: models.RoleAdmin},
	})
	require.NoError(t, err)

	agent, err := dir.Authenticate(" ana ", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "A", agent.ID)
	assert.Equal(t, "Ana", agent.DisplayName)

	_, err = dir.Authenticate("ana", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	// No hash configured: never authenticates
	_, err = dir.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = dir.Authenticate("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAgentDirectory_ReplaceValidates(t *testing.T) {
	dir, err := NewAgentDirectory(nil)
	require.NoError(t, err)

	assert.Error(t, dir.Replace([]models.Agent{{ID: "A", Username: "ana", Role: "owner"}}))
	assert.Error(t, dir.Replace([]models.Agent{{ID: "", Username: "ana", Role: models.RoleSeller}}))
	assert.Error(t, dir.Replace([]models.Agent{
		{ID: "A", Username: "ana", Role: models.RoleSeller},
		{ID: "A", Username: "beka", Role: models.RoleSeller},
	}))

	require.NoError(t, dir.Replace([]models.Agent{{ID: "B", Username: "beka", Role: models.RoleSeller}}))
	_, ok := dir.Get("B")
	assert.True(t, ok)
}
