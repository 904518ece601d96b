package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"social-inbox/models"
)

// SessionCookieName is the cookie the login endpoint sets
const SessionCookieName = "session"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AgentClaims are the claims carried by agent tokens
type AgentClaims struct {
	Name string           `json:"name"`
	Role models.AgentRole `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 agent tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue creates a token for agent
func (t *TokenIssuer) Issue(agent models.Agent) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(t.ttl)
	claims := AgentClaims{
		Name: agent.DisplayName,
		Role: agent.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agent.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify validates tokenString and returns the actor it identifies
func (t *TokenIssuer) Verify(tokenString string) (models.Actor, error) {
	var claims AgentClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Actor{}, ErrExpiredToken
		}
		return models.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" || !models.IsValidRole(string(claims.Role)) {
		return models.Actor{}, ErrInvalidToken
	}

	return models.Actor{
		ID:   claims.Subject,
		Name: claims.Name,
		Role: claims.Role,
	}, nil
}
