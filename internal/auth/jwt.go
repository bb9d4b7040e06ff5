package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "signal-trading-bot"
	audience = "signal-trading-bot-api"
)

// JWTManager handles JWT token operations
type JWTManager struct {
	secret   []byte
	duration time.Duration
	now      func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret string, duration time.Duration) *JWTManager {
	if duration <= 0 {
		duration = time.Hour
	}
	return &JWTManager{secret: []byte(secret), duration: duration, now: time.Now}
}

// GenerateAccessToken signs a token for the operator and returns its expiry
func (m *JWTManager) GenerateAccessToken(operator string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.duration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Audience:  []string{audience},
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns the claims
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
