// Package auth issues and checks the operator API's bearer tokens.
package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the operator token claims
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// AuthError is an authentication failure with a stable code
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
)
