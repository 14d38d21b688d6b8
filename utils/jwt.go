package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "teams-clone"

var ErrInvalidToken = errors.New("invalid token")

// SessionClaims identify the user a session token was issued to. The user id
// travels as the standard subject claim.
type SessionClaims struct {
	Username string `json:"uname"`
	jwt.RegisteredClaims
}

// GenerateJWT signs an HS256 session token for userID that expires after ttl.
func GenerateJWT(secret, userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseJWT verifies tokenStr and returns the user id and username it carries.
func ParseJWT(secret, tokenStr string) (string, string, error) {
	if tokenStr == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	var claims SessionClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, claims.Username, nil
}
