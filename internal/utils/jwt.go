package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrMissingUserID is returned for well-signed tokens that do not name a user.
var ErrMissingUserID = errors.New("token has no user id")

// TokenClaims is the payload embedded in session tokens.
type TokenClaims struct {
	UserID   uint   `json:"userId,omitempty"`
	LegacyID uint   `json:"id,omitempty"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// ResolvedUserID returns the user id carried by the token, preferring userId over id.
func (c *TokenClaims) ResolvedUserID() uint {
	if c.UserID != 0 {
		return c.UserID
	}
	return c.LegacyID
}

// GenerateToken creates a signed HS256 JWT for the user, valid for ttl from issuedAt.
func GenerateToken(secret string, userID uint, email string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := &TokenClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates signature and expiry as of now and returns the embedded claims.
func ParseToken(secret, tokenString string, now time.Time) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	if claims.ResolvedUserID() == 0 {
		return nil, ErrMissingUserID
	}

	return claims, nil
}
