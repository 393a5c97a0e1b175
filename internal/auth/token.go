// Package auth extracts the local user identity from the API access token.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUserID is returned when the token carries no recognizable user id claim.
var ErrNoUserID = errors.New("token has no user id claim")

// Claims is the JWT payload issued by the backend on login.
type Claims struct {
	UserID               string `json:"id"`      // backend stores the user id under "id"
	UserIDAlt            string `json:"user_id"` // older tokens used "user_id"
	Email                string `json:"email"`
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt, Subject, etc.
}

// Identity is the locally authenticated user as derived from the token.
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// ParseIdentity decodes the access token without verifying its signature.
// The client never holds the signing secret; the server re-validates the
// token on every request, so the claims are only used to know who "we" are
// for self-echo suppression and read receipts.
func ParseIdentity(token string) (*Identity, error) {
	claims := &Claims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	// Prefer the "id" claim, fall back to "user_id" and then the subject.
	id := claims.UserID
	if id == "" {
		id = claims.UserIDAlt
	}
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, ErrNoUserID
	}

	ident := &Identity{UserID: id, Email: claims.Email}
	if claims.ExpiresAt != nil {
		ident.ExpiresAt = claims.ExpiresAt.Time
	}
	return ident, nil
}
