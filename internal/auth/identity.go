// Package auth reads the current user's identity from the session token the
// REST collaborator issued. The signature is checked by the collaborator on
// every request, so the client only decodes the claims.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/blogchat/internal/model"
)

var (
	ErrNoToken      = errors.New("auth: session token is empty")
	ErrNoUserClaim  = errors.New("auth: token carries no user id")
	ErrTokenExpired = errors.New("auth: session token expired")
)

var userIDClaims = []string{"userId", "id", "_id", "sub"}

// Identity is who the session belongs to.
type Identity struct {
	User      *model.User
	ExpiresAt time.Time
}

// FromToken decodes the claims of tokenString. now is used for the expiry check.
func FromToken(tokenString string, now time.Time) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	id := &Identity{User: &model.User{}}
	for _, key := range userIDClaims {
		if v, ok := claims[key].(string); ok && v != "" {
			id.User.ID = v
			break
		}
	}
	if id.User.ID == "" {
		return nil, ErrNoUserClaim
	}
	id.User.Username, _ = claims["username"].(string)
	id.User.DisplayName, _ = claims["displayName"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("auth: exp claim: %w", err)
	}
	if exp != nil {
		id.ExpiresAt = exp.Time
		if !now.Before(exp.Time) {
			return nil, ErrTokenExpired
		}
	}
	return id, nil
}

// Resolve picks the identity for the agent: an explicit user id wins over the
// token claims, but an expired token is still rejected.
func Resolve(tokenString, userID string, now time.Time) (*Identity, error) {
	id, err := FromToken(tokenString, now)
	switch {
	case err == nil:
		if userID != "" {
			id.User.ID = userID
		}
		return id, nil
	case userID != "" && !errors.Is(err, ErrTokenExpired):
		return &Identity{User: &model.User{ID: userID}}, nil
	default:
		return nil, err
	}
}
