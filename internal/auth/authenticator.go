package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulBabatuyi/roomchat/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
	ErrUnknownUser  = errors.New("unknown user")
)

// UserFinder loads the user a token was issued to.
type UserFinder interface {
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
}

// Authenticator resolves a handshake credential to a stored user.
type Authenticator struct {
	jwt   *JWTManager
	users UserFinder
}

// NewAuthenticator returns an Authenticator backed by the given token manager
// and user store.
func NewAuthenticator(j *JWTManager, users UserFinder) *Authenticator {
	return &Authenticator{jwt: j, users: users}
}

// Authenticate verifies signature and expiry of token and loads its user.
// A "Bearer " prefix is accepted. Failures wrap ErrMissingToken,
// ErrInvalidToken or ErrUnknownUser; storage errors are returned as is.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*data.User, error) {
	token = BearerToken(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := a.jwt.VerifyToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", ErrUnknownUser)
	}

	user, err := a.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// BearerToken strips an optional "Bearer" scheme and surrounding space.
func BearerToken(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 6 && strings.EqualFold(v[:6], "bearer") {
		v = v[6:]
	}
	return strings.TrimSpace(v)
}
