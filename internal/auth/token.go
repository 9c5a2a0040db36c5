// Package auth validates access tokens and resolves them to a principal.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/storage"
)

// ErrUnauthorized is returned for any credential that does not resolve to an
// active user.
var ErrUnauthorized = errors.New("unauthorized")

// UserID accepts the user_id claim as a JSON number or a numeric string.
type UserID int64

func (id *UserID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("user_id: %w", err)
		}
		n = json.Number(s)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*id = UserID(v)
	return nil
}

// Claims is the payload of an access token.
type Claims struct {
	UserID    UserID `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator turns a raw token into the principal it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// UserLookup resolves token subjects against the user store.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// UserRecorder remembers principals seen in tokens when no user store is
// authoritative.
type UserRecorder interface {
	PutUser(ctx context.Context, u models.User) error
}

// JWTAuthenticator validates HS256 tokens.
type JWTAuthenticator struct {
	secret   []byte
	issuer   string
	users    UserLookup
	recorder UserRecorder
}

type Option func(*JWTAuthenticator)

// WithUserLookup requires every token subject to exist and be active.
func WithUserLookup(users UserLookup) Option {
	return func(a *JWTAuthenticator) { a.users = users }
}

// WithRecorder stores the principal built from the claims after each
// successful authentication.
func WithRecorder(r UserRecorder) Option {
	return func(a *JWTAuthenticator) { a.recorder = r }
}

func NewJWT(secret, issuer string, opts ...Option) *JWTAuthenticator {
	a := &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *JWTAuthenticator) parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.ExpiresAt == nil {
		return nil, errors.New("token has no expiry")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, errors.New("unexpected issuer")
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return nil, fmt.Errorf("unexpected token type %q", claims.TokenType)
	}
	if claims.UserID <= 0 {
		return nil, errors.New("missing user_id")
	}
	return claims, nil
}

// Authenticate checks signature, expiry and issuer, then resolves the user.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, raw string) (*models.User, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: no token", ErrUnauthorized)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	claims, err := a.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	id := int64(claims.UserID)
	if a.users != nil {
		user, err := a.users.GetUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d does not exist", ErrUnauthorized, id)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup user %d: %w", id, err)
		}
		if !user.IsActive {
			return nil, fmt.Errorf("%w: user %d is inactive", ErrUnauthorized, id)
		}
		return user, nil
	}

	user := &models.User{ID: id, Name: claims.Name, Email: claims.Email, IsActive: true}
	if user.Name == "" {
		user.Name = fmt.Sprintf("user-%d", id)
	}
	if a.recorder != nil {
		if err := a.recorder.PutUser(ctx, *user); err != nil {
			return nil, fmt.Errorf("record user %d: %w", id, err)
		}
	}
	return user, nil
}

// IssueToken signs an access token for u.
func IssueToken(secret, issuer string, u models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    UserID(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
