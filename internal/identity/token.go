package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vovakirdan/roomsync/internal/core"
)

// ErrInvalidToken is returned for tokens that fail validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the identity claims carried by a session token.
type Claims struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig holds JWT configuration.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Issue mints a signed token for id.
func Issue(cfg *TokenConfig, id core.Identity) (string, error) {
	if id.ID == "" {
		return "", core.ErrNoIdentity
	}
	now := time.Now()
	claims := Claims{
		Name:   id.DisplayName,
		Avatar: id.AvatarRef,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.ID,
			Issuer:   cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	if cfg.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(cfg.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// Parse validates a token and returns the identity it carries.
func Parse(cfg *TokenConfig, tokenString string) (*core.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer", ErrInvalidToken)
	}
	if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
		return nil, fmt.Errorf("%w: audience", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &core.Identity{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		AvatarRef:   claims.Avatar,
	}, nil
}

// Token is a provider backed by a bearer token. Refreshing the token
// republishes the identity; an invalid or expired token reads as signed out.
type Token struct {
	cfg      *TokenConfig
	mu       sync.Mutex
	token    string
	watchers watchers
}

// NewToken builds a token provider holding tokenString, which may be empty.
func NewToken(cfg *TokenConfig, tokenString string) *Token {
	return &Token{cfg: cfg, token: tokenString}
}

// Current parses the held token.
func (t *Token) Current(context.Context) (*core.Identity, error) {
	t.mu.Lock()
	raw := t.token
	t.mu.Unlock()
	if raw == "" {
		return nil, nil
	}
	return Parse(t.cfg, raw)
}

// OnChange registers a change handler.
func (t *Token) OnChange(handler func(*core.Identity)) func() {
	return t.watchers.add(handler)
}

// Refresh swaps the held token and publishes the identity it carries.
func (t *Token) Refresh(tokenString string) error {
	t.mu.Lock()
	t.token = tokenString
	t.mu.Unlock()

	if tokenString == "" {
		t.watchers.notify(nil)
		return nil
	}
	id, err := Parse(t.cfg, tokenString)
	t.watchers.notify(id)
	return err
}

// Revoke drops the token and publishes the signed-out state.
func (t *Token) Revoke() {
	_ = t.Refresh("")
}

// Raw returns the held token string.
func (t *Token) Raw() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}
