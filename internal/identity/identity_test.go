package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/roomsync/internal/core"
)

func testConfig() *TokenConfig {
	return &TokenConfig{
		Secret:   []byte("testsecret"),
		Issuer:   "roomsync",
		Audience: "chat",
		TTL:      time.Hour,
	}
}

func TestIssueAndParse(t *testing.T) {
	cfg := testConfig()
	token, err := Issue(cfg, core.Identity{ID: "u1", DisplayName: "Ann", AvatarRef: "ann.png"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := Parse(cfg, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.ID != "u1" || id.DisplayName != "Ann" || id.AvatarRef != "ann.png" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestParseRejects(t *testing.T) {
	cfg := testConfig()
	good, _ := Issue(cfg, core.Identity{ID: "u1"})

	wrongAud := *cfg
	wrongAud.Audience = "other"
	wrongIss := *cfg
	wrongIss.Issuer = "other"
	wrongSecret := *cfg
	wrongSecret.Secret = []byte("nope")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"iss": cfg.Issuer,
		"aud": cfg.Audience,
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	expiredToken, _ := expired.SignedString(cfg.Secret)

	cases := []struct {
		name  string
		cfg   *TokenConfig
		token string
	}{
		{"audience", &wrongAud, good},
		{"issuer", &wrongIss, good},
		{"secret", &wrongSecret, good},
		{"expired", cfg, expiredToken},
		{"garbage", cfg, "not-a-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.cfg, tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestIssueRequiresID(t *testing.T) {
	if _, err := Issue(testConfig(), core.Identity{}); !errors.Is(err, core.ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestTokenProviderRefreshAndRevoke(t *testing.T) {
	cfg := testConfig()
	p := NewToken(cfg, "")

	if id, err := p.Current(context.Background()); err != nil || id != nil {
		t.Fatalf("expected signed out, got %+v %v", id, err)
	}

	var seen []*core.Identity
	off := p.OnChange(func(id *core.Identity) { seen = append(seen, id) })
	defer off()

	token, _ := Issue(cfg, core.Identity{ID: "u1"})
	if err := p.Refresh(token); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := p.Refresh("bad"); err == nil {
		t.Fatalf("expected refresh error")
	}
	p.Revoke()

	if len(seen) != 3 || seen[0] == nil || seen[0].ID != "u1" || seen[1] != nil || seen[2] != nil {
		t.Fatalf("unexpected notifications: %+v", seen)
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStatic(&core.Identity{ID: "u1"})
	calls := 0
	off := p.OnChange(func(*core.Identity) { calls++ })

	p.Set(&core.Identity{ID: "u1"})
	p.Set(nil)
	if calls != 2 {
		t.Fatalf("expected 2 notifications, got %d", calls)
	}

	off()
	p.Set(&core.Identity{ID: "u2"})
	if calls != 2 || p.Watchers() != 0 {
		t.Fatalf("handler still registered")
	}

	p.FailProbe(errors.New("down"))
	if _, err := p.Current(context.Background()); err == nil {
		t.Fatalf("expected probe failure")
	}
}
