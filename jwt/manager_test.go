package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"
)

func newEdManager(t *testing.T, cfg Config) (*Manager, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg.SigningMethod = MethodEd25519
	cfg.PrivateKey = priv
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, pub
}

func TestIssueAndParse(t *testing.T) {
	m, _ := newEdManager(t, Config{Issuer: "authcore", Audience: "app"})
	exp := time.Now().Add(time.Hour)

	ticket, err := m.Issue("sid-1", "user-1", exp)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := m.Parse(ticket)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.SID != "sid-1" || claims.UID != "user-1" || claims.Subject != "user-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ExpiresAt.Unix() != exp.Unix() {
		t.Fatalf("exp = %v, want %v", claims.ExpiresAt.Time, exp)
	}
}

func TestMaxTTLCapsExpiry(t *testing.T) {
	m, _ := newEdManager(t, Config{MaxTTL: time.Minute})
	ticket, err := m.Issue("sid", "uid", time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := m.Parse(ticket)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d := time.Until(claims.ExpiresAt.Time); d > time.Minute+time.Second {
		t.Fatalf("ticket lives %v, want <= 1m", d)
	}
}

func TestExpiredTicketRejected(t *testing.T) {
	m, _ := newEdManager(t, Config{})
	ticket, err := m.Issue("sid", "uid", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := m.Parse(ticket); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("err = %v, want ErrInvalidTicket", err)
	}
}

func TestVerifyOnlyManager(t *testing.T) {
	signer, pub := newEdManager(t, Config{KeyID: "k1"})
	ticket, err := signer.Issue("sid", "uid", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub, KeyID: "k1"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if verifier.CanIssue() {
		t.Fatal("verify-only manager reports it can issue")
	}
	if _, err := verifier.Parse(ticket); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := verifier.Issue("sid", "uid", time.Now().Add(time.Hour)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Issue err = %v", err)
	}

	other, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub, KeyID: "k2"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := other.Parse(ticket); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("kid mismatch err = %v", err)
	}
}

func TestTamperedAndForeignTickets(t *testing.T) {
	m, _ := newEdManager(t, Config{})
	foreign, _ := newEdManager(t, Config{})

	ticket, _ := m.Issue("sid", "uid", time.Now().Add(time.Hour))
	parts := strings.Split(ticket, ".")
	parts[1] = parts[1] + "x"
	for _, bad := range []string{"", "not-a-jwt", strings.Join(parts, ".")} {
		if _, err := m.Parse(bad); !errors.Is(err, ErrInvalidTicket) {
			t.Fatalf("Parse(%q) err = %v", bad, err)
		}
	}

	fromForeign, _ := foreign.Issue("sid", "uid", time.Now().Add(time.Hour))
	if _, err := m.Parse(fromForeign); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("foreign ticket err = %v", err)
	}
}

func TestHS256(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("short")}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("short secret err = %v", err)
	}
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte(strings.Repeat("k", 32))})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ticket, err := m.Issue("sid", "uid", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Parse(ticket); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ed, _ := newEdManager(t, Config{})
	if _, err := ed.Parse(ticket); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("algorithm confusion accepted: %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	for _, cfg := range []Config{
		{SigningMethod: "rs256"},
		{SigningMethod: MethodEd25519},
		{SigningMethod: MethodEd25519, PublicKey: []byte("junk")},
		{SigningMethod: MethodHS256, PrivateKey: make([]byte, 32), Leeway: time.Hour},
	} {
		if _, err := NewManager(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("NewManager(%+v) err = %v", cfg, err)
		}
	}
}
