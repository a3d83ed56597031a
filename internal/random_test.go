package internal

import (
	"errors"
	"testing"
)

func TestNewSecretShape(t *testing.T) {
	a, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	b, _ := NewSecret()
	if a == b {
		t.Fatal("secrets must not repeat")
	}
	if len(a) != 43 {
		t.Fatalf("len = %d, want 43", len(a))
	}
	raw, err := ParseSecret(a)
	if err != nil || len(raw) != SecretSize {
		t.Fatalf("ParseSecret = %d bytes, %v", len(raw), err)
	}
}

func TestParseSecretRejects(t *testing.T) {
	for _, s := range []string{"", "short", "!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!"} {
		if _, err := ParseSecret(s); !errors.Is(err, ErrMalformedSecret) {
			t.Fatalf("ParseSecret(%q) err = %v", s, err)
		}
	}
}
