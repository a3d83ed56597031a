package authcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidateMatrix(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "backend missing",
			mutate: func(c *Config) {
				c.Storage.Backend = ""
			},
			wantValid: false,
		},
		{
			name: "backend unknown",
			mutate: func(c *Config) {
				c.Storage.Backend = "cassandra"
			},
			wantValid: false,
		},
		{
			name: "mongo without database",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendMongo
			},
			wantValid: false,
		},
		{
			name: "mongo with database",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendMongo
				c.Storage.Database = "auth"
			},
			wantValid: true,
		},
		{
			name: "argon2 memory too low",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "max length below min length",
			mutate: func(c *Config) {
				c.Password.MinLength = 12
				c.Password.MaxLength = 8
			},
			wantValid: false,
		},
		{
			name: "lockout without duration",
			mutate: func(c *Config) {
				c.Lockout.MaxFailedAttempts = 3
				c.Lockout.Duration = 0
			},
			wantValid: false,
		},
		{
			name: "lockout disabled",
			mutate: func(c *Config) {
				c.Lockout.MaxFailedAttempts = 0
				c.Lockout.Duration = 0
			},
			wantValid: true,
		},
		{
			name: "zero session ttl",
			mutate: func(c *Config) {
				c.Session.DefaultTTL = 0
			},
			wantValid: false,
		},
		{
			name: "zero invite ttl",
			mutate: func(c *Config) {
				c.Token.InviteTTL = 0
			},
			wantValid: false,
		},
		{
			name: "default role equals super role",
			mutate: func(c *Config) {
				c.Permission.DefaultRole = c.Permission.SuperRole
			},
			wantValid: false,
		},
		{
			name: "tickets without key",
			mutate: func(c *Config) {
				c.Ticket.Enabled = true
			},
			wantValid: false,
		},
		{
			name: "tickets unknown method",
			mutate: func(c *Config) {
				c.Ticket.Enabled = true
				c.Ticket.SigningMethod = "rs256"
				c.Ticket.PrivateKey = "key"
			},
			wantValid: false,
		},
		{
			name: "tickets hs256",
			mutate: func(c *Config) {
				c.Ticket.Enabled = true
				c.Ticket.SigningMethod = "HS256"
				c.Ticket.PrivateKey = "0123456789abcdef0123456789abcdef"
			},
			wantValid: true,
		},
		{
			name: "audit with zero buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authcore.yaml")
	body := `
storage:
  backend: postgres
  url: postgres://auth@localhost/auth
session:
  defaultttl: 2h
lockout:
  maxfailedattempts: 3
permission:
  superrole: root
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("AUTHCORE_STORAGE_URL", "postgres://override@db/auth")
	t.Setenv("AUTHCORE_TOKEN_INVITETTL", "10m")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, BackendPostgres, cfg.Storage.Backend)
	require.Equal(t, "postgres://override@db/auth", cfg.Storage.URL)
	require.Equal(t, 2*time.Hour, cfg.Session.DefaultTTL)
	require.Equal(t, 3, cfg.Lockout.MaxFailedAttempts)
	require.Equal(t, 10*time.Minute, cfg.Token.InviteTTL)
	require.Equal(t, "root", cfg.Permission.SuperRole)

	// Untouched keys keep their defaults.
	def := DefaultConfig()
	require.Equal(t, def.Password.Memory, cfg.Password.Memory)
	require.Equal(t, def.Permission.DefaultRole, cfg.Permission.DefaultRole)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("AUTHCORE_SESSION_DEFAULTTTL", "0s")

	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
