package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/spf13/viper"
)

// Config is the complete engine configuration.
//
// Config values are meant to be assembled at startup, validated once by
// Builder.Build, and treated as immutable afterwards.
type Config struct {
	Storage    StorageConfig
	Password   PasswordConfig
	Lockout    LockoutConfig
	Session    SessionConfig
	Token      TokenConfig
	Permission PermissionConfig
	Ticket     TicketConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

/*
====================================
STORAGE CONFIG
====================================
*/

// Storage backends understood by OpenStorage.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
)

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Backend string
	// URL is a redis:// URL, a SQL DSN or a mongodb:// URI depending on Backend.
	URL string
	// Database names the MongoDB database.
	Database string
	// Prefix namespaces Redis keys.
	Prefix string
	// ExpiredRetention keeps expired Redis sessions and tokens readable so
	// lookups can still classify them as expired.
	ExpiredRetention time.Duration

	MaxOpenConns       int
	MaxIdleConns       int
	SlowQueryThreshold time.Duration

	ConnectAttempts int
	ConnectDelay    time.Duration
	// AutoMigrate runs the backend's schema or index setup on open.
	AutoMigrate bool
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// PasswordConfig fixes the Argon2id cost and the password length policy.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// Concurrency caps simultaneous hash derivations. Zero means GOMAXPROCS.
	Concurrency    int
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

// LockoutConfig bounds failed password attempts.
type LockoutConfig struct {
	// MaxFailedAttempts locks the account once reached. Zero disables lockout.
	MaxFailedAttempts int
	Duration          time.Duration
}

/*
====================================
SESSION AND TOKEN CONFIG
====================================
*/

// SessionConfig controls session lifetimes.
type SessionConfig struct {
	// DefaultTTL applies when CreateSession or Login is called with ttl <= 0.
	DefaultTTL time.Duration
}

// TokenConfig holds lifetimes for the tokens the engine issues itself.
type TokenConfig struct {
	PasswordResetTTL     time.Duration
	InviteTTL            time.Duration
	EmailVerificationTTL time.Duration
}

/*
====================================
PERMISSION CONFIG
====================================
*/

// PermissionConfig names the reserved roles.
type PermissionConfig struct {
	// SuperRole bypasses every permission check.
	SuperRole string
	// DefaultRole is assigned to new users and to users whose role is removed.
	DefaultRole string
}

/*
====================================
TICKET CONFIG
====================================
*/

// TicketConfig controls signed session tickets.
//
// Keys are strings so they can come from YAML or the environment. Ed25519
// keys may be PEM or raw; HS256 uses PrivateKey as the shared secret.
type TicketConfig struct {
	Enabled       bool
	SigningMethod string
	PrivateKey    string
	PublicKey     string
	Issuer        string
	Audience      string
	MaxTTL        time.Duration
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// LogConfig configures the logger built when the host supplies none.
type LogConfig struct {
	Level              string
	Format             string
	SamplingInitial    int
	SamplingThereafter int
	IncludeCaller      bool
}

// DefaultConfig returns a configuration that validates as-is against a
// local Redis.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Backend:            BackendRedis,
			URL:                "redis://localhost:6379/0",
			Database:           "authcore",
			Prefix:             "ac",
			ExpiredRetention:   24 * time.Hour,
			SlowQueryThreshold: 200 * time.Millisecond,
			ConnectAttempts:    5,
			ConnectDelay:       2 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			Duration:          15 * time.Minute,
		},
		Session: SessionConfig{
			DefaultTTL: 24 * time.Hour,
		},
		Token: TokenConfig{
			PasswordResetTTL:     time.Hour,
			InviteTTL:            72 * time.Hour,
			EmailVerificationTTL: 24 * time.Hour,
		},
		Permission: PermissionConfig{
			SuperRole:   "admin",
			DefaultRole: "user",
		},
		Ticket: TicketConfig{
			SigningMethod: string(jwt.MethodEd25519),
			Issuer:        "authcore",
			Leeway:        30 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c Config) passwordParams() password.Params {
	return password.Params{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
		Concurrency: c.Password.Concurrency,
	}
}

func (c Config) ticketConfig() jwt.Config {
	return jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(c.Ticket.SigningMethod)),
		PrivateKey:    []byte(c.Ticket.PrivateKey),
		PublicKey:     []byte(c.Ticket.PublicKey),
		Issuer:        c.Ticket.Issuer,
		Audience:      c.Ticket.Audience,
		MaxTTL:        c.Ticket.MaxTTL,
		Leeway:        c.Ticket.Leeway,
		KeyID:         c.Ticket.KeyID,
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	// Storage
	switch c.Storage.Backend {
	case BackendRedis, BackendPostgres, BackendMySQL, BackendSQLite, BackendMongo:
	case "":
		return errors.New("Storage Backend is required")
	default:
		return fmt.Errorf("unsupported Storage Backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendMongo && strings.TrimSpace(c.Storage.Database) == "" {
		return errors.New("Storage Database is required for mongo")
	}
	if c.Storage.ConnectAttempts < 0 {
		return errors.New("Storage ConnectAttempts must be >= 0")
	}
	if c.Storage.ConnectDelay < 0 {
		return errors.New("Storage ConnectDelay must be >= 0")
	}
	if c.Storage.ExpiredRetention < 0 {
		return errors.New("Storage ExpiredRetention must be >= 0")
	}

	// Password
	if err := c.passwordParams().Validate(); err != nil {
		return err
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength != 0 && c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Lockout
	if c.Lockout.MaxFailedAttempts < 0 {
		return errors.New("Lockout MaxFailedAttempts must be >= 0")
	}
	if c.Lockout.MaxFailedAttempts > 0 && c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0 when MaxFailedAttempts is set")
	}

	// Session and tokens
	if c.Session.DefaultTTL <= 0 {
		return errors.New("Session DefaultTTL must be > 0")
	}
	if c.Token.PasswordResetTTL <= 0 || c.Token.InviteTTL <= 0 || c.Token.EmailVerificationTTL <= 0 {
		return errors.New("Token TTLs must be > 0")
	}

	// Permission
	if strings.TrimSpace(c.Permission.SuperRole) == "" {
		return errors.New("Permission SuperRole is required")
	}
	if strings.TrimSpace(c.Permission.DefaultRole) == "" {
		return errors.New("Permission DefaultRole is required")
	}
	if c.Permission.SuperRole == c.Permission.DefaultRole {
		return errors.New("Permission DefaultRole must differ from SuperRole")
	}

	// Ticket
	if c.Ticket.Enabled {
		switch jwt.SigningMethod(strings.ToLower(c.Ticket.SigningMethod)) {
		case jwt.MethodEd25519, jwt.MethodHS256:
		default:
			return fmt.Errorf("unsupported Ticket SigningMethod %q", c.Ticket.SigningMethod)
		}
		if c.Ticket.PrivateKey == "" && c.Ticket.PublicKey == "" {
			return errors.New("Ticket requires PrivateKey or PublicKey")
		}
		if c.Ticket.MaxTTL < 0 {
			return errors.New("Ticket MaxTTL must be >= 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}

/*
====================================
LOADING
====================================
*/

// EnvPrefix is the prefix LoadConfig reads overrides from, e.g.
// AUTHCORE_STORAGE_URL for Storage.URL.
const EnvPrefix = "AUTHCORE"

// LoadConfig reads a YAML, JSON or TOML file over DefaultConfig and then
// applies environment overrides. An empty path reads the environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the
// file does not mention.
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"storage.backend":            d.Storage.Backend,
		"storage.url":                d.Storage.URL,
		"storage.database":           d.Storage.Database,
		"storage.prefix":             d.Storage.Prefix,
		"storage.expiredretention":   d.Storage.ExpiredRetention,
		"storage.maxopenconns":       d.Storage.MaxOpenConns,
		"storage.maxidleconns":       d.Storage.MaxIdleConns,
		"storage.slowquerythreshold": d.Storage.SlowQueryThreshold,
		"storage.connectattempts":    d.Storage.ConnectAttempts,
		"storage.connectdelay":       d.Storage.ConnectDelay,
		"storage.automigrate":        d.Storage.AutoMigrate,

		"password.memory":         d.Password.Memory,
		"password.time":           d.Password.Time,
		"password.parallelism":    d.Password.Parallelism,
		"password.saltlength":     d.Password.SaltLength,
		"password.keylength":      d.Password.KeyLength,
		"password.concurrency":    d.Password.Concurrency,
		"password.minlength":      d.Password.MinLength,
		"password.maxlength":      d.Password.MaxLength,
		"password.upgradeonlogin": d.Password.UpgradeOnLogin,

		"lockout.maxfailedattempts": d.Lockout.MaxFailedAttempts,
		"lockout.duration":          d.Lockout.Duration,

		"session.defaultttl": d.Session.DefaultTTL,

		"token.passwordresetttl":     d.Token.PasswordResetTTL,
		"token.invitettl":            d.Token.InviteTTL,
		"token.emailverificationttl": d.Token.EmailVerificationTTL,

		"permission.superrole":   d.Permission.SuperRole,
		"permission.defaultrole": d.Permission.DefaultRole,

		"ticket.enabled":       d.Ticket.Enabled,
		"ticket.signingmethod": d.Ticket.SigningMethod,
		"ticket.privatekey":    d.Ticket.PrivateKey,
		"ticket.publickey":     d.Ticket.PublicKey,
		"ticket.issuer":        d.Ticket.Issuer,
		"ticket.audience":      d.Ticket.Audience,
		"ticket.maxttl":        d.Ticket.MaxTTL,
		"ticket.leeway":        d.Ticket.Leeway,
		"ticket.keyid":         d.Ticket.KeyID,

		"audit.enabled":    d.Audit.Enabled,
		"audit.buffersize": d.Audit.BufferSize,
		"audit.dropiffull": d.Audit.DropIfFull,

		"metrics.enabled":                 d.Metrics.Enabled,
		"metrics.enablelatencyhistograms": d.Metrics.EnableLatencyHistograms,

		"log.level":              d.Log.Level,
		"log.format":             d.Log.Format,
		"log.samplinginitial":    d.Log.SamplingInitial,
		"log.samplingthereafter": d.Log.SamplingThereafter,
		"log.includecaller":      d.Log.IncludeCaller,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
