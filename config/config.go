package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default pool sizing. The database is shared with a separately-pooled ORM
// layer, so this engine takes well under half of the connection budget.
const (
	DefaultConnectionBudget = 100
	DefaultPoolShare        = 0.4
	DefaultAcquireTimeout   = 10 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultConnectTimeout   = 10 * time.Second
)

// TransactionPoolerPort is the conventional port of transaction-mode poolers
// (PgBouncer/Supavisor). Session semantics are weaker there, so timeouts are
// shortened when it is detected.
const TransactionPoolerPort = 6543

// DatabaseConfig holds everything needed to build the engine's pgx pool.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	SSLEnabled bool
	// CACertBase64 optionally carries a base64-encoded CA certificate for
	// verified TLS (managed providers hand these out as single strings).
	CACertBase64 string

	// ConnectionBudget is the total connection budget shared with the ORM
	// pool; MaxConns is derived from it unless overridden explicitly.
	ConnectionBudget int
	MaxConns         int

	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration

	// Debug enables the periodic pool-status heartbeat log.
	Debug bool
}

// LoadEnv reads configuration from an optional env file plus the process
// environment. A missing env file is fine; missing required connection
// parameters are not and fail construction of anything depending on the pool.
func LoadEnv(filename string) (*DatabaseConfig, error) {
	if filename != "" {
		// Process env wins over file values; a missing file only means the
		// variables must already be exported.
		_ = godotenv.Load(filename)
	}

	cfg := &DatabaseConfig{
		Host:             os.Getenv("DB_HOST"),
		User:             os.Getenv("DB_USER"),
		Password:         os.Getenv("DB_PASSWORD"),
		Database:         os.Getenv("DB_NAME"),
		CACertBase64:     os.Getenv("DB_CA_BASE64"),
		SSLEnabled:       envBool("DB_SSL", false),
		Debug:            envBool("SCHEMA_DEBUG", false),
		Port:             envInt("DB_PORT", 5432),
		ConnectionBudget: envInt("DB_CONNECTION_BUDGET", DefaultConnectionBudget),
		MaxConns:         envInt("DB_POOL_MAX", 0),
		AcquireTimeout:   envDuration("DB_ACQUIRE_TIMEOUT_MS", DefaultAcquireTimeout),
		IdleTimeout:      envDuration("DB_IDLE_TIMEOUT_MS", DefaultIdleTimeout),
		ConnectTimeout:   envDuration("DB_CONNECT_TIMEOUT_MS", DefaultConnectTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required connection parameters and applies derived defaults.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("missing required database parameter DB_HOST")
	}
	if c.User == "" {
		return fmt.Errorf("missing required database parameter DB_USER")
	}
	if c.Database == "" {
		return fmt.Errorf("missing required database parameter DB_NAME")
	}
	if c.Port <= 0 {
		c.Port = 5432
	}
	if c.ConnectionBudget <= 0 {
		c.ConnectionBudget = DefaultConnectionBudget
	}
	if c.MaxConns <= 0 {
		c.MaxConns = int(float64(c.ConnectionBudget) * DefaultPoolShare)
	}
	if c.MaxConns < 1 {
		c.MaxConns = 1
	}
	if c.ConnectionBudget >= 4 && c.MaxConns >= c.ConnectionBudget/2 {
		// Never take half or more of the shared budget, even when overridden.
		c.MaxConns = c.ConnectionBudget/2 - 1
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return nil
}

// IsTransactionPooler reports whether the configured port is the well-known
// transaction-pooler port.
func (c *DatabaseConfig) IsTransactionPooler() bool {
	return c.Port == TransactionPoolerPort
}

// DSN builds a keyword/value pgx connection string. TLS settings are applied
// separately on the parsed pool config when a CA certificate is supplied.
func (c *DatabaseConfig) DSN() string {
	sslmode := "disable"
	if c.SSLEnabled || c.CACertBase64 != "" {
		sslmode = "require"
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, sslmode,
	)
}

func envBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
