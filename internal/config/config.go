package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the upper-cased flag name to form its environment
// override, e.g. -nonce-ttl becomes HIGHSCORE_NONCE_TTL.
const EnvPrefix = "HIGHSCORE_"

// Nonce storage backends.
const (
	NonceBackendSQLite = "sqlite"
	NonceBackendMemory = "memory"
)

// Config holds all server configuration.
type Config struct {
	ConfigPath     string // optional YAML file
	Addr           string // listen address, e.g. ":8080"
	ManagementAddr string // separate listener for health and metrics (empty = serve on Addr)
	DBPath         string // path to SQLite database file
	Secret         string // shared secret appended to every signed message
	AdminToken     string // bearer token for admin routes (empty = admin routes off)
	TLS            bool
	CertFile       string
	KeyFile        string

	// Nonces.
	NonceBackend      string        // "sqlite" (default) or "memory"
	NonceTTL          time.Duration // 0 = nonces never expire
	NonceCapacity     int           // max outstanding nonces for the memory backend
	ClientKeyHeader   string        // header identifying clients (empty = remote address)
	TrustProxyHeaders bool          // use X-Real-IP / X-Forwarded-For as the remote address

	// Scores.
	PageSize     int   // default number of scores per page
	MaxBodyBytes int64 // request body limit

	// Backup.
	BackupDir       string        // directory for VACUUM INTO backups (empty = disabled)
	BackupInterval  time.Duration // 0 = no scheduled backups
	BackupRetention int           // snapshots kept (0 = unlimited)

	// Logging.
	LogFormat string // "json" (default) or "text"
	AuditLogs bool   // enable audit logging (default true)
}

// Parse reads configuration from the process command line and environment.
func Parse() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Getenv)
}

// ParseArgs builds a Config from flag arguments, an optional YAML file named
// by -config and environment overrides. Explicit flags take precedence over
// the file; environment variables take precedence over both.
func ParseArgs(args []string, getenv func(string) string) (*Config, error) {
	c := &Config{}
	fs := flag.NewFlagSet("highscore-backend", flag.ContinueOnError)
	fs.StringVar(&c.ConfigPath, "config", "", "path to YAML config file")
	fs.StringVar(&c.Addr, "addr", ":8080", "listen address")
	fs.StringVar(&c.ManagementAddr, "management-addr", "", "listen address for health and metrics (empty = same as -addr)")
	fs.StringVar(&c.DBPath, "db", "highscore.db", "SQLite database path")
	fs.StringVar(&c.Secret, "secret", "", "shared secret for request signatures (required)")
	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token for admin routes (empty = admin routes disabled)")
	fs.BoolVar(&c.TLS, "tls", false, "enable TLS")
	fs.StringVar(&c.CertFile, "cert", "", "TLS certificate file")
	fs.StringVar(&c.KeyFile, "key", "", "TLS key file")

	fs.StringVar(&c.NonceBackend, "nonce-backend", NonceBackendSQLite, "nonce storage: sqlite or memory")
	fs.DurationVar(&c.NonceTTL, "nonce-ttl", 0, "nonce lifetime (0 = never expires)")
	fs.IntVar(&c.NonceCapacity, "nonce-capacity", 10000, "max outstanding nonces for the memory backend")
	fs.StringVar(&c.ClientKeyHeader, "client-key-header", "", "header identifying clients (empty = remote address)")
	fs.BoolVar(&c.TrustProxyHeaders, "trust-proxy-headers", false, "trust X-Real-IP and X-Forwarded-For")

	fs.IntVar(&c.PageSize, "page-size", 10, "default number of scores per page")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 64*1024, "request body limit in bytes")

	fs.StringVar(&c.BackupDir, "backup-dir", "", "directory for database backups (empty = disabled)")
	fs.DurationVar(&c.BackupInterval, "backup-interval", 0, "interval between scheduled backups (0 = disabled)")
	fs.IntVar(&c.BackupRetention, "backup-retention", 0, "backups kept in the backup directory (0 = unlimited)")

	fs.StringVar(&c.LogFormat, "log-format", "json", "log format: json or text")
	fs.BoolVar(&c.AuditLogs, "audit-logs", true, "enable structured audit logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	path := c.ConfigPath
	if v := getenv(envName("config")); v != "" && !explicit["config"] {
		path = v
	}
	if path != "" {
		if err := applyFile(fs, path, explicit); err != nil {
			return nil, err
		}
	}

	// Allow env overrides.
	var envErr error
	fs.VisitAll(func(f *flag.Flag) {
		v := getenv(envName(f.Name))
		if v == "" || envErr != nil {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			envErr = fmt.Errorf("%s: %w", envName(f.Name), err)
		}
	})
	if envErr != nil {
		return nil, envErr
	}

	return c, nil
}

func envName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyFile sets every flag named in the YAML file unless it was given on
// the command line. Keys are flag names.
func applyFile(fs *flag.FlagSet, path string, explicit map[string]bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for key, raw := range values {
		if key == "config" {
			return fmt.Errorf("config file %s: nested config key is not allowed", path)
		}
		if fs.Lookup(key) == nil {
			return fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		if explicit[key] {
			continue
		}
		if err := fs.Set(key, fmt.Sprint(raw)); err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, key, err)
		}
	}
	return nil
}

// Validate reports configuration that cannot start a server.
func (c *Config) Validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, errors.New("secret is required (-secret or "+envName("secret")+")"))
	}
	switch c.NonceBackend {
	case NonceBackendSQLite:
	case NonceBackendMemory:
		if c.NonceCapacity <= 0 {
			errs = append(errs, errors.New("nonce-capacity must be positive for the memory backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown nonce-backend %q (want sqlite or memory)", c.NonceBackend))
	}
	if c.NonceTTL < 0 {
		errs = append(errs, errors.New("nonce-ttl must not be negative"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, errors.New("page-size must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max-body-bytes must be positive"))
	}
	if c.TLS && (c.CertFile == "" || c.KeyFile == "") {
		errs = append(errs, errors.New("tls requires -cert and -key"))
	}
	if c.BackupInterval < 0 || c.BackupRetention < 0 {
		errs = append(errs, errors.New("backup-interval and backup-retention must not be negative"))
	}
	if c.BackupInterval > 0 && c.BackupDir == "" {
		errs = append(errs, errors.New("backup-interval requires -backup-dir"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unknown log-format %q (want json or text)", c.LogFormat))
	}
	return errors.Join(errs...)
}
