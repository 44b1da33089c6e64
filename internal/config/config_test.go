package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "highscore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseArgs_Defaults(t *testing.T) {
	c, err := ParseArgs(nil, noEnv)
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "highscore.db", c.DBPath)
	assert.Equal(t, NonceBackendSQLite, c.NonceBackend)
	assert.Zero(t, c.NonceTTL)
	assert.Equal(t, 10, c.PageSize)
	assert.Equal(t, "json", c.LogFormat)
	assert.True(t, c.AuditLogs)
	assert.Empty(t, c.AdminToken)

	// No secret yet.
	assert.Error(t, c.Validate())
}

func TestParseArgs_EnvOverridesFlags(t *testing.T) {
	c, err := ParseArgs([]string{"-addr", ":9000", "-secret", "flag"}, envMap(map[string]string{
		"HIGHSCORE_SECRET":      "env",
		"HIGHSCORE_NONCE_TTL":   "30s",
		"HIGHSCORE_AUDIT_LOGS":  "false",
		"HIGHSCORE_ADMIN_TOKEN": "ops",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.Addr)
	assert.Equal(t, "env", c.Secret)
	assert.Equal(t, 30*time.Second, c.NonceTTL)
	assert.False(t, c.AuditLogs)
	assert.Equal(t, "ops", c.AdminToken)
}

func TestParseArgs_InvalidEnv(t *testing.T) {
	_, err := ParseArgs(nil, envMap(map[string]string{"HIGHSCORE_PAGE_SIZE": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HIGHSCORE_PAGE_SIZE")
}

func TestParseArgs_ConfigFile(t *testing.T) {
	path := writeFile(t, `
secret: s3cret
nonce-backend: memory
nonce-ttl: 2m
page-size: 25
addr: ":7000"
`)
	c, err := ParseArgs([]string{"-config", path, "-addr", ":9999"}, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", c.Secret)
	assert.Equal(t, NonceBackendMemory, c.NonceBackend)
	assert.Equal(t, 2*time.Minute, c.NonceTTL)
	assert.Equal(t, 25, c.PageSize)
	// Explicit flag wins over the file.
	assert.Equal(t, ":9999", c.Addr)
	assert.NoError(t, c.Validate())
}

func TestParseArgs_ConfigFileFromEnv(t *testing.T) {
	path := writeFile(t, "secret: from-file\n")
	c, err := ParseArgs(nil, envMap(map[string]string{"HIGHSCORE_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, "from-file", c.Secret)
}

func TestParseArgs_ConfigFileUnknownKey(t *testing.T) {
	path := writeFile(t, "master-key: abc\n")
	_, err := ParseArgs([]string{"-config", path}, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestParseArgs_MissingConfigFile(t *testing.T) {
	_, err := ParseArgs([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, noEnv)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c, err := ParseArgs([]string{"-secret", "x"}, noEnv)
		require.NoError(t, err)
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.NonceBackend = "redis" }},
		{"memory without capacity", func(c *Config) { c.NonceBackend = NonceBackendMemory; c.NonceCapacity = 0 }},
		{"negative ttl", func(c *Config) { c.NonceTTL = -time.Second }},
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
		{"tls without cert", func(c *Config) { c.TLS = true }},
		{"backup interval without dir", func(c *Config) { c.BackupInterval = time.Hour }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
