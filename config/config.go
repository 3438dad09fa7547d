// Package config loads portrelay's environment-variable driven
// configuration, grounded on R2Northstar-Atlas's cmd/atlas/main.go env-file
// handling (spf13/pflag for CLI flags, hashicorp/go-envparse for optional
// env-file parsing).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-envparse"
)

// Config holds the variables every portrelay binary reads from its
// environment (spec.md §6, plus LOG_LEVEL/LOG_PATH for ambient logging).
type Config struct {
	// Host is the address this binary connects to (node, client) or binds
	// to (server), host:port form.
	Host string

	// Cert is the path of a PKCS#1 PEM key file: an RSA private key for the
	// server, or the server's public key for node/client.
	Cert string

	// Token is the opaque authentication token a node or client presents
	// via Authenticate. Unused by the server.
	Token string

	// DatabaseURL is the sqlite3 database file path for the server's
	// credential store (see store.Open).
	// Unused by node/client.
	DatabaseURL string

	// LogLevel is a zerolog level name. Defaults to "info".
	LogLevel string

	// LogPath, if set, additionally writes rotated logs to this file.
	LogPath string
}

// FromEnv builds a Config by looking up each variable across the given
// environment lines (see ReadEnvFile/os.Environ), falling back to defaults
// where the spec allows one.
func FromEnv(e []string) Config {
	return Config{
		Host:        lookup(e, "HOST", ""),
		Cert:        lookup(e, "CERT", ""),
		Token:       lookup(e, "TOKEN", ""),
		DatabaseURL: lookup(e, "DATABASE_URL", ""),
		LogLevel:    lookup(e, "LOG_LEVEL", "info"),
		LogPath:     lookup(e, "LOG_PATH", ""),
	}
}

func lookup(e []string, key, def string) string {
	for _, kv := range e {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return def
}

// RequireServer validates the fields portrelay-server needs.
func (c Config) RequireServer() error {
	return requireAll(map[string]string{"HOST": c.Host, "CERT": c.Cert, "DATABASE_URL": c.DatabaseURL})
}

// RequireNode validates the fields portrelay-node needs.
func (c Config) RequireNode() error {
	return requireAll(map[string]string{"HOST": c.Host, "CERT": c.Cert, "TOKEN": c.Token})
}

// RequireClient validates the fields portrelay-client needs.
func (c Config) RequireClient() error {
	return requireAll(map[string]string{"HOST": c.Host, "CERT": c.Cert, "TOKEN": c.Token})
}

func requireAll(fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("config: %s is required", name)
		}
	}
	return nil
}

// ReadEnvFile parses a dotenv-style file via hashicorp/go-envparse,
// returning it in os.Environ's KEY=VALUE form.
func ReadEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open env file: %w", err)
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse env file: %w", err)
	}

	e := make([]string, 0, len(m))
	for k, v := range m {
		e = append(e, k+"="+v)
	}
	return e, nil
}
