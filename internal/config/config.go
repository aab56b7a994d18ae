// Package config resolves the crosspack prefix and tunable knobs from the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// EnvCrosspackHome is the environment variable to override the default
	// crosspack prefix directory.
	EnvCrosspackHome = "CROSSPACK_HOME"

	// EnvDownloadTimeout is the environment variable to configure the
	// artifact download timeout.
	EnvDownloadTimeout = "CROSSPACK_DOWNLOAD_TIMEOUT"

	// DefaultDownloadTimeout is the default timeout for a single artifact
	// download attempt.
	DefaultDownloadTimeout = 10 * time.Minute
)

// Config holds resolved paths for a crosspack prefix.
type Config struct {
	// Prefix is the root of the managed directory tree.
	Prefix string
}

// DefaultConfig resolves the prefix from CROSSPACK_HOME, falling back to
// ~/.crosspack.
func DefaultConfig() (*Config, error) {
	if prefix := os.Getenv(EnvCrosspackHome); prefix != "" {
		abs, err := filepath.Abs(prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", EnvCrosspackHome, err)
		}
		return &Config{Prefix: abs}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return &Config{Prefix: filepath.Join(home, ".crosspack")}, nil
}

// NewConfig creates a Config rooted at an explicit prefix. Used by tests and
// the --prefix flag.
func NewConfig(prefix string) (*Config, error) {
	abs, err := filepath.Abs(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prefix: %w", err)
	}
	return &Config{Prefix: abs}, nil
}

// GetDownloadTimeout returns the configured download timeout from
// CROSSPACK_DOWNLOAD_TIMEOUT. If not set or invalid, returns
// DefaultDownloadTimeout. Accepts duration strings like "30s", "5m".
func GetDownloadTimeout() time.Duration {
	envValue := os.Getenv(EnvDownloadTimeout)
	if envValue == "" {
		return DefaultDownloadTimeout
	}

	duration, err := time.ParseDuration(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n",
			EnvDownloadTimeout, envValue, DefaultDownloadTimeout)
		return DefaultDownloadTimeout
	}

	if duration < 1*time.Second {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum 1s\n",
			EnvDownloadTimeout, duration)
		return 1 * time.Second
	}
	if duration > time.Hour {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum 1h\n",
			EnvDownloadTimeout, duration)
		return time.Hour
	}

	return duration
}
