package config

import (
	"testing"
	"time"
)

func TestDefaultConfig_HonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvCrosspackHome, dir)

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig() error = %v", err)
	}
	if cfg.Prefix != dir {
		t.Errorf("Prefix = %s, want %s", cfg.Prefix, dir)
	}
}

func TestGetDownloadTimeout(t *testing.T) {
	t.Setenv(EnvDownloadTimeout, "")
	if got := GetDownloadTimeout(); got != DefaultDownloadTimeout {
		t.Errorf("default timeout = %v", got)
	}

	t.Setenv(EnvDownloadTimeout, "45s")
	if got := GetDownloadTimeout(); got != 45*time.Second {
		t.Errorf("configured timeout = %v", got)
	}

	t.Setenv(EnvDownloadTimeout, "not-a-duration")
	if got := GetDownloadTimeout(); got != DefaultDownloadTimeout {
		t.Errorf("invalid timeout = %v, want default", got)
	}

	t.Setenv(EnvDownloadTimeout, "1ms")
	if got := GetDownloadTimeout(); got != 1*time.Second {
		t.Errorf("clamped low timeout = %v", got)
	}
}
