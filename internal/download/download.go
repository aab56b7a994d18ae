// Package download fetches artifacts into the cache.
//
// The contract is narrow: given a URL and a destination path, produce a
// byte-identical file or an error. Downloads land in a .part file first and
// are renamed into place, so the cache never holds a half-written artifact.
package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/crosspack-dev/crosspack/internal/config"
	"github.com/crosspack-dev/crosspack/internal/log"
)

// Status reports whether a fetch touched the network.
type Status string

const (
	// StatusCacheHit means the destination already existed and force was
	// not set.
	StatusCacheHit Status = "cache-hit"
	// StatusDownloaded means a fresh copy was fetched.
	StatusDownloaded Status = "downloaded"
)

// Downloader fetches artifact files over HTTP with bounded retries.
type Downloader struct {
	client *http.Client
	logger log.Logger
}

// New creates a Downloader with the configured timeout. Compression is
// disabled so the bytes on disk match the bytes the server hashed.
func New(logger log.Logger) *Downloader {
	if logger == nil {
		logger = log.Default()
	}
	return &Downloader{
		client: &http.Client{
			Timeout: config.GetDownloadTimeout(),
			Transport: &http.Transport{
				DisableCompression: true,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		logger: logger,
	}
}

// Fetch downloads url to dest. An existing dest short-circuits as a cache
// hit unless force is set. Transient HTTP failures retry with exponential
// backoff.
func (d *Downloader) Fetch(ctx context.Context, url, dest string, force bool) (Status, error) {
	if _, err := os.Stat(dest); err == nil && !force {
		d.logger.Debug("artifact cache hit", "path", dest)
		return StatusCacheHit, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %s: %w", filepath.Dir(dest), err)
	}

	partPath := dest + ".part"
	operation := func() error {
		return d.fetchOnce(ctx, url, partPath)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}

	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		os.Remove(partPath)
		return "", fmt.Errorf("failed to replace cache file: %s: %w", dest, err)
	}
	if err := os.Rename(partPath, dest); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("failed to move downloaded artifact into cache: %s: %w", dest, err)
	}

	d.logger.Info("artifact downloaded", "url", url, "path", dest)
	return StatusDownloaded, nil
}

func (d *Downloader) fetchOnce(ctx context.Context, url, partPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		// Client errors will not improve on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	out, err := os.Create(partPath)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create %s: %w", partPath, err))
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("failed writing %s: %w", partPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed writing %s: %w", partPath, err)
	}
	return nil
}
