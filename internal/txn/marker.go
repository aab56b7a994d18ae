package txn

import (
	"fmt"
	"os"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// SetActive creates the active marker with exclusive-create semantics. A
// marker that already exists fails, naming the transaction that owns it.
func SetActive(layout *prefix.Layout, txid string) error {
	path := layout.TransactionActivePath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			existing, readErr := ReadActive(layout)
			if readErr == nil && existing != "" {
				return fmt.Errorf("active transaction marker already exists (txid=%s)", existing)
			}
			return fmt.Errorf("active transaction marker already exists (txid=unknown)")
		}
		return fmt.Errorf("failed creating active transaction marker %s: %w", path, err)
	}

	if _, err := f.WriteString(txid + "\n"); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed writing active transaction marker %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed writing active transaction marker %s: %w", path, err)
	}
	return nil
}

// ReadActive returns the txid held by the active marker, or "" when no
// transaction is active.
func ReadActive(layout *prefix.Layout) (string, error) {
	data, err := os.ReadFile(layout.TransactionActivePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed reading active transaction marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ClearActive removes the active marker, treating absence as success.
func ClearActive(layout *prefix.Layout) error {
	return fsutil.RemoveFileIfExists(layout.TransactionActivePath())
}
