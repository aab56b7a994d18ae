package txn

import (
	"os"
	"strings"
	"testing"

	"github.com/crosspack-dev/crosspack/internal/testutil"
)

func TestMetadata_RoundTrip(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	in := &Metadata{
		Version:       1,
		Txid:          "tx-1700000000-4242",
		Operation:     "install",
		Status:        StatusPlanning,
		StartedAtUnix: 1700000000,
		SnapshotID:    "git:0123456789abcdef",
	}
	if err := WriteMetadata(layout, in); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	out, err := ReadMetadata(layout, in.Txid)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if out == nil {
		t.Fatal("ReadMetadata() = nil")
	}
	if *out != *in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestMetadata_MissingIsNil(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	out, err := ReadMetadata(layout, "tx-1-1")
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if out != nil {
		t.Errorf("ReadMetadata() = %+v, want nil", out)
	}
}

func TestMetadata_TruncatedQuotedValueNamesField(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	// A write interrupted mid-status: the closing quote never lands.
	truncated := `{
  "version": 1,
  "txid": "tx-1700000000-4242",
  "operation": "install",
  "status": "appl`
	path := layout.TransactionMetadataPath("tx-1700000000-4242")
	if err := os.WriteFile(path, []byte(truncated), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := ReadMetadata(layout, "tx-1700000000-4242")
	if err == nil {
		t.Fatal("ReadMetadata() accepted truncated metadata")
	}
	if !strings.Contains(err.Error(), `truncated quoted value for field "status"`) {
		t.Errorf("error = %v, want truncated-field mention of status", err)
	}
}

func TestMetadata_UnsupportedVersion(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	body := `{"version": 2, "txid": "tx-1-1", "operation": "install", "status": "planning", "started_at_unix": 1}`
	if err := os.WriteFile(layout.TransactionMetadataPath("tx-1-1"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := ReadMetadata(layout, "tx-1-1"); err == nil {
		t.Fatal("ReadMetadata() accepted unsupported version")
	}
}

func TestUpdateStatus(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	in := &Metadata{Version: 1, Txid: "tx-2-2", Operation: "install", Status: StatusPlanning, StartedAtUnix: 2}
	if err := WriteMetadata(layout, in); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	if err := UpdateStatus(layout, "tx-2-2", StatusApplying); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	out, err := ReadMetadata(layout, "tx-2-2")
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if out.Status != StatusApplying {
		t.Errorf("Status = %s", out.Status)
	}
}

func TestIsValidTxidAndProcessID(t *testing.T) {
	if !IsValidTxid("tx-1700000000-4242") {
		t.Error("valid txid rejected")
	}
	for _, bad := range []string{"", "1700-4242", "tx-UPPER-1", strings.Repeat("tx-", 60)} {
		if IsValidTxid(bad) {
			t.Errorf("IsValidTxid(%q) = true", bad)
		}
	}

	pid, ok := TxidProcessID("tx-1700000000-4242")
	if !ok || pid != 4242 {
		t.Errorf("TxidProcessID() = %d, %v", pid, ok)
	}
	if _, ok := TxidProcessID("garbage"); ok {
		t.Error("TxidProcessID() parsed garbage")
	}
}
