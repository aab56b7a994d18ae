package txn

import (
	"strconv"
	"strings"
)

// IsValidTxid validates user-supplied transaction ids: tx-<seconds>-<pid>.
func IsValidTxid(txid string) bool {
	if txid == "" || !strings.HasPrefix(txid, "tx-") || len(txid) > 128 {
		return false
	}
	for i := 0; i < len(txid); i++ {
		ch := txid[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' {
			continue
		}
		return false
	}
	return true
}

// TxidProcessID extracts the owning pid encoded in the txid suffix.
func TxidProcessID(txid string) (int, bool) {
	idx := strings.LastIndexByte(txid, '-')
	if idx < 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(txid[idx+1:])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// OwnerProcessAlive reports whether the process that started a transaction
// is still running on this host. A txid without a parseable pid counts as
// dead, permitting recovery.
func OwnerProcessAlive(txid string) (bool, error) {
	pid, ok := TxidProcessID(txid)
	if !ok {
		return false, nil
	}
	return ownerProcessAlive(pid)
}
