package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCopyTree_PreservesStructureAndSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixture is POSIX-only")
	}
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "file"), []byte("data"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Symlink("sub/file", filepath.Join(src, "link")); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}

	dst := filepath.Join(t.TempDir(), "copy")
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "sub", "file"))
	if err != nil || string(data) != "data" {
		t.Errorf("copied file = %q, %v", data, err)
	}
	target, err := os.Readlink(filepath.Join(dst, "link"))
	if err != nil || target != "sub/file" {
		t.Errorf("copied symlink target = %q, %v", target, err)
	}
	info, err := os.Stat(filepath.Join(dst, "sub", "file"))
	if err != nil || info.Mode().Perm()&0o111 == 0 {
		t.Errorf("copied file lost its mode: %v %v", info, err)
	}
}

func TestRemoveFileIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := RemoveFileIfExists(path); err != nil {
		t.Errorf("RemoveFileIfExists() on missing file error = %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := RemoveFileIfExists(path); err != nil {
		t.Errorf("RemoveFileIfExists() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file survived")
	}
}

func TestMoveDirOrCopy(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "f"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	dst := filepath.Join(t.TempDir(), "moved")

	if err := MoveDirOrCopy(src, dst); err != nil {
		t.Fatalf("MoveDirOrCopy() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "f")); err != nil {
		t.Errorf("moved file missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source survived move")
	}
}
