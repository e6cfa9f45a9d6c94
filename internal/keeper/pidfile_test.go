package keeper

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestCreatePIDFileWritesCurrentPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keeper.pid")

	pf, err := CreatePIDFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected pid file to exist: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected pid file to contain %d, got %q", os.Getpid(), data)
	}

	if err := pf.Check(); err != nil {
		t.Fatalf("expected Check to succeed right after creation: %v", err)
	}
}

func TestPIDFileCheckFailsWhenAnotherPidTakesOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keeper.pid")
	pf, err := CreatePIDFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("999999999"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := pf.Check(); err == nil {
		t.Fatal("expected Check to fail once another pid takes over the file")
	}
}

func TestPIDFileCheckFailsWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keeper.pid")
	pf, err := CreatePIDFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if err := pf.Check(); err == nil {
		t.Fatal("expected Check to fail once the pid file has been removed")
	}
}

func TestPIDFileRemoveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keeper.pid")
	pf, err := CreatePIDFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := pf.Remove(); err != nil {
		t.Fatalf("unexpected error removing an existing pid file: %v", err)
	}
	if err := pf.Remove(); err != nil {
		t.Fatalf("Remove must be a no-op once the file is already gone: %v", err)
	}
}
