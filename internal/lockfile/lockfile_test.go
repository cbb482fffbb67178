package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "transcript.lock")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lock.Path() != path {
		t.Fatalf("path=%q, want %q", lock.Path(), path)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("lock file content=%q, want own pid", b)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Re-acquire after release must succeed.
	lock2, err := Acquire(path)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	_ = lock2.Release()
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Acquire(""); err == nil {
		t.Fatalf("empty path accepted")
	}
}

func TestReleaseNilIsSafe(t *testing.T) {
	t.Parallel()

	var lock *Lock
	if err := lock.Release(); err != nil {
		t.Fatalf("nil release: %v", err)
	}
}
