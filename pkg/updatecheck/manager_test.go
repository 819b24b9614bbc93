package updatecheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckRequiredWhenFileMissing(t *testing.T) {
	m := NewManager()
	c := &Check{File: filepath.Join(t.TempDir(), "missing.jar"), RepositoryID: "central", Policy: Parse("daily")}
	if err := m.CheckArtifact(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	if !c.Required {
		t.Fatal("a missing file should always require a check")
	}
}

func TestTouchThenCheckRespectsPolicy(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "artifact.jar")
	if err := os.WriteFile(file, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixedNow }

	c := &Check{File: file, RepositoryID: "central", ContextKey: "ctx", Policy: Parse("interval:30")}
	if err := m.TouchArtifact(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	check := &Check{File: file, RepositoryID: "central", ContextKey: "ctx", Policy: Parse("interval:30")}
	m.now = func() time.Time { return fixedNow.Add(5 * time.Minute) }
	if err := m.CheckArtifact(context.Background(), check); err != nil {
		t.Fatal(err)
	}
	if check.Required {
		t.Fatal("expected check within the interval window to not require an update")
	}

	m.now = func() time.Time { return fixedNow.Add(45 * time.Minute) }
	if err := m.CheckArtifact(context.Background(), check); err != nil {
		t.Fatal(err)
	}
	if !check.Required {
		t.Fatal("expected check past the interval window to require an update")
	}
}

func TestTouchPersistsLastError(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "artifact.jar")
	os.WriteFile(file, []byte("data"), 0o644)

	m := NewManager()
	c := &Check{File: file, RepositoryID: "central", ContextKey: "ctx", Policy: Parse("never"), LastError: errBoom}
	if err := m.TouchArtifact(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	check := &Check{File: file, RepositoryID: "central", ContextKey: "ctx", Policy: Parse("never")}
	if err := m.CheckArtifact(context.Background(), check); err != nil {
		t.Fatal(err)
	}
	if check.LastError == nil {
		t.Fatal("expected the persisted last error to surface on a non-required check")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
