package updatecheck

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fluxcd/pkg/lockedfile"
)

// Check is the per-file update-check request/result pair (§3 "UpdateCheck",
// §4.7). ContextKey distinguishes independent checks sharing the same File
// (e.g. one metadata file checked against several authoritative
// repositories).
type Check struct {
	ContextKey     string
	File           string
	RepositoryID   string
	Policy         Policy
	LocalModified  time.Time
	Required       bool
	LastError      error
}

// Manager persists per-file "last update attempted" timestamps and the last
// error string, keyed by (authoritative-repository-id, contextKey), in a
// tracking file named "<file>.lastUpdated" (§4.7).
type Manager struct {
	now func() time.Time
}

// NewManager returns a Manager using time.Now for "now".
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

func trackingPath(file string) string { return file + ".lastUpdated" }

func trackingKey(repositoryID, contextKey string) string {
	return repositoryID + "|" + contextKey
}

// CheckArtifact evaluates whether c.File needs a remote re-check, setting
// c.Required and, if a cached transfer error applies, c.LastError.
func (m *Manager) CheckArtifact(ctx context.Context, c *Check) error {
	return m.check(ctx, c)
}

// CheckMetadata evaluates whether c.File needs a remote re-check. Metadata
// and artifact checks share the same persistence format in this
// implementation; kept as a distinct entry point to mirror §4.7's two named
// operations.
func (m *Manager) CheckMetadata(ctx context.Context, c *Check) error {
	return m.check(ctx, c)
}

func (m *Manager) check(ctx context.Context, c *Check) error {
	_, err := os.Stat(c.File)
	fileExists := err == nil

	entries, readErr := readTracking(trackingPath(c.File))
	if readErr != nil {
		return fmt.Errorf("reading update-check tracking file: %w", readErr)
	}

	key := trackingKey(c.RepositoryID, c.ContextKey)
	entry, seen := entries[key]

	if !fileExists {
		c.Required = true
		return nil
	}
	if !seen {
		c.Required = true
		return nil
	}
	c.Required = c.Policy.IsUpdateRequired(entry.lastChecked, m.now())
	if !c.Required && entry.lastError != "" {
		c.LastError = fmt.Errorf("%s", entry.lastError)
	}
	return nil
}

// TouchArtifact persists the outcome of a just-completed check.
func (m *Manager) TouchArtifact(ctx context.Context, c *Check) error {
	return m.touch(ctx, c)
}

// TouchMetadata persists the outcome of a just-completed check.
func (m *Manager) TouchMetadata(ctx context.Context, c *Check) error {
	return m.touch(ctx, c)
}

func (m *Manager) touch(ctx context.Context, c *Check) error {
	path := trackingPath(c.File)
	mu := lockedfile.MutexAt(path)
	unlock, err := mu.Lock()
	if err != nil {
		return fmt.Errorf("locking update-check tracking file: %w", err)
	}
	defer unlock()

	entries, err := readTracking(path)
	if err != nil {
		return err
	}
	errStr := ""
	if c.LastError != nil {
		errStr = c.LastError.Error()
	}
	entries[trackingKey(c.RepositoryID, c.ContextKey)] = trackingEntry{
		lastChecked: m.now(),
		lastError:   errStr,
	}
	return writeTracking(path, entries)
}

type trackingEntry struct {
	lastChecked time.Time
	lastError   string
}

func readTracking(path string) (map[string]trackingEntry, error) {
	entries := map[string]trackingEntry{}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, field, ok := strings.Cut(key, "#")
		if !ok {
			continue
		}
		entry := entries[k]
		switch field {
		case "lastChecked":
			unixSec, convErr := strconv.ParseInt(value, 10, 64)
			if convErr == nil {
				entry.lastChecked = time.Unix(unixSec, 0).UTC()
			}
		case "lastError":
			entry.lastError = value
		}
		entries[k] = entry
	}
	return entries, scanner.Err()
}

func writeTracking(path string, entries map[string]trackingEntry) error {
	var b strings.Builder
	for k, e := range entries {
		fmt.Fprintf(&b, "%s#lastChecked=%d\n", k, e.lastChecked.Unix())
		if e.lastError != "" {
			fmt.Fprintf(&b, "%s#lastError=%s\n", k, e.lastError)
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
