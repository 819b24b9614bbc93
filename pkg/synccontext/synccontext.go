// Package synccontext implements the Sync Context (§4.10): acquiring a
// named-lock over a set of artifact/metadata coordinates so two concurrent
// operations touching the same local-repository files never interleave.
package synccontext

import (
	"context"
	"sort"
	"sync"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/metadata"
)

// Context is acquired over a set of coordinates and held until Close.
// Acquire is idempotent to call zero times; Close is always safe (§4.10
// "close()-safe even if acquire was never called").
type Context struct {
	locker *Locker
	held   []string
}

// Close releases every lock this Context holds, in reverse acquisition
// order. Safe to call multiple times and safe when nothing was acquired.
func (c *Context) Close() {
	for i := len(c.held) - 1; i >= 0; i-- {
		c.locker.release(c.held[i])
	}
	c.held = nil
}

// Locker is the process-wide named-lock adapter backing every Context
// acquired from it. Two coordinate sets overlap, and therefore serialize,
// iff any artifact coordinate is identity-equal (ignoring its file) or any
// metadata key equals in (groupId, artifactId, version, type) — §4.10.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{locks: map[string]*sync.Mutex{}}
}

// Acquire blocks until every coordinate's lock is held, then returns a
// Context that releases them all on Close. Acquisition is atomic in the
// sense required by invariant 6 ("either all coordinates are acquired or
// none") because keys are sorted and locked in a fixed global order, which
// also prevents lock-ordering deadlocks across concurrent Acquire calls.
func (l *Locker) Acquire(ctx context.Context, artifacts []artifact.Artifact, metadatas []metadata.Metadata) (*Context, error) {
	keys := make([]string, 0, len(artifacts)+len(metadatas))
	seen := map[string]struct{}{}
	for _, a := range artifacts {
		k := "artifact:" + a.ManagementKey() + ":" + a.Version()
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, m := range metadatas {
		k := "metadata:" + m.Key()
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	sc := &Context{locker: l}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			sc.Close()
			return nil, err
		}
		l.lock(k)
		sc.held = append(sc.held, k)
	}
	return sc, nil
}

func (l *Locker) lock(key string) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	m, ok := l.locks[key]
	l.mu.Unlock()
	if ok {
		m.Unlock()
	}
}
