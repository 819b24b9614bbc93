// Package session is the "load once, use everywhere" configuration carrier
// for a resolution run (§6 CONFIGURATION KEYS), modeled on the teacher's
// pkg/config: a Session is built once and threaded through ctx for the
// duration of a collect/resolve/install/deploy call.
package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Session holds the resolved configuration and mutable per-run state for one
// collection/resolution/installation pipeline.
type Session struct {
	// Offline, when true, keeps the artifact and metadata resolvers from
	// contacting remote repositories (an item with no local copy is reported
	// as not found) and makes Deploy fail with RepositoryOfflineError unless
	// the repository's protocol or host is in OfflineProtocols/OfflineHosts.
	Offline bool

	// SnapshotNormalization controls whether a resolved snapshot artifact's
	// download is additionally copied to its base-version filename
	// (aether.artifactResolver.snapshotNormalization, default true).
	SnapshotNormalization bool

	// MetadataResolverThreads bounds the Metadata Resolver's worker pool
	// (aether.metadataResolver.threads, default 4).
	MetadataResolverThreads int

	// TrackingFilename names the enhanced local repository's sidecar
	// origin-tracking file (aether.enhancedLocalRepository.trackingFilename,
	// default "_remote.repositories"). Must not contain "/", "\" or "..".
	TrackingFilename string

	// OfflineProtocols/OfflineHosts list the protocols/hosts exempt from the
	// offline error even when Offline is true (aether.offline.protocols,
	// aether.offline.hosts).
	OfflineProtocols []string
	OfflineHosts     []string

	// Priorities overrides the Prioritized-Component Registry's ordering for
	// a named component type (aether.priority.<Type>). NaN means disabled.
	Priorities map[string]float64

	// ImplicitPriority makes the registry order components that have no
	// session override by insertion order (earliest first) in place of their
	// nominal priority (aether.priority.implicit).
	ImplicitPriority bool
}

// New returns a Session with the spec's documented defaults.
func New() *Session {
	return &Session{
		SnapshotNormalization:   true,
		MetadataResolverThreads: 4,
		TrackingFilename:        "_remote.repositories",
		Priorities:              map[string]float64{},
	}
}

// ValidateTrackingFilename rejects path separators and parent references, as
// the tracking filename is joined directly under each local repository
// artifact directory (§4.4).
func ValidateTrackingFilename(name string) error {
	if name == "" {
		return errors.New("tracking filename must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return errors.New(`tracking filename must not contain "/", "\" or ".."`)
	}
	return nil
}

// IsProtocolExempt reports whether protocol is in OfflineProtocols.
func (s *Session) IsProtocolExempt(protocol string) bool {
	for _, p := range s.OfflineProtocols {
		if strings.EqualFold(p, protocol) {
			return true
		}
	}
	return false
}

// IsHostExempt reports whether host is in OfflineHosts.
func (s *Session) IsHostExempt(host string) bool {
	for _, h := range s.OfflineHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// Priority returns the configured override for typeName and whether one is
// set. A NaN override means the implementation is disabled entirely (§4.9).
func (s *Session) Priority(typeName string) (float64, bool) {
	v, ok := s.Priorities[typeName]
	return v, ok
}

// ParseCSV splits a comma-separated configuration value into trimmed,
// non-empty fields.
func ParseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ParseBool parses a config string as a bool, defaulting to def on error or
// empty input.
func ParseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// ParseInt parses a config string as an int, defaulting to def on error or
// empty input.
func ParseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

type contextKey string

const sessionKey contextKey = "repo-resolver-session"

// WithSession attaches sess to ctx.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// FromContext retrieves the Session attached to ctx. Returns an error if
// none is attached. The collector, resolvers and deployer do not fail on
// that error: they fall back to New()'s defaults.
func FromContext(ctx context.Context) (*Session, error) {
	sess, _ := ctx.Value(sessionKey).(*Session)
	if sess == nil {
		return nil, errors.New("session not initialized in context")
	}
	return sess, nil
}
