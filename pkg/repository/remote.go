// Package repository models RemoteRepository and the "enhanced"
// LocalRepository (§3 DATA MODEL, §4.4, §4.5), and implements the Remote
// Repository Manager's aggregation/merge/policy operations.
package repository

import (
	"github.com/rancher/repo-resolver/pkg/checksum"
	"github.com/rancher/repo-resolver/pkg/updatecheck"
)

// Policy is a RemoteRepository's per-content-nature policy: enabled flag,
// update policy, and checksum policy (§3 "RepositoryPolicy").
type Policy struct {
	Enabled       bool
	UpdatePolicy  updatecheck.Policy
	ChecksumLevel checksum.Level
}

// Authentication and Proxy are opaque attachment points the session
// selectors populate; their contents are not interpreted by the core
// (§1 "out of scope": transport and credential handling).
type Authentication struct {
	Data map[string]string
}

type Proxy struct {
	Data map[string]string
}

// Remote is a repository reachable over the network: id, url, content
// type, per-nature policies, optional auth/proxy, and — when this
// repository is itself a "repository manager" (e.g. a proxy aggregating
// several upstreams) — its mirrored set.
type Remote struct {
	ID          string
	URL         string
	ContentType string

	ReleasePolicy  Policy
	SnapshotPolicy Policy

	Auth  *Authentication
	Proxy *Proxy

	// IsManager marks this repository as expanding into Mirrored when
	// computing the authoritative set for a metadata nature (§4.3).
	IsManager bool
	Mirrored  []Remote
}

// Clone returns a deep-enough copy of r suitable for clone-on-write
// mutation (mergeMirrors, §4.5).
func (r Remote) Clone() Remote {
	c := r
	c.Mirrored = append([]Remote(nil), r.Mirrored...)
	return c
}

// AuthoritativeFor expands r into the set of repositories authoritative
// for checking a given metadata nature: if r is a manager, its mirrored
// set filtered by whether each sub-repository's corresponding policy is
// enabled; otherwise r itself (§4.3 "authoritative repositories").
func (r Remote) AuthoritativeFor(wantRelease, wantSnapshot bool) []Remote {
	if !r.IsManager {
		return []Remote{r}
	}
	var out []Remote
	for _, m := range r.Mirrored {
		if wantRelease && m.ReleasePolicy.Enabled {
			out = append(out, m)
			continue
		}
		if wantSnapshot && m.SnapshotPolicy.Enabled {
			out = append(out, m)
		}
	}
	return out
}
