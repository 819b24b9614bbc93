package repository

import (
	"github.com/rancher/repo-resolver/pkg/checksum"
	"github.com/rancher/repo-resolver/pkg/updatecheck"
)

// MirrorSelector resolves a raw (request-supplied) repository to whatever
// session-configured mirror should be substituted for it, mirroring the
// "session mirror selector" of §4.5. Returning ok=false means no mirror
// applies and the raw repository is used as-is.
type MirrorSelector interface {
	SelectMirror(raw Remote) (mirror Remote, ok bool)
}

// AuthSelector attaches session-configured authentication/proxy to a raw
// repository (§4.5 "attach authentication and proxy from the session
// selectors").
type AuthSelector interface {
	SelectAuth(raw Remote) *Authentication
	SelectProxy(raw Remote) *Proxy
}

// AggregateRepositories merges recessive into dominant, starting from
// dominant: for each repository in recessive, if recessiveIsRaw a mirror
// substitution is attempted first; a same-id collision merges mirror sets
// when both sides have one, else the dominant entry wins; otherwise (no
// collision) the repository is appended, picking up session auth/proxy if
// recessiveIsRaw (§4.5).
func AggregateRepositories(mirrors MirrorSelector, auth AuthSelector, dominant []Remote, recessive []Remote, recessiveIsRaw bool) []Remote {
	out := append([]Remote(nil), dominant...)
	index := map[string]int{}
	for i, r := range out {
		index[r.ID] = i
	}

	for _, r := range recessive {
		candidate := r
		if recessiveIsRaw && mirrors != nil {
			if mirror, ok := mirrors.SelectMirror(r); ok {
				candidate = mirror
			}
		}
		if i, exists := index[candidate.ID]; exists {
			existing := out[i]
			if len(existing.Mirrored) > 0 && len(candidate.Mirrored) > 0 {
				out[i] = MergeMirrors(existing, candidate)
			}
			// else: dominant wins, skip.
			continue
		}
		if recessiveIsRaw && auth != nil {
			candidate.Auth = auth.SelectAuth(candidate)
			candidate.Proxy = auth.SelectProxy(candidate)
		}
		index[candidate.ID] = len(out)
		out = append(out, candidate)
	}
	return out
}

// MergeMirrors clone-on-writes dominant, appending every sub-repository of
// recessive.Mirrored not already present (by id) in dominant.Mirrored, and
// merging each pair's release/snapshot policies (§4.5).
func MergeMirrors(dominant, recessive Remote) Remote {
	merged := dominant.Clone()
	present := map[string]int{}
	for i, m := range merged.Mirrored {
		present[m.ID] = i
	}
	for _, sub := range recessive.Mirrored {
		if i, ok := present[sub.ID]; ok {
			merged.Mirrored[i].ReleasePolicy = MergePolicy(merged.Mirrored[i].ReleasePolicy, sub.ReleasePolicy)
			merged.Mirrored[i].SnapshotPolicy = MergePolicy(merged.Mirrored[i].SnapshotPolicy, sub.SnapshotPolicy)
			continue
		}
		present[sub.ID] = len(merged.Mirrored)
		merged.Mirrored = append(merged.Mirrored, sub)
	}
	return merged
}

// MergePolicy combines two policies for the same repository nature: if
// both enabled, pick the stricter checksum policy and the more-frequent
// update policy; if exactly one enabled, take it; if neither, take a
// (§4.5).
func MergePolicy(a, b Policy) Policy {
	switch {
	case a.Enabled && b.Enabled:
		return Policy{
			Enabled:       true,
			ChecksumLevel: checksum.Stricter(a.ChecksumLevel, b.ChecksumLevel),
			UpdatePolicy:  updatecheck.Effective(a.UpdatePolicy, b.UpdatePolicy),
		}
	case b.Enabled:
		return b
	default:
		return a
	}
}

// GetPolicy derives the effective policy for repository r under the given
// base release/snapshot policies, then overlays any non-empty session-wide
// checksum/update policy override strings (§4.5 "getPolicy").
func GetPolicy(r Remote, wantRelease bool, sessionChecksum *checksum.Level, sessionUpdate *string) Policy {
	p := r.ReleasePolicy
	if !wantRelease {
		p = r.SnapshotPolicy
	}
	if sessionChecksum != nil {
		p.ChecksumLevel = *sessionChecksum
	}
	if sessionUpdate != nil && *sessionUpdate != "" {
		p.UpdatePolicy = updatecheck.Parse(*sessionUpdate)
	}
	return p
}
