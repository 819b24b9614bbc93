package artifact

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
)

// VersionRangeRequest asks a metadata source to enumerate the versions
// satisfying a range constraint for one artifact coordinate (§3 DataPool:
// "a mapping from a VersionRangeRequest-derived key to its resolved version
// range").
type VersionRangeRequest struct {
	GroupID    string
	ArtifactID string
	Extension  string
	Classifier string
	Range      string // e.g. "[1.0,2.0)" or "*"
}

// Key returns the DataPool cache key for this request, grounded on the
// repository set it was resolved against (callers append the repository
// digest themselves; see pkg/pool).
func (r VersionRangeRequest) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", r.GroupID, r.ArtifactID, r.Extension, r.Classifier, r.Range)
}

// VersionRangeResult is the resolved, ordered set of versions satisfying a
// VersionRangeRequest, plus which repository (if any) is authoritative for
// the highest version — used by the Dependency Collector (§4.1 step 2,
// "pick the highest version") and the Artifact Resolver (§4.2 step 3).
type VersionRangeResult struct {
	Versions   []string
	Repository string // id of the repository the highest version came from, "" if local/workspace
}

// Highest returns the greatest version in the result under semantic version
// ordering, falling back to lexicographic ordering for non-semver strings.
func (r VersionRangeResult) Highest() (string, bool) {
	if len(r.Versions) == 0 {
		return "", false
	}
	versions := append([]string(nil), r.Versions...)
	sort.Slice(versions, func(i, j int) bool {
		return Less(versions[i], versions[j])
	})
	return versions[len(versions)-1], true
}

// Less orders two version strings, preferring semantic-version comparison
// and falling back to a plain string comparison when either fails to parse
// (matching Maven's ComparableVersion tolerance of non-semver coordinates).
func Less(a, b string) bool {
	va, errA := semver.NewVersion(normalize(a))
	vb, errB := semver.NewVersion(normalize(b))
	if errA == nil && errB == nil {
		return va.LessThan(vb)
	}
	return a < b
}

func normalize(v string) string {
	return strings.TrimSuffix(v, "-SNAPSHOT")
}

// Constraint wraps a Maven-style range expression. Only the common forms are
// supported: "*", an exact version, "[a,b]", "[a,b)", "(a,b]", "(a,b)",
// "[a,)" and "(,a]" with a/b possibly empty to denote unbounded.
type Constraint struct {
	raw       string
	lowerIncl bool
	upperIncl bool
	lower     string
	upper     string
	exact     string
}

// ParseConstraint parses a Maven-style version range expression.
func ParseConstraint(raw string) (Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return Constraint{raw: raw}, nil
	}
	if !strings.HasPrefix(raw, "[") && !strings.HasPrefix(raw, "(") {
		return Constraint{raw: raw, exact: raw}, nil
	}
	if len(raw) < 2 {
		return Constraint{}, fmt.Errorf("invalid version range %q", raw)
	}
	lowerIncl := raw[0] == '['
	upperIncl := raw[len(raw)-1] == ']'
	body := raw[1 : len(raw)-1]
	parts := strings.SplitN(body, ",", 2)
	if len(parts) != 2 {
		return Constraint{}, fmt.Errorf("invalid version range %q", raw)
	}
	return Constraint{
		raw:       raw,
		lowerIncl: lowerIncl,
		upperIncl: upperIncl,
		lower:     strings.TrimSpace(parts[0]),
		upper:     strings.TrimSpace(parts[1]),
	}, nil
}

// IsRange reports whether the constraint denotes a range (as opposed to a
// single exact version or the unbounded wildcard).
func (c Constraint) IsRange() bool {
	return c.exact == "" && c.raw != "" && c.raw != "*"
}

// Matches reports whether version satisfies the constraint.
func (c Constraint) Matches(version string) bool {
	if c.raw == "" || c.raw == "*" {
		return true
	}
	if c.exact != "" {
		return c.exact == version
	}
	if c.lower != "" {
		if c.lowerIncl {
			if Less(version, c.lower) {
				return false
			}
		} else if !Less(c.lower, version) {
			return false
		}
	}
	if c.upper != "" {
		if c.upperIncl {
			if Less(c.upper, version) {
				return false
			}
		} else if !Less(version, c.upper) {
			return false
		}
	}
	return true
}

// Filter returns the subset of versions satisfying the constraint, in their
// original order.
func (c Constraint) Filter(versions []string) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if c.Matches(v) {
			out = append(out, v)
		}
	}
	return out
}

func (c Constraint) String() string { return c.raw }
