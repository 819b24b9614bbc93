// Package artifact holds the identity types of the repository system:
// Artifact, Dependency and their immutable-with-copy mutators. See
// SPEC_FULL.md §3 DATA MODEL.
package artifact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blang/semver"
)

// LocalPathProperty marks an artifact whose file is supplied directly by the
// caller and must never be cached remotely ("unhosted" artifact, §3).
const LocalPathProperty = "localPath"

var snapshotTimestampSuffix = regexp.MustCompile(`-\d{8}\.\d{6}-\d+$`)

// Artifact identifies a single file in the repository by coordinate. Values
// are immutable; With* methods return modified copies, matching the
// teacher's options/copy-struct convention used throughout pkg/options.
type Artifact struct {
	GroupID    string
	ArtifactID string
	Extension  string
	Classifier string
	version    string

	properties map[string]string
	file       string
}

// New constructs an Artifact. extension defaults to "jar" and classifier to
// "" when empty, matching Maven coordinate conventions.
func New(groupID, artifactID, extension, classifier, version string) Artifact {
	if extension == "" {
		extension = "jar"
	}
	return Artifact{
		GroupID:    groupID,
		ArtifactID: artifactID,
		Extension:  extension,
		Classifier: classifier,
		version:    version,
	}
}

// Version returns the artifact's version coordinate.
func (a Artifact) Version() string { return a.version }

// WithVersion returns a copy of a with version replaced.
func (a Artifact) WithVersion(version string) Artifact {
	a.version = version
	return a
}

// BaseVersion strips any "-<timestamp>.<buildnumber>" snapshot suffix from
// Version, returning it to its "...-SNAPSHOT"-style source form.
func (a Artifact) BaseVersion() string {
	if loc := snapshotTimestampSuffix.FindStringIndex(a.version); loc != nil {
		return a.version[:loc[0]] + "-SNAPSHOT"
	}
	return a.version
}

// IsSnapshot reports whether Version is a timestamped snapshot build or an
// unresolved "-SNAPSHOT" version.
func (a Artifact) IsSnapshot() bool {
	return strings.HasSuffix(a.version, "-SNAPSHOT") || snapshotTimestampSuffix.MatchString(a.version)
}

// SemVer parses Version as a semantic version, for range/ordering logic that
// needs structured comparison instead of lexicographic comparison.
func (a Artifact) SemVer() (semver.Version, error) {
	return semver.Parse(strings.TrimPrefix(a.version, "v"))
}

// File returns the resolved local file path, or "" if unresolved.
func (a Artifact) File() string { return a.file }

// WithFile returns a copy of a with its resolved file path set.
func (a Artifact) WithFile(path string) Artifact {
	a.file = path
	return a
}

// Property returns a property value, or "" if unset.
func (a Artifact) Property(key string) string {
	return a.properties[key]
}

// WithProperty returns a copy of a with key=value merged into its property
// map.
func (a Artifact) WithProperty(key, value string) Artifact {
	props := make(map[string]string, len(a.properties)+1)
	for k, v := range a.properties {
		props[k] = v
	}
	props[key] = value
	a.properties = props
	return a
}

// IsUnhosted reports whether the artifact carries LocalPathProperty, i.e.
// its file is supplied by the caller and is never fetched remotely (§3).
func (a Artifact) IsUnhosted() bool {
	return a.properties[LocalPathProperty] != ""
}

// Equal implements artifact identity equality: all five coordinate fields
// must match (§3 invariant: "Two artifacts are equal iff all identity
// fields are equal").
func (a Artifact) Equal(o Artifact) bool {
	return a.GroupID == o.GroupID &&
		a.ArtifactID == o.ArtifactID &&
		a.Extension == o.Extension &&
		a.Classifier == o.Classifier &&
		a.version == o.version
}

// ManagementKey returns the (groupId, artifactId, classifier, extension)
// tuple used to deduplicate managed dependencies (§4.1 step 4).
func (a Artifact) ManagementKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", a.GroupID, a.ArtifactID, a.Classifier, a.Extension)
}

// String renders the Maven-style "group:artifact:extension[:classifier]:version" coordinate.
func (a Artifact) String() string {
	var b strings.Builder
	b.WriteString(a.GroupID)
	b.WriteByte(':')
	b.WriteString(a.ArtifactID)
	b.WriteByte(':')
	b.WriteString(a.Extension)
	if a.Classifier != "" {
		b.WriteByte(':')
		b.WriteString(a.Classifier)
	}
	b.WriteByte(':')
	b.WriteString(a.version)
	return b.String()
}

// InternKey is the key used by pkg/pool's ObjectPool to deduplicate equal
// Artifact values without requiring the whole struct to be comparable by a
// map (properties is a map and isn't comparable with ==).
func (a Artifact) InternKey() string {
	return a.String() + "|" + propKey(a.properties)
}

func propKey(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	// deterministic ordering without importing sort for a handful of keys
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(props[k])
		b.WriteByte(';')
	}
	return b.String()
}
