package artifact

import (
	"path/filepath"
	"strings"
)

// Exclusion matches dependencies by (groupId, artifactId) wildcards, e.g.
// Exclusion{GroupID: "*", ArtifactID: "guava"}.
type Exclusion struct {
	GroupID    string
	ArtifactID string
}

// Matches reports whether a excludes the given coordinate, treating "*" as
// a wildcard on either field.
func (e Exclusion) Matches(groupID, artifactID string) bool {
	return matchWildcard(e.GroupID, groupID) && matchWildcard(e.ArtifactID, artifactID)
}

func matchWildcard(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := filepath.Match(pattern, value)
	return err == nil && ok
}

// Dependency pairs an Artifact with the scope/optionality/exclusions that
// govern how the Dependency Collector traverses it (§3 DATA MODEL).
// Immutable; With* methods return copies.
type Dependency struct {
	Artifact   Artifact
	Scope      string
	Optional   bool
	Exclusions []Exclusion
}

// NewDependency constructs a Dependency with the given scope.
func NewDependency(a Artifact, scope string) Dependency {
	return Dependency{Artifact: a, Scope: scope}
}

// WithArtifact returns a copy of d with its Artifact replaced — used by the
// collector when a descriptor relocates the artifact or version management
// rewrites its version (§4.1 step 4.b).
func (d Dependency) WithArtifact(a Artifact) Dependency {
	d.Artifact = a
	return d
}

// WithScope returns a copy of d with Scope replaced.
func (d Dependency) WithScope(scope string) Dependency {
	d.Scope = scope
	return d
}

// WithOptional returns a copy of d with Optional replaced.
func (d Dependency) WithOptional(optional bool) Dependency {
	d.Optional = optional
	return d
}

// WithExclusions returns a copy of d with Exclusions replaced wholesale.
func (d Dependency) WithExclusions(excl []Exclusion) Dependency {
	out := make([]Exclusion, len(excl))
	copy(out, excl)
	d.Exclusions = out
	return d
}

// IsExcluded reports whether any of d's exclusions matches the given
// coordinate.
func (d Dependency) IsExcluded(groupID, artifactID string) bool {
	for _, e := range d.Exclusions {
		if e.Matches(groupID, artifactID) {
			return true
		}
	}
	return false
}

// ManagementKey is the deduplication key used when merging managed
// dependencies (§4.1 step 4): (groupId, artifactId, classifier, extension).
func (d Dependency) ManagementKey() string {
	return d.Artifact.ManagementKey()
}

// String renders "scope? groupId:artifactId:extension:version" for logs.
func (d Dependency) String() string {
	var b strings.Builder
	if d.Optional {
		b.WriteString("(optional) ")
	}
	b.WriteString(d.Scope)
	b.WriteString(" ")
	b.WriteString(d.Artifact.String())
	return b.String()
}
