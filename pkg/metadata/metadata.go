// Package metadata models repository metadata documents: version indices
// and snapshot timestamp records (§3 DATA MODEL, §4.3 Metadata Resolver).
package metadata

import (
	"fmt"

	helmrepo "helm.sh/helm/v3/pkg/repo"
)

// Nature classifies what a Metadata document's versions mean, mirroring the
// Maven metadata nature enum.
type Nature int

const (
	// Release restricts a metadata lookup to release versions.
	Release Nature = iota
	// Snapshot restricts a metadata lookup to snapshot versions.
	Snapshot
	// ReleaseOrSnapshot places no restriction on version nature.
	ReleaseOrSnapshot
)

func (n Nature) String() string {
	switch n {
	case Release:
		return "release"
	case Snapshot:
		return "snapshot"
	default:
		return "release-or-snapshot"
	}
}

// Metadata identifies a repository metadata document: a version index
// (type "maven-metadata.xml" in Maven; here modeled as a Helm-style
// IndexFile, see SPEC_FULL.md §2) or a snapshot timestamp record.
type Metadata struct {
	GroupID    string
	ArtifactID string
	Version    string // "" for group- or artifact-level metadata
	Type       string
	Nature     Nature

	file string
}

// New constructs a Metadata value.
func New(groupID, artifactID, version, typ string, nature Nature) Metadata {
	return Metadata{GroupID: groupID, ArtifactID: artifactID, Version: version, Type: typ, Nature: nature}
}

// File returns the attached local file path, or "" if none.
func (m Metadata) File() string { return m.file }

// WithFile returns a copy of m with its file path set.
func (m Metadata) WithFile(path string) Metadata {
	m.file = path
	return m
}

// Key returns the (groupId, artifactId, version, type) identity used to
// compare metadata for sync-context overlap (§4.10) and DataPool caching.
func (m Metadata) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s", m.GroupID, m.ArtifactID, m.Version, m.Type)
}

func (m Metadata) String() string { return m.Key() }

// Mergeable is implemented by metadata documents that must be combined with
// an existing remote copy before upload (§3: "MergeableMetadata"). The
// canonical implementation, Index, wraps a Helm-style version index.
type Mergeable interface {
	Metadata() Metadata
	// Merge combines the remote copy at currentFile (if it exists) with this
	// metadata's in-memory contents and writes the result to intoFile.
	Merge(currentFile, intoFile string) error
	// Merged reports whether Merge has been called successfully.
	Merged() bool
}

// Index is a Mergeable metadata document backed by a Helm repository index
// (helm.sh/helm/v3/pkg/repo.IndexFile), serving the role Maven's
// maven-metadata.xml plays as the per-artifactId version listing (§2 DOMAIN
// STACK: "Remote repository metadata / version index").
type Index struct {
	meta   Metadata
	index  *helmrepo.IndexFile
	merged bool
}

// NewIndex wraps idx (freshly generated from locally installed/deployed
// artifact versions) as mergeable metadata for groupID/artifactID.
func NewIndex(groupID, artifactID string, idx *helmrepo.IndexFile) *Index {
	return &Index{
		meta:  New(groupID, artifactID, "", "index.yaml", ReleaseOrSnapshot),
		index: idx,
	}
}

// Metadata returns the identity of this index document.
func (i *Index) Metadata() Metadata { return i.meta }

// Merge loads currentFile (if it exists) as an existing IndexFile, merges
// this Index's entries into it (new entries win on version conflict), and
// writes the combined index to intoFile — the Helm analogue of Maven
// merging a freshly-generated maven-metadata.xml with the one already
// published remotely (§4.6 Deployer step 3).
func (i *Index) Merge(currentFile, intoFile string) error {
	merged := helmrepo.NewIndexFile()
	if existing, err := helmrepo.LoadIndexFile(currentFile); err == nil {
		merged.Entries = existing.Entries
	}
	for name, versions := range i.index.Entries {
		for _, v := range versions {
			replaced := false
			for j, cur := range merged.Entries[name] {
				if cur.Version == v.Version {
					merged.Entries[name][j] = v
					replaced = true
					break
				}
			}
			if !replaced {
				merged.Entries[name] = append(merged.Entries[name], v)
			}
		}
	}
	merged.SortEntries()
	if err := merged.WriteFile(intoFile, 0o644); err != nil {
		return err
	}
	i.merged = true
	return nil
}

// Merged reports whether Merge completed successfully.
func (i *Index) Merged() bool { return i.merged }
