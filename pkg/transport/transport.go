// Package transport declares the Connector/Transporter interfaces the core
// drives downloads and uploads through (§1 Out of scope: "the HTTP/file
// transport ... only their interfaces to the core are specified"), plus one
// concrete default implementation per repository content type wired from
// the example pack (§2 DOMAIN STACK).
package transport

import (
	"context"
)

// ArtifactDownload is one requested transfer of an artifact's file from a
// repository to a local destination path. ExistenceCheck, when non-empty,
// lets the transport skip the transfer when a HEAD-equivalent probe
// confirms the existing file is current (§4.2 Phase B step 1).
type ArtifactDownload struct {
	Coordinate      string
	RepositoryIDs   []string
	DestinationPath string
	ExistenceCheck  string

	SupportedContexts []string
	Error             error
}

// ArtifactUpload is one requested transfer of a local file to a repository.
type ArtifactUpload struct {
	Coordinate   string
	SourcePath   string
	RepositoryID string
	Error        error
}

// MetadataDownload mirrors ArtifactDownload for metadata documents,
// carrying the union of authoritative-repository identifiers a single
// download may satisfy (§4.3 "Concurrency").
type MetadataDownload struct {
	Coordinate      string
	RepositoryIDs   []string
	DestinationPath string
	Error           error
}

// MetadataUpload mirrors ArtifactUpload for metadata documents.
type MetadataUpload struct {
	Coordinate   string
	SourcePath   string
	RepositoryID string
	Error        error
}

// Connector is the per-repository transfer driver the Artifact/Metadata
// Resolver and the Deployer invoke (§1, §4.2, §4.6). One Connector instance
// is bound to one repository (or mirrored group) and must be closed after
// use.
type Connector interface {
	Get(ctx context.Context, artifacts []*ArtifactDownload, metadatas []*MetadataDownload) error
	Put(ctx context.Context, artifacts []*ArtifactUpload, metadatas []*MetadataUpload) error
	Close() error
}

// ConnectorFactory constructs a Connector for a repository, returning
// ok=false when this factory cannot serve the repository's content
// type/protocol. Callers try their Factories slice in order; an embedder can
// pre-order that slice with registry.Registry (§4.9).
type ConnectorFactory interface {
	NewConnector(repositoryID, url, contentType string) (conn Connector, ok bool, err error)
}
