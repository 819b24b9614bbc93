package transport

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/rancher/repo-resolver/pkg/resolveerr"
)

// OCIConnector serves a repository whose contentType is "oci": artifacts
// are stored as single-layer OCI images, named `<registry>/<coordinatePath>`
// with the path's extension removed. Get always pulls the "latest" tag; the
// artifact version is not used as the tag. Grounded on
// github.com/google/go-containerregistry (§2 DOMAIN STACK: "OCI-backed
// remote repository").
type OCIConnector struct {
	Registry string
}

// NewOCIConnector returns an OCIConnector rooted at an OCI registry/repo
// path (e.g. "registry.example.com/charts").
func NewOCIConnector(registry string) *OCIConnector {
	return &OCIConnector{Registry: strings.TrimRight(registry, "/")}
}

func (c *OCIConnector) refFor(coordinatePath, version string) (name.Reference, error) {
	repo := strings.TrimSuffix(strings.TrimLeft(coordinatePath, "/"), path.Ext(coordinatePath))
	ref := fmt.Sprintf("%s/%s:%s", c.Registry, repo, sanitizeTag(version))
	return name.ParseReference(ref)
}

func sanitizeTag(v string) string {
	return strings.NewReplacer("+", "_", ":", "_").Replace(v)
}

// Get pulls each requested artifact as a single-layer OCI image and
// extracts its one layer to the destination path.
func (c *OCIConnector) Get(ctx context.Context, artifacts []*ArtifactDownload, metadatas []*MetadataDownload) error {
	for _, d := range artifacts {
		if err := c.pull(ctx, d.Coordinate, d.DestinationPath); err != nil {
			d.Error = err
		}
	}
	for _, d := range metadatas {
		d.Error = &resolveerr.MetadataTransferError{Coordinate: d.Coordinate, Cause: fmt.Errorf("oci connector does not host metadata documents")}
	}
	return nil
}

func (c *OCIConnector) pull(ctx context.Context, coordinatePath, destinationPath string) error {
	ref, err := c.refFor(coordinatePath, "latest")
	if err != nil {
		return fmt.Errorf("parsing oci reference: %w", err)
	}
	img, err := remote.Image(ref, remote.WithContext(ctx))
	if err != nil {
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
	}
	layers, err := img.Layers()
	if err != nil || len(layers) == 0 {
		return &resolveerr.ArtifactNotFoundError{Coordinate: coordinatePath, Cause: err}
	}
	rc, err := layers[0].Uncompressed()
	if err != nil {
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
	}
	defer rc.Close()

	if err := os.MkdirAll(path.Dir(destinationPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destinationPath)
	if err != nil {
		return err
	}
	defer out.Close()

	tr := tar.NewReader(rc)
	hdr, err := tr.Next()
	if err == nil && hdr != nil {
		_, err = io.Copy(out, tr)
	}
	if err != nil && err != io.EOF {
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
	}
	return nil
}

// Put does not push anything: it marks every artifact upload with an
// ArtifactTransferError and every metadata upload with a
// MetadataTransferError.
func (c *OCIConnector) Put(ctx context.Context, artifacts []*ArtifactUpload, metadatas []*MetadataUpload) error {
	for _, u := range artifacts {
		u.Error = &resolveerr.ArtifactTransferError{Coordinate: u.Coordinate, Cause: fmt.Errorf("oci connector push not implemented in this build")}
	}
	for _, u := range metadatas {
		u.Error = &resolveerr.MetadataTransferError{Coordinate: u.Coordinate, Cause: fmt.Errorf("oci connector does not host metadata documents")}
	}
	return nil
}

func (c *OCIConnector) Close() error { return nil }
