package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"helm.sh/helm/v3/pkg/getter"

	"github.com/rancher/repo-resolver/pkg/resolveerr"
)

// HTTPConnector is the default Connector for plain http(s) repositories,
// grounded on helm.sh/helm/v3/pkg/getter for the actual GET and
// github.com/hashicorp/go-retryablehttp for retry/backoff — replacing the
// teacher's hand-rolled retry loop (pkg/rest/head.go) with the ecosystem
// equivalent (§2 DOMAIN STACK).
type HTTPConnector struct {
	BaseURL string
	getter  getter.Getter
	client  *retryablehttp.Client
}

// NewHTTPConnector returns an HTTPConnector rooted at baseURL.
func NewHTTPConnector(baseURL string) (*HTTPConnector, error) {
	g, err := getter.NewHTTPGetter()
	if err != nil {
		return nil, fmt.Errorf("constructing http getter: %w", err)
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &HTTPConnector{BaseURL: strings.TrimRight(baseURL, "/"), getter: g, client: client}, nil
}

func (c *HTTPConnector) resolve(coordinatePath string) string {
	return c.BaseURL + "/" + strings.TrimLeft(coordinatePath, "/")
}

// Get fetches each requested artifact/metadata file. It first sends a
// retrying HEAD and reports ArtifactNotFoundError on a 404; otherwise it
// always performs a full GET via helm's getter.Getter. ExistenceCheck is not
// consulted, so the transfer is never skipped.
func (c *HTTPConnector) Get(ctx context.Context, artifacts []*ArtifactDownload, metadatas []*MetadataDownload) error {
	for _, d := range artifacts {
		if err := c.fetch(ctx, d.Coordinate, d.DestinationPath); err != nil {
			d.Error = err
		}
	}
	for _, d := range metadatas {
		if err := c.fetch(ctx, d.Coordinate, d.DestinationPath); err != nil {
			d.Error = err
		}
	}
	return nil
}

func (c *HTTPConnector) fetch(ctx context.Context, coordinatePath, destinationPath string) error {
	url := c.resolve(coordinatePath)

	req, err := retryablehttp.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err == nil {
		if resp, headErr := c.client.Do(req); headErr == nil {
			resp.Body.Close()
			if resp.StatusCode == 404 {
				return &resolveerr.ArtifactNotFoundError{Coordinate: coordinatePath}
			}
		}
	}

	data, err := c.getter.Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return &resolveerr.TransferCancelledError{Cause: ctx.Err()}
		}
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
	}

	if err := os.MkdirAll(path.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	out, err := os.Create(destinationPath)
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, data); err != nil {
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
	}
	return nil
}

// Put uploads each local file via a retrying HTTP PUT.
func (c *HTTPConnector) Put(ctx context.Context, artifacts []*ArtifactUpload, metadatas []*MetadataUpload) error {
	for _, u := range artifacts {
		if err := c.put(ctx, u.Coordinate, u.SourcePath); err != nil {
			u.Error = err
		}
	}
	for _, u := range metadatas {
		if err := c.put(ctx, u.Coordinate, u.SourcePath); err != nil {
			u.Error = err
		}
	}
	return nil
}

func (c *HTTPConnector) put(ctx context.Context, coordinatePath, sourcePath string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening upload source: %w", err)
	}
	defer f.Close()

	req, err := retryablehttp.NewRequestWithContext(ctx, "PUT", c.resolve(coordinatePath), f)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// Close releases the connector's idle HTTP connections.
func (c *HTTPConnector) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

// httpFactory is the ConnectorFactory wrapping HTTPConnector.
type httpFactory struct{}

// NewHTTPConnectorFactory returns the default http(s)-scheme
// ConnectorFactory.
func NewHTTPConnectorFactory() ConnectorFactory { return httpFactory{} }

func (httpFactory) NewConnector(repositoryID, url, contentType string) (Connector, bool, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, false, nil
	}
	conn, err := NewHTTPConnector(url)
	if err != nil {
		return nil, true, err
	}
	return conn, true, nil
}
