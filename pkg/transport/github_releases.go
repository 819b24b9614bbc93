package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/rancher/repo-resolver/pkg/resolveerr"
)

// GitHubReleasesConnector serves a repository whose contentType is
// "github-releases": each coordinate has the form `<assetName>@<tag>` and
// names the asset of that name on the release with that tag. Grounded on github.com/google/go-github/v41 +
// golang.org/x/oauth2 (§2 DOMAIN STACK), following the teacher's own
// pkg/utils/github.go pattern of an authenticated github.Client.
type GitHubReleasesConnector struct {
	Owner, Repo string
	client      *github.Client
}

// NewGitHubReleasesConnector returns a connector for owner/repo,
// authenticating with token if non-empty.
func NewGitHubReleasesConnector(ctx context.Context, owner, repo, token string) *GitHubReleasesConnector {
	httpClient := http.DefaultClient
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &GitHubReleasesConnector{Owner: owner, Repo: repo, client: github.NewClient(httpClient)}
}

func (c *GitHubReleasesConnector) Get(ctx context.Context, artifacts []*ArtifactDownload, metadatas []*MetadataDownload) error {
	for _, d := range artifacts {
		if err := c.fetchAsset(ctx, d.Coordinate, d.DestinationPath); err != nil {
			d.Error = err
		}
	}
	for _, d := range metadatas {
		if err := c.fetchAsset(ctx, d.Coordinate, d.DestinationPath); err != nil {
			d.Error = err
		}
	}
	return nil
}

func (c *GitHubReleasesConnector) fetchAsset(ctx context.Context, coordinatePath, destinationPath string) error {
	parts := strings.SplitN(coordinatePath, "@", 2)
	if len(parts) != 2 {
		return &resolveerr.ArtifactNotFoundError{Coordinate: coordinatePath, Cause: fmt.Errorf("expected <assetName>@<tag> coordinate")}
	}
	assetName, tag := parts[0], parts[1]

	release, _, err := c.client.Repositories.GetReleaseByTag(ctx, c.Owner, c.Repo, tag)
	if err != nil {
		return &resolveerr.ArtifactNotFoundError{Coordinate: coordinatePath, Cause: err}
	}
	for _, asset := range release.Assets {
		if asset.GetName() != assetName {
			continue
		}
		rc, _, err := c.client.Repositories.DownloadReleaseAsset(ctx, c.Owner, c.Repo, asset.GetID(), http.DefaultClient)
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
		if _, err := io.Copy(out, rc); err != nil {
			return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
		}
		return nil
	}
	return &resolveerr.ArtifactNotFoundError{Coordinate: coordinatePath}
}

// Put uploads each local file as a release asset, creating the release if
// one tagged with the corresponding version does not yet exist.
func (c *GitHubReleasesConnector) Put(ctx context.Context, artifacts []*ArtifactUpload, metadatas []*MetadataUpload) error {
	for _, u := range artifacts {
		if err := c.uploadAsset(ctx, u.Coordinate, u.SourcePath); err != nil {
			u.Error = err
		}
	}
	for _, u := range metadatas {
		if err := c.uploadAsset(ctx, u.Coordinate, u.SourcePath); err != nil {
			u.Error = err
		}
	}
	return nil
}

func (c *GitHubReleasesConnector) uploadAsset(ctx context.Context, coordinatePath, sourcePath string) error {
	parts := strings.SplitN(coordinatePath, "@", 2)
	if len(parts) != 2 {
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: fmt.Errorf("expected <assetName>@<tag> coordinate")}
	}
	assetName, tag := parts[0], parts[1]

	release, _, err := c.client.Repositories.GetReleaseByTag(ctx, c.Owner, c.Repo, tag)
	if err != nil {
		release, _, err = c.client.Repositories.CreateRelease(ctx, c.Owner, c.Repo, &github.RepositoryRelease{TagName: &tag})
		if err != nil {
			return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
		}
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, _, err = c.client.Repositories.UploadReleaseAsset(ctx, c.Owner, c.Repo, release.GetID(), &github.UploadOptions{Name: assetName}, f)
	if err != nil {
		return &resolveerr.ArtifactTransferError{Coordinate: coordinatePath, Cause: err}
	}
	return nil
}

func (c *GitHubReleasesConnector) Close() error { return nil }
