package resolver

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/filesystem"
	"github.com/rancher/repo-resolver/pkg/repository"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
	"github.com/rancher/repo-resolver/pkg/session"
	"github.com/rancher/repo-resolver/pkg/transport"
	"github.com/rancher/repo-resolver/pkg/updatecheck"
)

type fakeConnector struct {
	downloaded []string
}

func (c *fakeConnector) Get(_ context.Context, artifacts []*transport.ArtifactDownload, _ []*transport.MetadataDownload) error {
	for _, d := range artifacts {
		c.downloaded = append(c.downloaded, d.Coordinate)
	}
	return nil
}
func (c *fakeConnector) Put(context.Context, []*transport.ArtifactUpload, []*transport.MetadataUpload) error {
	return nil
}
func (c *fakeConnector) Close() error { return nil }

type fakeFactory struct{ conn *fakeConnector }

func (f *fakeFactory) NewConnector(_, _, _ string) (transport.Connector, bool, error) {
	return f.conn, true, nil
}

func newTestResolver(t *testing.T) (*Resolver, *fakeConnector) {
	t.Helper()
	fs := memfs.New()
	local := repository.NewLocal(fs, "")
	conn := &fakeConnector{}
	r := New(local, nil, updatecheck.NewManager(), []transport.ConnectorFactory{&fakeFactory{conn: conn}}, nil)
	return r, conn
}

func TestResolveAdoptsExistingLocalFile(t *testing.T) {
	r, _ := newTestResolver(t)
	a := artifact.New("g", "lib", "jar", "", "1.0")
	rel := r.Local.ArtifactPath(a, true)

	f, err := filesystem.CreateWithDirs(r.Local.FS, rel)
	if err != nil {
		t.Fatalf("seeding local cache: %v", err)
	}
	if _, err := f.Write([]byte("payload")); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}
	f.Close()

	ctx := session.WithSession(context.Background(), session.New())
	results, err := r.Resolve(ctx, []Request{{Artifact: a}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Artifact.File() == "" {
		t.Fatal("expected the pre-existing local file to be adopted")
	}
}

func TestResolveOfflineWithoutLocalFileFails(t *testing.T) {
	r, _ := newTestResolver(t)
	a := artifact.New("g", "missing", "jar", "", "1.0")

	sess := session.New()
	sess.Offline = true
	ctx := session.WithSession(context.Background(), sess)

	results, err := r.Resolve(ctx, []Request{{Artifact: a, Repositories: []repository.Remote{{ID: "central", URL: "https://repo.example.com"}}}})
	if err == nil {
		t.Fatal("expected ArtifactResolutionError")
	}
	if _, ok := results[0].Error.(*resolveerr.ArtifactNotFoundError); !ok {
		t.Fatalf("expected ArtifactNotFoundError, got %T", results[0].Error)
	}
}

func TestResolveDownloadsFromRemoteWhenNotCachedLocally(t *testing.T) {
	r, conn := newTestResolver(t)
	a := artifact.New("g", "lib", "jar", "", "1.0")

	ctx := session.WithSession(context.Background(), session.New())
	results, err := r.Resolve(ctx, []Request{{Artifact: a, Repositories: []repository.Remote{{ID: "central", URL: "https://repo.example.com", ContentType: "default"}}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.downloaded) != 1 {
		t.Fatalf("expected 1 download, got %d", len(conn.downloaded))
	}
	if results[0].RepositoryID != "central" {
		t.Fatalf("expected repository id 'central', got %q", results[0].RepositoryID)
	}
}
