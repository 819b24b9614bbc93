package metadataresolver

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/rancher/repo-resolver/pkg/metadata"
	"github.com/rancher/repo-resolver/pkg/repository"
	"github.com/rancher/repo-resolver/pkg/session"
	"github.com/rancher/repo-resolver/pkg/transport"
	"github.com/rancher/repo-resolver/pkg/updatecheck"
)

// fakeConnector records how many times it was invoked and, when err is set,
// attaches it to every requested metadata download. It writes no files.
type fakeConnector struct {
	calls int
	err   error
}

func (c *fakeConnector) Get(_ context.Context, _ []*transport.ArtifactDownload, metadatas []*transport.MetadataDownload) error {
	c.calls++
	for _, d := range metadatas {
		if c.err != nil {
			d.Error = c.err
			continue
		}
	}
	return nil
}
func (c *fakeConnector) Put(context.Context, []*transport.ArtifactUpload, []*transport.MetadataUpload) error {
	return nil
}
func (c *fakeConnector) Close() error { return nil }

type fakeFactory struct {
	conn *fakeConnector
}

func (f *fakeFactory) NewConnector(_, _, _ string) (transport.Connector, bool, error) {
	return f.conn, true, nil
}

func TestResolveDownloadsWhenRequired(t *testing.T) {
	fs := memfs.New()
	local := repository.NewLocal(fs, "")
	conn := &fakeConnector{}
	factory := &fakeFactory{conn: conn}

	r := New(local, nil, updatecheck.NewManager(), []transport.ConnectorFactory{factory}, nil)

	repo := repository.Remote{
		ID: "central", URL: "https://repo.example.com", ContentType: "default",
		ReleasePolicy: repository.Policy{Enabled: true, UpdatePolicy: updatecheck.Parse("always")},
	}
	md := metadata.New("g", "a", "", "index.yaml", metadata.Release)

	sess := session.New()
	ctx := session.WithSession(context.Background(), sess)

	results, err := r.Resolve(ctx, []Request{{Metadata: md, Repositories: []repository.Remote{repo}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Updated {
		t.Fatal("expected the metadata to be reported updated")
	}
	if conn.calls != 1 {
		t.Fatalf("expected connector.Get to be called once, got %d", conn.calls)
	}
}

func TestResolveOfflineSkipsRemote(t *testing.T) {
	fs := memfs.New()
	local := repository.NewLocal(fs, "")
	conn := &fakeConnector{}
	factory := &fakeFactory{conn: conn}

	r := New(local, nil, updatecheck.NewManager(), []transport.ConnectorFactory{factory}, nil)

	repo := repository.Remote{
		ID: "central", URL: "https://repo.example.com", ContentType: "default",
		ReleasePolicy: repository.Policy{Enabled: true, UpdatePolicy: updatecheck.Parse("always")},
	}
	md := metadata.New("g", "a", "", "index.yaml", metadata.Release)

	sess := session.New()
	sess.Offline = true
	ctx := session.WithSession(context.Background(), sess)

	results, err := r.Resolve(ctx, []Request{{Metadata: md, Repositories: []repository.Remote{repo}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.calls != 0 {
		t.Fatalf("expected no remote calls while offline, got %d", conn.calls)
	}
	if results[0].Updated {
		t.Fatal("offline resolution must never report an update")
	}
}

func TestResolveRecordsTransferException(t *testing.T) {
	fs := memfs.New()
	local := repository.NewLocal(fs, "")
	conn := &fakeConnector{err: errBoom{}}
	factory := &fakeFactory{conn: conn}

	r := New(local, nil, updatecheck.NewManager(), []transport.ConnectorFactory{factory}, nil)

	repo := repository.Remote{
		ID: "central", URL: "https://repo.example.com", ContentType: "default",
		ReleasePolicy: repository.Policy{Enabled: true, UpdatePolicy: updatecheck.Parse("always")},
	}
	md := metadata.New("g", "a", "", "index.yaml", metadata.Release)

	sess := session.New()
	ctx := session.WithSession(context.Background(), sess)

	results, err := r.Resolve(ctx, []Request{{Metadata: md, Repositories: []repository.Remote{repo}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results[0].Exceptions) != 1 {
		t.Fatalf("expected 1 recorded exception, got %d: %v", len(results[0].Exceptions), results[0].Exceptions)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
