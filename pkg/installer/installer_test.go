package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/filesystem"
	"github.com/rancher/repo-resolver/pkg/metadata"
	"github.com/rancher/repo-resolver/pkg/repository"
)

// fakeMergeable records its Merge calls instead of touching any real index
// format, so tests can assert self-install/self-deploy behavior directly.
type fakeMergeable struct {
	meta    metadata.Metadata
	merges  []string
	mergeOK bool
}

func (f *fakeMergeable) Metadata() metadata.Metadata { return f.meta }
func (f *fakeMergeable) Merge(currentFile, intoFile string) error {
	f.merges = append(f.merges, currentFile+"->"+intoFile)
	f.mergeOK = true
	return os.WriteFile(intoFile, []byte("merged"), 0o644)
}
func (f *fakeMergeable) Merged() bool { return f.mergeOK }

func writeHostFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInstallCopiesArtifactAndMergesMetadata(t *testing.T) {
	srcDir := t.TempDir()
	// OS-backed: Mergeable.Merge writes to a host path under the local root.
	local := repository.NewLocal(filesystem.New(t.TempDir()), "")
	in := New(local, nil, nil, nil)

	a := artifact.New("g", "lib", "jar", "", "1.0").WithFile(writeHostFile(t, srcDir, "lib-1.0.jar", "payload"))
	idx := &fakeMergeable{meta: metadata.New("g", "lib", "", "index.yaml", metadata.ReleaseOrSnapshot)}

	req := Request{Artifacts: []artifact.Artifact{a}, Metadata: []Item{{Mergeable: idx}}}
	result, err := in.Install(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, result.Exceptions)
	require.NotEmpty(t, result.Artifacts[0].File())

	destRel := local.ArtifactPath(a, true)
	exists, err := filesystem.Exists(context.Background(), local.FS, destRel)
	require.NoError(t, err)
	require.True(t, exists, "expected the artifact to be copied into the local repository")
	require.True(t, idx.mergeOK, "expected the mergeable metadata to self-install via Merge")

	tracked, err := local.Find(destRel, nil)
	require.NoError(t, err)
	require.True(t, tracked, "expected the installed artifact to be registered with an empty origin")
}

func TestInstallSkipsRecopyWhenContentUnchanged(t *testing.T) {
	srcDir := t.TempDir()
	// An OS-backed local repository is used here (rather than memfs) because
	// the unchanged-content check compares real modification times, and
	// mtime preservation on copy is only meaningful against a real disk.
	local := repository.NewLocal(filesystem.New(t.TempDir()), "")
	in := New(local, nil, nil, nil)

	a := artifact.New("g", "lib", "jar", "", "1.0").WithFile(writeHostFile(t, srcDir, "lib-1.0.jar", "payload"))
	req := Request{Artifacts: []artifact.Artifact{a}}

	_, err := in.Install(context.Background(), req)
	require.NoError(t, err)
	destRel := local.ArtifactPath(a, true)
	before, err := local.FS.Stat(destRel)
	require.NoError(t, err)

	_, err = in.Install(context.Background(), req)
	require.NoError(t, err)
	after, err := local.FS.Stat(destRel)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime(), "expected a same-content jar not to be recopied")
}

type fakeGenerator struct {
	prepared, finished []metadata.Mergeable
}

func (g *fakeGenerator) Prepare(context.Context, []artifact.Artifact) ([]metadata.Mergeable, error) {
	return g.prepared, nil
}
func (g *fakeGenerator) Finish(context.Context, []artifact.Artifact) ([]metadata.Mergeable, error) {
	return g.finished, nil
}

func TestInstallRunsGeneratorsAroundArtifacts(t *testing.T) {
	srcDir := t.TempDir()
	local := repository.NewLocal(filesystem.New(t.TempDir()), "")

	finishIdx := &fakeMergeable{meta: metadata.New("g", "lib", "", "index.yaml", metadata.ReleaseOrSnapshot)}
	gen := &fakeGenerator{finished: []metadata.Mergeable{finishIdx}}
	in := New(local, nil, []MetadataGenerator{gen}, nil)

	a := artifact.New("g", "lib", "jar", "", "1.0").WithFile(writeHostFile(t, srcDir, "lib-1.0.jar", "payload"))
	req := Request{Artifacts: []artifact.Artifact{a}}

	_, err := in.Install(context.Background(), req)
	require.NoError(t, err)
	require.True(t, finishIdx.mergeOK, "expected the finish-pass generated metadata to be installed")
}
