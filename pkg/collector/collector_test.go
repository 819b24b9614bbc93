package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/descriptor"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
)

// fakeReader answers ReadDescriptor from a fixed map keyed by
// descriptor.Request.Key(), for deterministic test fixtures.
type fakeReader struct {
	results map[string]descriptor.Result
	errs    map[string]error
}

func (r *fakeReader) ReadDescriptor(_ context.Context, req descriptor.Request) (descriptor.Result, error) {
	if err, ok := r.errs[req.Key()]; ok {
		return descriptor.Result{}, err
	}
	if res, ok := r.results[req.Key()]; ok {
		return res, nil
	}
	return descriptor.Result{Artifact: req.Artifact}, nil
}

// fakeVersionRanges resolves every request to its exact version — none of
// the fixtures below exercise real bracketed ranges.
type fakeVersionRanges struct{}

func (fakeVersionRanges) ResolveVersionRange(_ context.Context, req artifact.VersionRangeRequest, _ []string) (artifact.VersionRangeResult, error) {
	return artifact.VersionRangeResult{Versions: []string{req.Range}}, nil
}

func key(a artifact.Artifact) string {
	return descriptor.Request{Artifact: a}.Key()
}

func TestCollectSimpleChain(t *testing.T) {
	root := artifact.New("g", "root", "jar", "", "1.0")
	child := artifact.New("g", "child", "jar", "", "2.0")

	reader := &fakeReader{results: map[string]descriptor.Result{
		key(root): {
			Artifact:     root,
			Dependencies: []artifact.Dependency{artifact.NewDependency(child, "compile")},
		},
		key(child): {Artifact: child},
	}}

	c := New(reader, fakeVersionRanges{}, nil, nil)
	req := Request{RootArtifact: &root, Repositories: []string{"central"}}

	result, err := c.Collect(context.Background(), req, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Root == nil {
		t.Fatal("expected a root edge")
	}
	if len(result.Root.Target.Edges) != 1 {
		t.Fatalf("expected 1 child edge, got %d", len(result.Root.Target.Edges))
	}
	got := result.Root.Target.Edges[0].Target.Primary()
	if !got.Equal(child) {
		t.Fatalf("expected child %s, got %s", child, got)
	}
	if len(result.Cycles) != 0 {
		t.Fatalf("expected no cycles, got %v", result.Cycles)
	}
}

func TestCollectDetectsCycle(t *testing.T) {
	root := artifact.New("g", "root", "jar", "", "1.0")
	child := artifact.New("g", "child", "jar", "", "1.0")

	reader := &fakeReader{results: map[string]descriptor.Result{
		key(root):  {Artifact: root, Dependencies: []artifact.Dependency{artifact.NewDependency(child, "compile")}},
		key(child): {Artifact: child, Dependencies: []artifact.Dependency{artifact.NewDependency(root, "compile")}},
	}}

	c := New(reader, fakeVersionRanges{}, nil, nil)
	req := Request{RootArtifact: &root, Repositories: []string{"central"}}

	result, err := c.Collect(context.Background(), req, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Cycles) != 1 {
		t.Fatalf("expected exactly one detected cycle, got %d: %v", len(result.Cycles), result.Cycles)
	}

	childEdge := result.Root.Target.Edges[0]
	if len(childEdge.Target.Edges) != 1 || !childEdge.Target.Edges[0].IsTerminal() {
		t.Fatal("expected the back-edge to root to be marked terminal")
	}
}

func TestCollectAccumulatesDescriptorErrorsWithoutAbortingEarly(t *testing.T) {
	root := artifact.New("g", "root", "jar", "", "1.0")
	bad := artifact.New("g", "bad", "jar", "", "1.0")
	good := artifact.New("g", "good", "jar", "", "1.0")

	reader := &fakeReader{
		results: map[string]descriptor.Result{
			key(root): {Artifact: root, Dependencies: []artifact.Dependency{
				artifact.NewDependency(bad, "compile"),
				artifact.NewDependency(good, "compile"),
			}},
			key(good): {Artifact: good},
		},
		errs: map[string]error{
			key(bad): errors.New("descriptor unreadable"),
		},
	}

	c := New(reader, fakeVersionRanges{}, nil, nil)
	req := Request{RootArtifact: &root, Repositories: []string{"central"}}

	result, err := c.Collect(context.Background(), req, nil, nil, nil)
	if err == nil {
		t.Fatal("expected a DependencyCollectionError")
	}
	var collErr *resolveerr.DependencyCollectionError
	if !errors.As(err, &collErr) {
		t.Fatalf("expected DependencyCollectionError, got %T", err)
	}
	if len(result.Exceptions) != 1 {
		t.Fatalf("expected exactly 1 exception, got %d", len(result.Exceptions))
	}

	// The good sibling dependency must still have been collected despite the
	// bad one failing.
	found := false
	for _, e := range result.Root.Target.Edges {
		if e.Target.Primary().Equal(good) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the sibling dependency to still be collected")
	}
}

// recordingManager counts ManageDependency calls per artifact coordinate and
// otherwise leaves the dependency untouched, so relocation tests can assert
// how many times management actually ran for a given identity.
type recordingManager struct {
	calls map[string]int
}

func newRecordingManager() *recordingManager {
	return &recordingManager{calls: map[string]int{}}
}

func (m *recordingManager) ManageDependency(_ *Context, dep artifact.Dependency) artifact.Dependency {
	m.calls[dep.Artifact.String()]++
	return dep
}

func (m *recordingManager) DeriveChild(*Context) Manager { return m }

func TestCollectRelocationRestartsAgainstRelocatedDescriptor(t *testing.T) {
	root := artifact.New("g", "root", "jar", "", "1.0")
	old := artifact.New("g", "old-name", "jar", "", "1.0")
	relocated := artifact.New("g", "new-name", "jar", "", "1.0")
	grandchild := artifact.New("g", "grandchild", "jar", "", "1.0")

	reader := &fakeReader{results: map[string]descriptor.Result{
		key(root): {Artifact: root, Dependencies: []artifact.Dependency{artifact.NewDependency(old, "compile")}},
		key(old): {
			Artifact:     old,
			Relocations:  []artifact.Artifact{relocated},
			Dependencies: []artifact.Dependency{artifact.NewDependency(grandchild, "compile")},
		},
		key(relocated): {Artifact: relocated},
		key(grandchild): {Artifact: grandchild},
	}}

	c := New(reader, fakeVersionRanges{}, nil, nil)
	req := Request{RootArtifact: &root, Repositories: []string{"central"}}

	result, err := c.Collect(context.Background(), req, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Root.Target.Edges) != 1 {
		t.Fatalf("expected 1 child edge, got %d", len(result.Root.Target.Edges))
	}
	edge := result.Root.Target.Edges[0]
	if !edge.Target.Primary().Equal(relocated) {
		t.Fatalf("expected the relocated artifact %s, got %s", relocated, edge.Target.Primary())
	}
	if len(edge.Relocations) != 1 || !edge.Relocations[0].Equal(relocated) {
		t.Fatalf("expected the edge to record the relocation, got %v", edge.Relocations)
	}

	// The old coordinate's descriptor declared "grandchild" as a dependency,
	// but the relocated artifact's own (empty) descriptor must win: restart
	// re-reads the descriptor for the relocated coordinate rather than
	// reusing the pre-relocation one.
	if len(edge.Target.Edges) != 0 {
		t.Fatalf("expected no children from the stale pre-relocation descriptor, got %v", edge.Target.Edges)
	}
}

func TestCollectRelocationDisablesManagementWhenCoordinateUnchanged(t *testing.T) {
	root := artifact.New("g", "root", "jar", "", "1.0")
	oldVersion := artifact.New("g", "lib", "jar", "", "1.0")
	newVersion := artifact.New("g", "lib", "jar", "", "2.0")

	reader := &fakeReader{results: map[string]descriptor.Result{
		key(root):       {Artifact: root, Dependencies: []artifact.Dependency{artifact.NewDependency(oldVersion, "compile")}},
		key(oldVersion): {Artifact: oldVersion, Relocations: []artifact.Artifact{newVersion}},
		key(newVersion): {Artifact: newVersion},
	}}

	manager := newRecordingManager()
	c := New(reader, fakeVersionRanges{}, nil, nil)
	req := Request{RootArtifact: &root, Repositories: []string{"central"}}

	result, err := c.Collect(context.Background(), req, nil, manager, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manager.calls[oldVersion.String()] != 1 {
		t.Fatalf("expected management to run once for the pre-relocation coordinate, got %d", manager.calls[oldVersion.String()])
	}
	if got := manager.calls[newVersion.String()]; got != 0 {
		t.Fatalf("expected management to be skipped on the restart following a same-coordinate relocation, got %d calls", got)
	}
	if len(result.Root.Target.Edges) != 1 || !result.Root.Target.Edges[0].Target.Primary().Equal(newVersion) {
		t.Fatal("expected the relocated version to be collected")
	}
}

func TestCollectRootIsLocalPathSynthesizesEmptyDescriptor(t *testing.T) {
	root := artifact.New("g", "root", "jar", "", "1.0").WithProperty(artifact.LocalPathProperty, "/tmp/root.jar")
	dep := artifact.New("g", "explicit", "jar", "", "1.0")

	c := New(&fakeReader{}, fakeVersionRanges{}, nil, nil)
	req := Request{RootArtifact: &root, ExplicitDependencies: []artifact.Dependency{artifact.NewDependency(dep, "compile")}}

	result, err := c.Collect(context.Background(), req, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Root.Target.Edges) != 1 || !result.Root.Target.Edges[0].Target.Primary().Equal(dep) {
		t.Fatal("expected the explicit dependency list to be used for a LOCAL_PATH root")
	}
}
