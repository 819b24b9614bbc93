package graph

import (
	"testing"

	"github.com/rancher/repo-resolver/pkg/artifact"
)

func TestNodeReposSupersetOf(t *testing.T) {
	n := NewNode(artifact.New("g", "a", "jar", "", "1.0"), []string{"central", "internal"})
	if !n.ReposSupersetOf([]string{"central"}) {
		t.Fatal("expected superset check to pass for a subset")
	}
	if n.ReposSupersetOf([]string{"other"}) {
		t.Fatal("expected superset check to fail for a disjoint set")
	}
}

func TestShrinkRepositories(t *testing.T) {
	n := NewNode(artifact.New("g", "a", "jar", "", "1.0"), []string{"central", "internal"})
	n.ShrinkRepositories([]string{"central"})
	if len(n.Repositories) != 1 || n.Repositories[0] != "central" {
		t.Fatalf("unexpected repositories after shrink: %v", n.Repositories)
	}
}

func TestEdgeTerminalMarking(t *testing.T) {
	target := NewNode(artifact.New("g", "a", "jar", "", "1.0"), nil)
	dep := artifact.NewDependency(artifact.New("g", "b", "jar", "", "1.0"), "compile")
	e := NewEdge(target, dep)
	if e.IsTerminal() {
		t.Fatal("new edge should not start terminal")
	}
	e.MarkTerminal()
	if !e.IsTerminal() {
		t.Fatal("expected edge to be marked terminal")
	}
}
