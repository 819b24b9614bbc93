// Package graph models the transitive dependency graph produced by the
// Dependency Collector (§3 DATA MODEL "Graph entities", §9 "Cyclic
// references"). Nodes are arena-held values; edges reference their target
// node by a non-owning *Node handle rather than forming ownership cycles —
// ancestor search during collection walks an explicit edge stack, never
// parent pointers.
package graph

import "github.com/rancher/repo-resolver/pkg/artifact"

// Node is the shared target of one artifact coordinate. Multiple edges may
// point at the same Node to represent conflict-before-resolution state
// (fan-in); a Node must outlive every edge referencing it, which in this
// arena-style model simply means callers keep it reachable from the root
// edge or the collector's GraphNode pool.
type Node struct {
	// Aliases lists the coordinate forms this node has been reached under
	// (relocation can add more than one).
	Aliases []artifact.Artifact
	// Repositories is the repository set this node was collected against.
	Repositories []string
	// Edges are this node's outgoing dependency edges.
	Edges []*Edge
}

// NewNode returns a Node aliased to a, with no outgoing edges yet.
func NewNode(a artifact.Artifact, repositories []string) *Node {
	return &Node{Aliases: []artifact.Artifact{a}, Repositories: append([]string(nil), repositories...)}
}

// Primary returns the node's first (canonical) alias.
func (n *Node) Primary() artifact.Artifact {
	if len(n.Aliases) == 0 {
		return artifact.Artifact{}
	}
	return n.Aliases[0]
}

// ReposSupersetOf reports whether n's repository set is a superset of other
// — used by the collector's graph-sharing reuse check (§4.1 step 4.g).
func (n *Node) ReposSupersetOf(other []string) bool {
	set := make(map[string]struct{}, len(n.Repositories))
	for _, r := range n.Repositories {
		set[r] = struct{}{}
	}
	for _, r := range other {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// ShrinkRepositories narrows n's recorded repository set to narrower. It
// only replaces the slice; stopping recursion through a narrowed node is
// done by the collector (§4.1 step 4.g).
func (n *Node) ShrinkRepositories(narrower []string) {
	n.Repositories = append([]string(nil), narrower...)
}

// Edge is one incidence of a dependency on a target Node.
type Edge struct {
	Target *Node
	Dependency artifact.Dependency

	RequestContext string

	PremanagedScope   string
	PremanagedVersion string

	Relocations []artifact.Artifact

	VersionConstraint string
	SelectedVersion   string

	// Data carries transformer- or collector-private annotations without
	// widening the struct's exported surface. Cycle-terminal edges are
	// marked by the terminal field below, not here.
	Data map[string]any

	// terminal marks an edge created by the cycle check (§4.1 step 4.c):
	// it points at an ancestor node and must never be recursed through.
	terminal bool
}

// NewEdge constructs an edge to target carrying dep.
func NewEdge(target *Node, dep artifact.Dependency) *Edge {
	return &Edge{Target: target, Dependency: dep, Data: map[string]any{}}
}

// MarkTerminal flags e as a cycle back-edge: traversal must stop here.
func (e *Edge) MarkTerminal() { e.terminal = true }

// IsTerminal reports whether e is a cycle back-edge.
func (e *Edge) IsTerminal() bool { return e.terminal }

// Cycle is the preceding-prefix plus cyclic-suffix dependency list recorded
// when the collector's ancestor search finds a repeat coordinate (§3, §4.1
// step 4.c, invariant 4).
type Cycle struct {
	Prefix []artifact.Dependency
	Suffix []artifact.Dependency
}
