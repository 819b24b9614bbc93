// Package collector implements the Dependency Collector (§4.1): building
// the raw transitive dependency graph with selection, management,
// traversal, relocation handling, cycle detection and a cross-request
// interning pool.
package collector

import (
	"context"
	"sort"
	"strings"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/descriptor"
	"github.com/rancher/repo-resolver/pkg/events"
	"github.com/rancher/repo-resolver/pkg/graph"
	"github.com/rancher/repo-resolver/pkg/pool"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
	"github.com/rancher/repo-resolver/pkg/session"
)

const maxExceptions = 100

// Selector decides whether a dependency should be collected at all (§4.1
// process step 1: "the current selector rejects the dependency").
type Selector interface {
	Select(ctx *Context, dep artifact.Dependency) bool
	DeriveChild(ctx *Context) Selector
}

// Manager applies dependency management — version/scope/exclusion
// overrides — to a dependency before it is collected (§4.1 process step
// 2).
type Manager interface {
	ManageDependency(ctx *Context, dep artifact.Dependency) artifact.Dependency
	DeriveChild(ctx *Context) Manager
}

// Traverser decides whether to recurse into a dependency's own
// dependencies (§4.1 process step 4.f).
type Traverser interface {
	Traverse(ctx *Context, dep artifact.Dependency) bool
	DeriveChild(ctx *Context) Traverser
}

// VersionRangeResolver resolves the set of versions satisfying a
// dependency's version constraint, ordered as candidates should be tried
// (§4.1 process step 3, step 4).
type VersionRangeResolver interface {
	ResolveVersionRange(ctx context.Context, req artifact.VersionRangeRequest, repositories []string) (artifact.VersionRangeResult, error)
}

// Context is the shared DependencyCollectionContext threaded through
// process() and used to derive child selector/manager/traverser instances
// (§4.1 process step 4.f).
type Context struct {
	Artifact            artifact.Artifact
	ManagedDependencies []artifact.Dependency
	Depth               int
}

// Request is a CollectRequest (§4.1): either a root dependency or a root
// artifact with explicit dependencies.
type Request struct {
	RootDependency         *artifact.Dependency
	RootArtifact           *artifact.Artifact
	ExplicitDependencies   []artifact.Dependency
	Repositories           []string
	RequestContext         string
	ManagedDependencies    []artifact.Dependency
	Trace                  *events.RequestTrace
	IgnoreDescriptorRepos  bool
}

// Result is a CollectResult (§4.1): the root edge, any detected cycles, and
// accumulated exceptions (capped at maxExceptions, §4.1 "Error policy").
type Result struct {
	Root       *graph.Edge
	Cycles     []graph.Cycle
	Exceptions []error
}

func (r *Result) addException(err error) {
	if err == nil || len(r.Exceptions) >= maxExceptions {
		return
	}
	r.Exceptions = append(r.Exceptions, err)
}

// Collector builds the transitive dependency graph for a CollectRequest.
type Collector struct {
	DescriptorReader Reader
	VersionRanges    VersionRangeResolver
	Pool             *pool.DataPool
	Catapult         *events.Catapult
}

// Reader is the subset of descriptor.Reader the collector depends on,
// named locally so callers can pass descriptor.Reader directly.
type Reader = descriptor.Reader

// New returns a Collector with the given collaborators. pool may be nil
// (a fresh DataPool is created), catapult may be nil (events are dropped).
func New(reader Reader, versionRanges VersionRangeResolver, dataPool *pool.DataPool, catapult *events.Catapult) *Collector {
	if dataPool == nil {
		dataPool = pool.NewDataPool()
	}
	if catapult == nil {
		catapult = events.NewCatapult()
	}
	return &Collector{DescriptorReader: reader, VersionRanges: versionRanges, Pool: dataPool, Catapult: catapult}
}

// stackEntry is one frame of the explicit edge stack used for cycle
// ancestor search (§9 "Cyclic references": "not parent pointers").
type stackEntry struct {
	node *graph.Node
	dep  artifact.Dependency
}

// collection carries the per-call mutable state of one Collect invocation.
type collection struct {
	sess      *session.Session
	result    *Result
	stack     []stackEntry
	selector  Selector
	manager   Manager
	traverser Traverser
}

// Collect runs the full algorithm of §4.1 and returns the (possibly
// partial) graph plus a DependencyCollectionError if any exceptions were
// recorded.
func (c *Collector) Collect(ctx context.Context, req Request, selector Selector, manager Manager, traverser Traverser) (*Result, error) {
	sess, err := session.FromContext(ctx)
	if err != nil {
		sess = session.New()
	}

	result := &Result{}
	col := &collection{sess: sess, result: result, selector: selector, manager: manager, traverser: traverser}

	rootArtifact, rootDeps, managedDeps, repos, err := c.resolveRoot(ctx, req, result)
	if err != nil {
		result.addException(err)
	}

	rootNode := graph.NewNode(rootArtifact, repos)
	rootEdge := graph.NewEdge(rootNode, artifact.NewDependency(rootArtifact, ""))
	result.Root = rootEdge

	col.stack = append(col.stack, stackEntry{node: rootNode, dep: rootEdge.Dependency})
	if traverser == nil || traverser.Traverse(&Context{Artifact: rootArtifact}, rootEdge.Dependency) {
		col.process(ctx, c, rootDeps, repos, req.RequestContext, managedDeps, rootNode, 0)
	}

	if len(result.Exceptions) > 0 {
		return result, &resolveerr.DependencyCollectionError{Causes: result.Exceptions}
	}
	return result, nil
}

// resolveRoot implements §4.1 steps 1–4: read (or synthesize) the root
// descriptor and merge its repositories/dependencies/management into the
// request.
func (c *Collector) resolveRoot(ctx context.Context, req Request, result *Result) (artifact.Artifact, []artifact.Dependency, []artifact.Dependency, []string, error) {
	var rootArtifact artifact.Artifact
	explicitDeps := req.ExplicitDependencies

	switch {
	case req.RootDependency != nil:
		rootArtifact = req.RootDependency.Artifact
		if rootArtifact.Version() != "" && isRange(rootArtifact.Version()) {
			resolved, err := c.resolveHighest(ctx, rootArtifact, req.Repositories)
			if err != nil {
				return rootArtifact, nil, nil, req.Repositories, err
			}
			rootArtifact = rootArtifact.WithVersion(resolved)
		}
	case req.RootArtifact != nil:
		rootArtifact = *req.RootArtifact
	}

	var desc descriptor.Result
	var err error
	if rootArtifact.IsUnhosted() {
		desc = descriptor.Empty(rootArtifact)
	} else if c.DescriptorReader != nil {
		desc, err = c.readDescriptor(ctx, rootArtifact, req.Repositories, req.RequestContext, req.Trace)
	}
	if err != nil {
		return rootArtifact, explicitDeps, req.ManagedDependencies, req.Repositories, err
	}

	repos := req.Repositories
	if !req.IgnoreDescriptorRepos {
		repos = dedupeByID(append(append([]string(nil), req.Repositories...), desc.Repositories...))
	}

	deps := desc.Dependencies
	if len(explicitDeps) > 0 {
		deps = explicitDeps
	}
	managed := mergeManaged(req.ManagedDependencies, desc.ManagedDependencies)

	return rootArtifact, deps, managed, repos, nil
}

func mergeManaged(dominant, recessive []artifact.Dependency) []artifact.Dependency {
	seen := map[string]struct{}{}
	out := make([]artifact.Dependency, 0, len(dominant)+len(recessive))
	for _, d := range dominant {
		seen[d.ManagementKey()] = struct{}{}
		out = append(out, d)
	}
	for _, d := range recessive {
		if _, ok := seen[d.ManagementKey()]; ok {
			continue
		}
		seen[d.ManagementKey()] = struct{}{}
		out = append(out, d)
	}
	return out
}

func dedupeByID(repos []string) []string {
	seen := map[string]struct{}{}
	out := repos[:0:0]
	for _, r := range repos {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// repositoryDigest renders a stable cache-key suffix for a repository set,
// per pkg/artifact.VersionRangeRequest.Key's contract that callers append
// the repository digest themselves.
func repositoryDigest(repositories []string) string {
	sorted := append([]string(nil), repositories...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func isRange(version string) bool {
	return len(version) > 0 && (version[0] == '[' || version[0] == '(')
}

func (c *Collector) resolveHighest(ctx context.Context, a artifact.Artifact, repositories []string) (string, error) {
	req := artifact.VersionRangeRequest{GroupID: a.GroupID, ArtifactID: a.ArtifactID, Extension: a.Extension, Classifier: a.Classifier, Range: a.Version()}
	result, err := c.VersionRanges.ResolveVersionRange(ctx, req, repositories)
	if err != nil {
		return "", &resolveerr.VersionRangeResolutionError{Coordinate: a.String(), Range: req.Range, Cause: err}
	}
	highest, ok := result.Highest()
	if !ok {
		return "", &resolveerr.VersionRangeResolutionError{Coordinate: a.String(), Range: req.Range}
	}
	return highest, nil
}

func (c *Collector) readDescriptor(ctx context.Context, a artifact.Artifact, repositories []string, requestContext string, trace *events.RequestTrace) (descriptor.Result, error) {
	req := descriptor.Request{Artifact: a, Repositories: repositories, RequestContext: requestContext, Trace: trace}
	key := req.Key()

	if cached, cachedErr, ok := c.Pool.CachedDescriptor(key); ok {
		if cachedErr != nil {
			return descriptor.Result{}, resolveerr.ErrBadDescriptor
		}
		return cached, nil
	}

	result, err := c.DescriptorReader.ReadDescriptor(ctx, req)
	if err != nil {
		c.Pool.PoisonDescriptor(key, err)
		c.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactDescriptorMissing, Trace: trace, Coordinate: a.String(), Exceptions: []error{err}})
		return descriptor.Result{}, &resolveerr.ArtifactDescriptorError{Coordinate: a.String(), Cause: err}
	}
	c.Pool.StoreDescriptor(key, result)
	return result, nil
}

// process implements §4.1 "process(list)": iterate dependencies in order,
// applying selection, management, version resolution, descriptor reads,
// cycle detection, relocation, and recursion.
func (col *collection) process(ctx context.Context, c *Collector, deps []artifact.Dependency, repositories []string, requestContext string, managed []artifact.Dependency, parent *graph.Node, depth int) {
	cctx := &Context{ManagedDependencies: managed, Depth: depth}

	for _, dep := range deps {
		if col.selector != nil && !col.selector.Select(cctx, dep) {
			continue
		}
		col.processDependency(ctx, c, dep, false, nil, repositories, requestContext, managed, parent, depth, cctx)
	}
}

// processDependency implements process(list) steps 2–4 for a single
// dependency. skipManagement holds version management off for one
// iteration, per §4.1 step 2: "disabled on the iteration immediately
// following a relocation step in which groupId and artifactId did not
// change". When the descriptor reports a relocation, thisDependency is
// restarted against the relocated artifact (§4.1 step 4.d) rather than
// falling through to the pre-relocation descriptor's dependency list;
// priorRelocations carries the relocation chain accumulated across restarts
// so the eventually-attached edge records all of it, not just the last hop.
func (col *collection) processDependency(ctx context.Context, c *Collector, dep artifact.Dependency, skipManagement bool, priorRelocations []artifact.Artifact, repositories []string, requestContext string, managed []artifact.Dependency, parent *graph.Node, depth int, cctx *Context) {
	premanagedVersion := dep.Artifact.Version()
	premanagedScope := dep.Scope
	if col.manager != nil && !skipManagement {
		dep = col.manager.ManageDependency(cctx, dep)
	}

	versionReq := artifact.VersionRangeRequest{
		GroupID: dep.Artifact.GroupID, ArtifactID: dep.Artifact.ArtifactID,
		Extension: dep.Artifact.Extension, Classifier: dep.Artifact.Classifier,
		Range: dep.Artifact.Version(),
	}
	var candidates []string
	if c.VersionRanges != nil {
		cacheKey := versionReq.Key() + "|" + repositoryDigest(repositories)
		if cached, ok := c.Pool.VersionRanges.Get(cacheKey); ok {
			candidates = cached.Versions
		} else {
			result, err := c.VersionRanges.ResolveVersionRange(ctx, versionReq, repositories)
			if err != nil {
				col.result.addException(&resolveerr.VersionRangeResolutionError{Coordinate: dep.Artifact.String(), Range: versionReq.Range, Cause: err})
				return
			}
			c.Pool.VersionRanges.Put(cacheKey, result)
			candidates = result.Versions
		}
	} else {
		candidates = []string{dep.Artifact.Version()}
	}
	if len(candidates) == 0 {
		col.result.addException(&resolveerr.VersionRangeResolutionError{Coordinate: dep.Artifact.String(), Range: versionReq.Range})
		return
	}

	for _, candidateVersion := range candidates {
		candidate := dep.WithArtifact(dep.Artifact.WithVersion(candidateVersion))

		desc, err := c.readDescriptor(ctx, candidate.Artifact, repositories, requestContext, nil)
		if err != nil {
			if err == resolveerr.ErrBadDescriptor {
				continue
			}
			col.result.addException(err)
			continue
		}

		resolvedArtifact := desc.Artifact
		if resolvedArtifact.String() == "" {
			resolvedArtifact = candidate.Artifact
		}
		candidate = candidate.WithArtifact(resolvedArtifact)

		if ancestor := col.findAncestor(resolvedArtifact); ancestor != nil {
			edge := graph.NewEdge(ancestor, candidate)
			edge.MarkTerminal()
			edge.PremanagedScope, edge.PremanagedVersion = premanagedScope, premanagedVersion
			parent.Edges = append(parent.Edges, edge)
			col.result.Cycles = append(col.result.Cycles, col.buildCycle(candidate))
			return
		}

		if len(desc.Relocations) > 0 {
			relocated := desc.Relocations[len(desc.Relocations)-1]
			sameCoordinate := relocated.GroupID == candidate.Artifact.GroupID && relocated.ArtifactID == candidate.Artifact.ArtifactID
			restarted := candidate.WithArtifact(relocated)
			chain := append(append([]artifact.Artifact(nil), priorRelocations...), desc.Relocations...)
			col.processDependency(ctx, c, restarted, sameCoordinate, chain, repositories, requestContext, managed, parent, depth, cctx)
			return
		}

		candidate = candidate.WithArtifact(c.Pool.InternArtifact(candidate.Artifact))
		candidate = c.Pool.InternDependency(candidate)

		recurse := len(desc.Dependencies) > 0
		if col.traverser != nil {
			recurse = recurse && col.traverser.Traverse(cctx, candidate)
		}

		childNode := graph.NewNode(candidate.Artifact, repositories)
		if cached, ok := c.Pool.GraphNodes.Get(candidate.Artifact.String()); ok {
			if cachedNode, ok := cached.(*graph.Node); ok {
				if cachedNode.ReposSupersetOf(repositories) {
					cachedNode.ShrinkRepositories(repositories)
					recurse = false
				}
				childNode = cachedNode
			}
		} else {
			c.Pool.GraphNodes.Put(candidate.Artifact.String(), childNode)
		}

		edge := graph.NewEdge(childNode, candidate)
		edge.PremanagedScope, edge.PremanagedVersion = premanagedScope, premanagedVersion
		edge.Relocations = priorRelocations
		edge.VersionConstraint = versionReq.Range
		edge.SelectedVersion = candidateVersion
		edge.RequestContext = requestContext
		parent.Edges = append(parent.Edges, edge)

		if recurse {
			childCtx := &Context{Artifact: candidate.Artifact, ManagedDependencies: managed, Depth: depth + 1}
			childSelector, childManager, childTraverser := col.selector, col.manager, col.traverser
			if col.selector != nil {
				childSelector = col.selector.DeriveChild(childCtx)
			}
			if col.manager != nil {
				childManager = col.manager.DeriveChild(childCtx)
			}
			if col.traverser != nil {
				childTraverser = col.traverser.DeriveChild(childCtx)
			}

			col.stack = append(col.stack, stackEntry{node: childNode, dep: candidate})
			sub := &collection{sess: col.sess, result: col.result, stack: col.stack, selector: childSelector, manager: childManager, traverser: childTraverser}
			sub.process(ctx, c, desc.Dependencies, repositories, requestContext, managed, childNode, depth+1)
			col.stack = col.stack[:len(col.stack)-1]
		}

		return // only the first resolvable candidate is collected (§4.1 step 5)
	}
}

// findAncestor searches the explicit edge stack for a node matching a's
// (groupId, artifactId, baseVersion, extension, classifier) — §4.1 step
// 4.c, §9 "explicit edge stack maintained during traversal, not parent
// pointers".
func (col *collection) findAncestor(a artifact.Artifact) *graph.Node {
	for _, frame := range col.stack {
		p := frame.node.Primary()
		if p.GroupID == a.GroupID && p.ArtifactID == a.ArtifactID && p.BaseVersion() == a.BaseVersion() &&
			p.Extension == a.Extension && p.Classifier == a.Classifier {
			return frame.node
		}
	}
	return nil
}

func (col *collection) buildCycle(cyclic artifact.Dependency) graph.Cycle {
	prefix := make([]artifact.Dependency, len(col.stack))
	for i, f := range col.stack {
		prefix[i] = f.dep
	}
	return graph.Cycle{Prefix: prefix, Suffix: []artifact.Dependency{cyclic}}
}
