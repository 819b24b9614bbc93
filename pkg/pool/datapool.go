package pool

import (
	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/descriptor"
)

// descriptorEntry holds either a successfully read descriptor or the error
// that made a prior read fail. Err == resolveerr.ErrBadDescriptor (or any
// non-nil error) is the "bad descriptor" cache sentinel of §3.
type descriptorEntry struct {
	Result descriptor.Result
	Err    error
}

// DataPool is the session-attached interning pool of §3 ("Interning
// pool"): deduplicated artifacts/dependencies, cached version-range
// results, cached (or poisoned) descriptor reads, and the graph-sharing
// node cache the collector consults before building a new GraphNode.
// GraphNode itself is declared in pkg/graph and stored here as `any` to
// avoid an import cycle between pool and graph.
type DataPool struct {
	Artifacts    *ObjectPool[artifact.Artifact]
	Dependencies *ObjectPool[artifact.Dependency]
	VersionRanges *ObjectPool[artifact.VersionRangeResult]
	descriptors  *ObjectPool[descriptorEntry]
	GraphNodes   *ObjectPool[any]

	cache RepositoryCache
}

// NewDataPool returns an empty DataPool with the package's default
// per-sub-pool capacity.
func NewDataPool() *DataPool {
	return &DataPool{
		Artifacts:     NewObjectPool[artifact.Artifact](0),
		Dependencies:  NewObjectPool[artifact.Dependency](0),
		VersionRanges: NewObjectPool[artifact.VersionRangeResult](0),
		descriptors:   NewObjectPool[descriptorEntry](0),
		GraphNodes:    NewObjectPool[any](0),
	}
}

// InternArtifact interns a by its String() coordinate (invariant 5:
// "intern(x) == x in value").
func (p *DataPool) InternArtifact(a artifact.Artifact) artifact.Artifact {
	return p.Artifacts.Intern(a.String(), a)
}

// InternDependency interns d by its underlying artifact's coordinate plus
// scope, so two equal dependencies collapse to one value.
func (p *DataPool) InternDependency(d artifact.Dependency) artifact.Dependency {
	return p.Dependencies.Intern(d.Artifact.String()+":"+d.Scope, d)
}

// CachedDescriptor returns a previously stored descriptor result for key,
// and whether one is present. A non-nil Err means the cached entry is a
// "bad descriptor" sentinel (§4.1 step 4.a).
func (p *DataPool) CachedDescriptor(key string) (descriptor.Result, error, bool) {
	entry, ok := p.descriptors.Get(key)
	if !ok {
		return descriptor.Result{}, nil, false
	}
	return entry.Result, entry.Err, true
}

// StoreDescriptor caches a successful descriptor read under key.
func (p *DataPool) StoreDescriptor(key string, result descriptor.Result) {
	p.descriptors.Put(key, descriptorEntry{Result: result})
}

// PoisonDescriptor stores the "bad descriptor" sentinel for key so a
// repeated lookup short-circuits to err without retrying the read.
func (p *DataPool) PoisonDescriptor(key string, err error) {
	p.descriptors.Put(key, descriptorEntry{Err: err})
}

// RepositoryCache returns the session-level attachment point this pool
// composes onto, installing an in-memory default on first use (§4.11;
// SPEC_FULL §3 "RepositoryCache").
func (p *DataPool) RepositoryCache() RepositoryCache {
	if p.cache == nil {
		p.cache = NewMemoryRepositoryCache()
	}
	return p.cache
}

// SetRepositoryCache installs an explicit RepositoryCache implementation,
// overriding the in-memory default.
func (p *DataPool) SetRepositoryCache(c RepositoryCache) {
	p.cache = c
}

// RepositoryCache is the session-level cache attachment point a DataPool
// composes onto (§4.11 "attached to the session"): a generic key/value
// store scoped to one repository id, reusable across multiple collect
// calls against the same session (§8 invariant 2).
type RepositoryCache interface {
	Get(repositoryID, key string) (any, bool)
	Put(repositoryID, key string, value any)
}

// MemoryRepositoryCache is the default in-memory RepositoryCache.
type MemoryRepositoryCache struct {
	data map[string]map[string]any
}

// NewMemoryRepositoryCache returns an empty MemoryRepositoryCache.
func NewMemoryRepositoryCache() *MemoryRepositoryCache {
	return &MemoryRepositoryCache{data: map[string]map[string]any{}}
}

func (c *MemoryRepositoryCache) Get(repositoryID, key string) (any, bool) {
	byKey, ok := c.data[repositoryID]
	if !ok {
		return nil, false
	}
	v, ok := byKey[key]
	return v, ok
}

func (c *MemoryRepositoryCache) Put(repositoryID, key string, value any) {
	byKey, ok := c.data[repositoryID]
	if !ok {
		byKey = map[string]any{}
		c.data[repositoryID] = byKey
	}
	byKey[key] = value
}
