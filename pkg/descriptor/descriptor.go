// Package descriptor declares the out-of-scope "descriptor parsing of the
// component model" collaborator (§1 Out of scope): the core only specifies
// the interface it calls through, never the parsing itself.
package descriptor

import (
	"context"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/events"
)

// Request asks a Reader for the descriptor of one artifact identity
// (ArtifactDescriptorRequest, §3 "Interning pool").
type Request struct {
	Artifact     artifact.Artifact
	Repositories []string
	RequestContext string
	Trace        *events.RequestTrace
}

// Key returns the cache key a DataPool stores this request's result under —
// the artifact identity alone, per §3 ("the artifact identity").
func (r Request) Key() string {
	return r.Artifact.ManagementKey() + ":" + r.Artifact.Version()
}

// Result is what a Reader returns for a Request: the (possibly relocated)
// artifact, its dependency/management lists, the repositories it
// contributes, and any relocation chain that was followed.
type Result struct {
	Artifact             artifact.Artifact
	Dependencies         []artifact.Dependency
	ManagedDependencies  []artifact.Dependency
	Repositories         []string
	Relocations          []artifact.Artifact
}

// Empty returns a Result describing an artifact with LOCAL_PATH set, which
// synthesizes an empty descriptor instead of reading one (§4.1 step 3:
// "isLackingDescriptor").
func Empty(a artifact.Artifact) Result {
	return Result{Artifact: a}
}

// Reader reads the descriptor of an artifact. The concrete implementation —
// parsing whatever document format a given ecosystem uses — lives entirely
// outside this module; the core depends only on this interface.
type Reader interface {
	ReadDescriptor(ctx context.Context, req Request) (Result, error)
}
