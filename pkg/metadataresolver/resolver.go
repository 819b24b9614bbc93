// Package metadataresolver implements the Metadata Resolver (§4.3):
// resolving the authoritative repository set for each requested metadata
// document, consulting the update-check manager, and downloading stale
// copies through a bounded worker pool.
package metadataresolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rancher/repo-resolver/pkg/events"
	"github.com/rancher/repo-resolver/pkg/filesystem"
	"github.com/rancher/repo-resolver/pkg/metadata"
	"github.com/rancher/repo-resolver/pkg/repository"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
	"github.com/rancher/repo-resolver/pkg/session"
	"github.com/rancher/repo-resolver/pkg/synccontext"
	"github.com/rancher/repo-resolver/pkg/transport"
	"github.com/rancher/repo-resolver/pkg/updatecheck"
)

const defaultThreads = 4

// Request asks for one metadata document, naming the candidate
// repositories (which may include repository managers to be expanded) it
// may be authoritatively served from.
type Request struct {
	Metadata       metadata.Metadata
	Repositories   []repository.Remote
	RequestContext string
	Trace          *events.RequestTrace
}

// Result is the outcome of resolving one Request: the metadata with its
// local file attached (if any copy exists after resolution), whether a
// remote copy was freshly downloaded, and any per-repository-group
// failures encountered along the way.
type Result struct {
	Metadata   metadata.Metadata
	Updated    bool
	Exceptions []error
}

// Resolver is the Metadata Resolver component.
type Resolver struct {
	Local     *repository.Local
	Locker    *synccontext.Locker
	Updates   *updatecheck.Manager
	Factories []transport.ConnectorFactory
	Catapult  *events.Catapult
}

// New returns a Resolver with the given collaborators. locker/updates may
// be nil (fresh defaults are created); catapult nil drops events.
func New(local *repository.Local, locker *synccontext.Locker, updates *updatecheck.Manager, factories []transport.ConnectorFactory, catapult *events.Catapult) *Resolver {
	if locker == nil {
		locker = synccontext.New()
	}
	if updates == nil {
		updates = updatecheck.NewManager()
	}
	if catapult == nil {
		catapult = events.NewCatapult()
	}
	return &Resolver{Local: local, Locker: locker, Updates: updates, Factories: factories, Catapult: catapult}
}

// Resolve resolves every request, in a bounded worker pool sized
// min(len(requests), aether.metadataResolver.threads) (default 4), under a
// single sync-context acquisition spanning all requested metadata (§4.10).
func (r *Resolver) Resolve(ctx context.Context, requests []Request) ([]Result, error) {
	sess, err := session.FromContext(ctx)
	if err != nil {
		sess = session.New()
	}

	metadatas := make([]metadata.Metadata, len(requests))
	for i, req := range requests {
		metadatas[i] = req.Metadata
	}
	syncCtx, err := r.Locker.Acquire(ctx, nil, metadatas)
	if err != nil {
		return nil, err
	}
	defer syncCtx.Close()

	results := make([]Result, len(requests))

	threads := sess.MetadataResolverThreads
	if threads <= 0 {
		threads = defaultThreads
	}
	if threads > len(requests) {
		threads = len(requests)
	}

	if threads <= 1 {
		for i, req := range requests {
			results[i] = r.resolveOne(ctx, sess, req)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, threads)
	for i, req := range requests {
		i, req := i, req
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			results[i] = r.resolveOne(gctx, sess, req)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// resolveOne implements §4.3's per-request branching: offline/local-only
// short-circuit, authoritative-repository-set computation, and the
// per-group update-check/download sequence.
func (r *Resolver) resolveOne(ctx context.Context, sess *session.Session, req Request) Result {
	result := Result{Metadata: req.Metadata}
	localPath := r.Local.MetadataPath(req.Metadata, "local")
	localAbs := filesystem.AbsPath(r.Local.FS, localPath)

	wantRelease := req.Metadata.Nature != metadata.Snapshot
	wantSnapshot := req.Metadata.Nature != metadata.Release

	var authoritative []repository.Remote
	for _, repo := range req.Repositories {
		authoritative = append(authoritative, repo.AuthoritativeFor(wantRelease, wantSnapshot)...)
	}

	if sess.Offline || len(authoritative) == 0 {
		if ok, _ := filesystem.Exists(ctx, r.Local.FS, localPath); ok {
			result.Metadata = req.Metadata.WithFile(localAbs)
		} else {
			result.Exceptions = append(result.Exceptions, &resolveerr.MetadataNotFoundError{Coordinate: req.Metadata.String()})
		}
		return result
	}

	groups, order := groupByURL(authoritative)
	var foundPath string
	for _, url := range order {
		group := groups[url]
		relPath, updated, err := r.resolveGroup(ctx, req, group)
		if err != nil {
			result.Exceptions = append(result.Exceptions, err)
			continue
		}
		if updated {
			result.Updated = true
		}
		if foundPath == "" {
			if ok, _ := filesystem.Exists(ctx, r.Local.FS, relPath); ok {
				foundPath = filesystem.AbsPath(r.Local.FS, relPath)
			}
		}
	}

	if foundPath == "" {
		if ok, _ := filesystem.Exists(ctx, r.Local.FS, localPath); ok {
			foundPath = localAbs
		}
	}
	if foundPath != "" {
		result.Metadata = req.Metadata.WithFile(foundPath)
	} else if len(result.Exceptions) == 0 {
		result.Exceptions = append(result.Exceptions, &resolveerr.MetadataNotFoundError{Coordinate: req.Metadata.String()})
	}
	return result
}

// groupByURL partitions authoritative repositories sharing the same URL —
// repository-manager members that are really the same backing endpoint
// under different logical ids share one download (§4.3 "MetadataDownload
// ... carrying the union of authoritative-repository ids").
func groupByURL(repos []repository.Remote) (map[string][]repository.Remote, []string) {
	groups := map[string][]repository.Remote{}
	var order []string
	for _, repo := range repos {
		if _, ok := groups[repo.URL]; !ok {
			order = append(order, repo.URL)
		}
		groups[repo.URL] = append(groups[repo.URL], repo)
	}
	return groups, order
}

func (r *Resolver) resolveGroup(ctx context.Context, req Request, group []repository.Remote) (string, bool, error) {
	primary := group[0]
	repoKey := repository.RepositoryKey(primary, req.RequestContext)
	destRel := r.Local.MetadataPath(req.Metadata, repoKey)
	destAbs := filesystem.AbsPath(r.Local.FS, destRel)

	ids := make([]string, len(group))
	var policy updatecheck.Policy
	for i, repo := range group {
		ids[i] = repo.ID
		p := effectivePolicy(req.Metadata.Nature, repo)
		if i == 0 {
			policy = p
		} else {
			policy = updatecheck.Effective(policy, p)
		}
	}
	contextKey := req.Metadata.Key()

	check := &updatecheck.Check{ContextKey: contextKey, File: destAbs, RepositoryID: primary.ID, Policy: policy}
	if err := r.Updates.CheckMetadata(ctx, check); err != nil {
		return destRel, false, err
	}
	if !check.Required {
		if check.LastError != nil {
			return destRel, false, check.LastError
		}
		return destRel, false, nil
	}

	connector, err := r.connectorFor(primary)
	if err != nil {
		return destRel, false, err
	}
	defer connector.Close()

	dl := &transport.MetadataDownload{
		Coordinate:      req.Metadata.String(),
		RepositoryIDs:   ids,
		DestinationPath: destAbs,
	}
	r.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataDownloading, Trace: req.Trace, Coordinate: dl.Coordinate, RepositoryID: primary.ID})
	transferErr := connector.Get(ctx, nil, []*transport.MetadataDownload{dl})
	if transferErr == nil {
		transferErr = dl.Error
	}

	touch := &updatecheck.Check{ContextKey: contextKey, File: destAbs, RepositoryID: primary.ID, Policy: policy, LastError: transferErr}
	_ = r.Updates.TouchMetadata(ctx, touch)

	if transferErr != nil {
		return destRel, false, &resolveerr.MetadataTransferError{Coordinate: dl.Coordinate, RepositoryID: primary.ID, Cause: transferErr}
	}

	r.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataDownloaded, Trace: req.Trace, Coordinate: dl.Coordinate, RepositoryID: primary.ID, File: destAbs})
	return destRel, true, nil
}

func effectivePolicy(nature metadata.Nature, repo repository.Remote) updatecheck.Policy {
	switch nature {
	case metadata.Release:
		return repo.ReleasePolicy.UpdatePolicy
	case metadata.Snapshot:
		return repo.SnapshotPolicy.UpdatePolicy
	default:
		return updatecheck.Effective(repo.ReleasePolicy.UpdatePolicy, repo.SnapshotPolicy.UpdatePolicy)
	}
}

func (r *Resolver) connectorFor(repo repository.Remote) (transport.Connector, error) {
	for _, f := range r.Factories {
		conn, ok, err := f.NewConnector(repo.ID, repo.URL, repo.ContentType)
		if !ok {
			continue
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return nil, &resolveerr.NoRepositoryConnectorError{RepositoryID: repo.ID}
}
