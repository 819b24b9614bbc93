// Package resolver implements the Artifact Resolver (§4.2): turning
// ArtifactRequests into resolved local files, preferring an unhosted
// LOCAL_PATH, then a workspace reader, then the local cache, and only
// falling back to the network when offline permits it.
package resolver

import (
	"context"
	"os"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/events"
	"github.com/rancher/repo-resolver/pkg/filesystem"
	"github.com/rancher/repo-resolver/pkg/repository"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
	"github.com/rancher/repo-resolver/pkg/session"
	"github.com/rancher/repo-resolver/pkg/synccontext"
	"github.com/rancher/repo-resolver/pkg/transport"
	"github.com/rancher/repo-resolver/pkg/updatecheck"
)

// Source classifies where a VersionResolver found the artifact's resolved
// version, driving the repository-list restriction of Phase A step 3.
type Source int

const (
	SourceUnknown Source = iota
	SourceRemote
	SourceWorkspace
	SourceLocal
	SourceNone
)

// VersionResult is what a VersionResolver reports for one artifact: its
// resolved version (snapshot timestamp or literal) and which repository (if
// any) is authoritative for it.
type VersionResult struct {
	Version      string
	RepositoryID string
	Source       Source
}

// VersionResolver resolves a snapshot or meta-version ("LATEST", a
// timestamped snapshot) to its concrete version (§4.2 Phase A step 2).
type VersionResolver interface {
	ResolveVersion(ctx context.Context, a artifact.Artifact, repositories []repository.Remote) (VersionResult, error)
}

// WorkspaceReader is the out-of-scope "reactor"/workspace collaborator
// queried before the local cache (§4.2 Phase A step 4, §1 Non-goals).
type WorkspaceReader interface {
	FindArtifact(a artifact.Artifact) (file string, ok bool)
}

// Request is one ArtifactRequest.
type Request struct {
	Artifact       artifact.Artifact
	Repositories   []repository.Remote
	RequestContext string
	Trace          *events.RequestTrace
}

// Result is the per-request outcome: the (possibly file-attached) artifact,
// the repository id it was sourced from (if remote), and any exception.
type Result struct {
	Artifact     artifact.Artifact
	RepositoryID string
	Error        error

	resolved *bool
}

// Resolver is the Artifact Resolver component.
type Resolver struct {
	Local           *repository.Local
	Locker          *synccontext.Locker
	Updates         *updatecheck.Manager
	Factories       []transport.ConnectorFactory
	Catapult        *events.Catapult
	VersionResolver VersionResolver
	Workspace       WorkspaceReader
}

// New returns a Resolver with the given collaborators; locker/updates may
// be nil (fresh defaults are created), catapult nil drops events.
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

// groupKey identifies one ResolutionGroup (§4.2 Phase A step 7).
type groupKey struct {
	url, contentType string
	isManager        bool
}

type pendingItem struct {
	idx          int
	req          Request
	result       *Result
	existenceAbs string
}

type resolutionGroup struct {
	key   groupKey
	repos []repository.Remote
	items []*pendingItem
}

// Resolve runs the full two-phase algorithm of §4.2 over requests, holding
// a sync context over every requested artifact for its duration (§4.10).
func (r *Resolver) Resolve(ctx context.Context, requests []Request) ([]*Result, error) {
	sess, err := session.FromContext(ctx)
	if err != nil {
		sess = session.New()
	}

	artifacts := make([]artifact.Artifact, len(requests))
	for i, req := range requests {
		artifacts[i] = req.Artifact
	}
	syncCtx, err := r.Locker.Acquire(ctx, artifacts, nil)
	if err != nil {
		return nil, err
	}
	defer syncCtx.Close()

	results := make([]*Result, len(requests))
	groups := map[groupKey]*resolutionGroup{}
	var groupOrder []groupKey

	for i, req := range requests {
		r.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactResolving, Trace: req.Trace, Coordinate: req.Artifact.String()})

		result := &Result{Artifact: req.Artifact, resolved: new(bool)}
		results[i] = result

		if req.Artifact.IsUnhosted() {
			r.resolveUnhosted(result)
			continue
		}

		repos := req.Repositories
		if r.VersionResolver != nil {
			vr, err := r.VersionResolver.ResolveVersion(ctx, req.Artifact, repos)
			if err != nil {
				result.Error = &resolveerr.VersionResolutionError{Coordinate: req.Artifact.String(), Cause: err}
				continue
			}
			result.Artifact = result.Artifact.WithVersion(vr.Version)
			switch vr.Source {
			case SourceRemote:
				repos = filterByID(repos, vr.RepositoryID)
			case SourceWorkspace, SourceLocal:
				repos = nil
			}
		}

		if r.Workspace != nil {
			if file, ok := r.Workspace.FindArtifact(result.Artifact); ok {
				result.Artifact = result.Artifact.WithFile(file)
				*result.resolved = true
				continue
			}
		}

		localRel := r.Local.ArtifactPath(result.Artifact, true)
		localAbs := filesystem.AbsPath(r.Local.FS, localRel)
		localExists, _ := filesystem.Exists(ctx, r.Local.FS, localRel)

		var sourceIDs []string
		for _, repo := range repos {
			sourceIDs = append(sourceIDs, repo.ID)
		}
		trackedLocally, _ := r.Local.Find(localRel, sourceIDs)
		noRemoteSource := len(repos) == 0

		if localExists && (trackedLocally || noRemoteSource) {
			result.Artifact = result.Artifact.WithFile(localAbs)
			*result.resolved = true
			if !trackedLocally {
				_ = r.Local.AddOrigin(localRel, "")
			}
			continue
		}

		existenceAbs := ""
		if localExists {
			existenceAbs = localAbs
		}

		if sess.Offline {
			result.Error = &resolveerr.ArtifactNotFoundError{Coordinate: result.Artifact.String()}
			continue
		}

		if len(repos) == 0 {
			result.Error = &resolveerr.ArtifactNotFoundError{Coordinate: result.Artifact.String()}
			continue
		}

		primary := repos[0]
		key := groupKey{url: primary.URL, contentType: primary.ContentType, isManager: primary.IsManager}
		g, ok := groups[key]
		if !ok {
			g = &resolutionGroup{key: key, repos: repos}
			groups[key] = g
			groupOrder = append(groupOrder, key)
		}
		g.items = append(g.items, &pendingItem{idx: i, req: req, result: result, existenceAbs: existenceAbs})
	}

	var exceptions []error
	for _, key := range groupOrder {
		r.resolveGroup(ctx, groups[key], &exceptions)
	}

	for _, result := range results {
		if result.Error == nil && result.Artifact.File() == "" {
			result.Error = &resolveerr.ArtifactNotFoundError{Coordinate: result.Artifact.String()}
		}
		if result.Error != nil {
			exceptions = append(exceptions, result.Error)
		}
	}

	if len(exceptions) > 0 {
		return results, &resolveerr.ArtifactResolutionError{Causes: exceptions}
	}
	return results, nil
}

// resolveUnhosted validates a LOCAL_PATH artifact's file directly against
// the OS filesystem: the path is a caller-supplied absolute location
// outside the managed local repository, not a billy.Filesystem-relative
// one (§4.2 Phase A step 1).
func (r *Resolver) resolveUnhosted(result *Result) {
	path := result.Artifact.Property(artifact.LocalPathProperty)
	if _, err := os.Stat(path); err == nil {
		result.Artifact = result.Artifact.WithFile(path)
		*result.resolved = true
		return
	}
	result.Error = &resolveerr.ArtifactNotFoundError{Coordinate: result.Artifact.String()}
}

func filterByID(repos []repository.Remote, id string) []repository.Remote {
	for _, r := range repos {
		if r.ID == id {
			return []repository.Remote{r}
		}
	}
	return nil
}

// resolveGroup implements Phase B for one ResolutionGroup: build downloads,
// consult the update-check manager, invoke the connector, and process each
// outcome (§4.2 Phase B).
func (r *Resolver) resolveGroup(ctx context.Context, g *resolutionGroup, exceptions *[]error) {
	ids := make([]string, len(g.repos))
	for i, repo := range g.repos {
		ids[i] = repo.ID
	}

	type pendingDownload struct {
		item *pendingItem
		dl   *transport.ArtifactDownload
	}
	var toFetch []pendingDownload

	for _, item := range g.items {
		if *item.result.resolved {
			continue
		}
		a := item.result.Artifact
		destRel := r.Local.ArtifactPath(a, false)
		destAbs := filesystem.AbsPath(r.Local.FS, destRel)

		policy := g.repos[0].ReleasePolicy
		if a.IsSnapshot() {
			policy = g.repos[0].SnapshotPolicy
		}

		check := &updatecheck.Check{ContextKey: a.ManagementKey() + ":" + a.Version(), File: destAbs, RepositoryID: g.repos[0].ID, Policy: policy.UpdatePolicy}
		if err := r.Updates.CheckArtifact(ctx, check); err != nil {
			item.result.Error = err
			continue
		}
		if !check.Required {
			if check.LastError != nil {
				item.result.Error = check.LastError
				continue
			}
		}

		dl := &transport.ArtifactDownload{
			Coordinate:      a.String(),
			RepositoryIDs:   ids,
			DestinationPath: destAbs,
			ExistenceCheck:  item.existenceAbs,
		}
		toFetch = append(toFetch, pendingDownload{item: item, dl: dl})
	}

	if len(toFetch) == 0 {
		return
	}

	downloads := make([]*transport.ArtifactDownload, len(toFetch))
	for i, pd := range toFetch {
		downloads[i] = pd.dl
	}

	connector, err := r.connectorFor(g.repos[0])
	if err != nil {
		for _, pd := range toFetch {
			pd.dl.Error = &resolveerr.ArtifactTransferError{Coordinate: pd.dl.Coordinate, RepositoryID: g.repos[0].ID, Cause: err}
		}
	} else {
		defer connector.Close()
		if err := connector.Get(ctx, downloads, nil); err != nil {
			for _, d := range downloads {
				if d.Error == nil {
					d.Error = err
				}
			}
		}
	}

	for _, pd := range toFetch {
		a := pd.item.result.Artifact
		touch := &updatecheck.Check{
			ContextKey:   a.ManagementKey() + ":" + a.Version(),
			File:         pd.dl.DestinationPath,
			RepositoryID: g.repos[0].ID,
			LastError:    pd.dl.Error,
		}
		_ = r.Updates.TouchArtifact(ctx, touch)

		if pd.dl.Error != nil {
			pd.item.result.Error = &resolveerr.ArtifactTransferError{Coordinate: pd.dl.Coordinate, RepositoryID: g.repos[0].ID, Cause: pd.dl.Error}
			r.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactDownloading, Trace: pd.item.req.Trace, Coordinate: pd.dl.Coordinate, Exceptions: []error{pd.dl.Error}})
			continue
		}

		*pd.item.result.resolved = true
		pd.item.result.RepositoryID = g.repos[0].ID
		pd.item.result.Artifact = a.WithFile(pd.dl.DestinationPath)

		r.normalizeSnapshot(ctx, pd.item.result.Artifact)
		_ = r.Local.AddOrigin(r.Local.ArtifactPath(pd.item.result.Artifact, false), g.repos[0].ID)

		r.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactDownloaded, Trace: pd.item.req.Trace, Coordinate: pd.dl.Coordinate, RepositoryID: g.repos[0].ID, File: pd.dl.DestinationPath})
		r.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactResolved, Trace: pd.item.req.Trace, Coordinate: pd.dl.Coordinate, RepositoryID: g.repos[0].ID, File: pd.dl.DestinationPath})
	}
}

// normalizeSnapshot copies a freshly downloaded snapshot file to a sibling
// whose filename substitutes the baseVersion for the timestamped version,
// when the copy differs from an existing one by (length, mtime) (§4.2
// "Snapshot normalization").
func (r *Resolver) normalizeSnapshot(ctx context.Context, a artifact.Artifact) {
	sess, err := session.FromContext(ctx)
	if err != nil {
		sess = session.New()
	}
	if !sess.SnapshotNormalization || !a.IsSnapshot() || a.Version() == a.BaseVersion() {
		return
	}

	srcRel := r.Local.ArtifactPath(a, false)
	dstRel := r.Local.ArtifactPath(a.WithVersion(a.BaseVersion()), false)
	if srcRel == dstRel {
		return
	}
	same, err := filesystem.SameContent(r.Local.FS, srcRel, dstRel)
	if err == nil && same {
		return
	}
	_ = filesystem.CopyFile(r.Local.FS, srcRel, dstRel)
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
