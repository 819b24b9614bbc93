package installer

import (
	"context"
	"errors"
	"path"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/events"
	"github.com/rancher/repo-resolver/pkg/filesystem"
	"github.com/rancher/repo-resolver/pkg/repository"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
	"github.com/rancher/repo-resolver/pkg/session"
	"github.com/rancher/repo-resolver/pkg/synccontext"
	"github.com/rancher/repo-resolver/pkg/transport"
)

// DeployRequest describes one deployment: the artifacts and metadata to
// upload to a single remote repository.
type DeployRequest struct {
	Artifacts      []artifact.Artifact
	Metadata       []Item
	Repository     repository.Remote
	RequestContext string
	Trace          *events.RequestTrace
}

// Deployer uploads resolved artifacts and metadata to a remote repository
// (§4.6 "Deployer").
type Deployer struct {
	Local      *repository.Local
	Locker     *synccontext.Locker
	Generators []MetadataGenerator
	Factories  []transport.ConnectorFactory
	Offline    OfflineController
	Catapult   *events.Catapult
}

// NewDeployer returns a Deployer with the given collaborators. locker may
// be nil (a fresh one is created); catapult nil drops events.
func NewDeployer(local *repository.Local, locker *synccontext.Locker, generators []MetadataGenerator, factories []transport.ConnectorFactory, catapult *events.Catapult) *Deployer {
	if locker == nil {
		locker = synccontext.New()
	}
	if catapult == nil {
		catapult = events.NewCatapult()
	}
	return &Deployer{Local: local, Locker: locker, Generators: generators, Factories: factories, Catapult: catapult}
}

// metadataSource is a metadata document with the local path its upload
// should read from, prepared in Deploy step 3.
type metadataSource struct {
	coordinate string
	localAbs   string
}

// Deploy runs the six-step algorithm of §4.6: an offline check, metadata
// preparation (download-merge for mergeable documents, plain copy for the
// rest), a fail-fast artifact upload, then a final metadata upload covering
// both the prepared documents and whatever the generators' finish pass
// adds.
func (d *Deployer) Deploy(ctx context.Context, req DeployRequest) (*Result, error) {
	sess, err := session.FromContext(ctx)
	if err != nil {
		sess = session.New()
	}
	if err := d.Offline.Check(sess, req.Repository); err != nil {
		return nil, err
	}

	prepared, err := d.runGenerators(ctx, req.Artifacts, true)
	if err != nil {
		return nil, &resolveerr.DeploymentError{Cause: err}
	}
	items := append(append([]Item{}, req.Metadata...), prepared...)

	syncCtx, err := d.Locker.Acquire(ctx, req.Artifacts, metadatasOf(items))
	if err != nil {
		return nil, err
	}
	defer syncCtx.Close()

	connector, err := d.connectorFor(req.Repository)
	if err != nil {
		return nil, err
	}
	defer connector.Close()

	result := &Result{}

	var sources []metadataSource
	for _, item := range items {
		src, err := d.prepareMetadataSource(ctx, req, connector, item)
		if err != nil {
			result.Exceptions = append(result.Exceptions, err)
			continue
		}
		if src != nil {
			sources = append(sources, *src)
		}
	}

	uploads := make([]*transport.ArtifactUpload, len(req.Artifacts))
	for i, a := range req.Artifacts {
		uploads[i] = &transport.ArtifactUpload{Coordinate: a.String(), SourcePath: a.File(), RepositoryID: req.Repository.ID}
		d.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactDeploying, Trace: req.Trace, Coordinate: a.String(), RepositoryID: req.Repository.ID})
	}
	if err := connector.Put(ctx, uploads, nil); err != nil {
		return nil, &resolveerr.DeploymentError{Cause: err}
	}
	for i, u := range uploads {
		a := req.Artifacts[i]
		if u.Error != nil {
			result.Exceptions = append(result.Exceptions, &resolveerr.ArtifactTransferError{Coordinate: a.String(), RepositoryID: req.Repository.ID, Cause: u.Error})
			continue
		}
		d.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactDeployed, Trace: req.Trace, Coordinate: a.String(), RepositoryID: req.Repository.ID})
		result.Artifacts = append(result.Artifacts, a)
	}

	finished, err := d.runGenerators(ctx, result.Artifacts, false)
	if err != nil {
		result.Exceptions = append(result.Exceptions, err)
	}
	for _, m := range finished {
		src, err := d.prepareMetadataSource(ctx, req, connector, Item{Mergeable: m})
		if err != nil {
			result.Exceptions = append(result.Exceptions, err)
			continue
		}
		if src != nil {
			sources = append(sources, *src)
		}
	}

	mUploads := make([]*transport.MetadataUpload, len(sources))
	for i, s := range sources {
		mUploads[i] = &transport.MetadataUpload{Coordinate: s.coordinate, SourcePath: s.localAbs, RepositoryID: req.Repository.ID}
		d.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataDeploying, Trace: req.Trace, Coordinate: s.coordinate, RepositoryID: req.Repository.ID})
	}
	if len(mUploads) > 0 {
		if err := connector.Put(ctx, nil, mUploads); err != nil {
			result.Exceptions = append(result.Exceptions, &resolveerr.DeploymentError{Cause: err})
		} else {
			for _, u := range mUploads {
				if u.Error != nil {
					result.Exceptions = append(result.Exceptions, &resolveerr.MetadataTransferError{Coordinate: u.Coordinate, RepositoryID: req.Repository.ID, Cause: u.Error})
					continue
				}
				d.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataDeployed, Trace: req.Trace, Coordinate: u.Coordinate, RepositoryID: req.Repository.ID})
			}
		}
	}

	if len(result.Exceptions) > 0 {
		return result, &resolveerr.DeploymentError{Cause: result.Exceptions[0]}
	}
	return result, nil
}

// prepareMetadataSource implements §4.6 Deployer step 3: a mergeable
// document downloads its existing remote copy (if any), merges itself into
// it, and is uploaded from that merged local file; anything else is just
// copied into the local cache as-is to have a source path to upload from.
func (d *Deployer) prepareMetadataSource(ctx context.Context, req DeployRequest, connector transport.Connector, item Item) (*metadataSource, error) {
	if item.Mergeable != nil {
		m := item.Mergeable.Metadata()
		repoKey := repository.RepositoryKey(req.Repository, req.RequestContext)
		localRel := d.Local.MetadataPath(m, repoKey)
		localAbs := filesystem.AbsPath(d.Local.FS, localRel)

		d.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataResolving, Trace: req.Trace, Coordinate: m.String(), RepositoryID: req.Repository.ID})
		dl := &transport.MetadataDownload{Coordinate: m.String(), RepositoryIDs: []string{req.Repository.ID}, DestinationPath: localAbs}
		transferErr := connector.Get(ctx, nil, []*transport.MetadataDownload{dl})
		if transferErr == nil {
			transferErr = dl.Error
		}
		if transferErr != nil {
			var notFound *resolveerr.MetadataNotFoundError
			if errors.As(transferErr, &notFound) {
				_ = filesystem.RemoveAll(d.Local.FS, localRel)
			} else {
				return nil, &resolveerr.MetadataTransferError{Coordinate: m.String(), RepositoryID: req.Repository.ID, Cause: transferErr}
			}
		} else {
			d.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataResolved, Trace: req.Trace, Coordinate: m.String(), RepositoryID: req.Repository.ID, File: localAbs})
		}

		if err := d.Local.FS.MkdirAll(path.Dir(localRel), 0o755); err != nil {
			return nil, &resolveerr.MetadataTransferError{Coordinate: m.String(), RepositoryID: req.Repository.ID, Cause: err}
		}
		if err := item.Mergeable.Merge(localAbs, localAbs); err != nil {
			return nil, &resolveerr.MetadataTransferError{Coordinate: m.String(), RepositoryID: req.Repository.ID, Cause: err}
		}
		return &metadataSource{coordinate: m.String(), localAbs: localAbs}, nil
	}

	m := item.Plain
	if m.File() == "" {
		return nil, nil
	}
	repoKey := repository.RepositoryKey(req.Repository, req.RequestContext)
	localRel := d.Local.MetadataPath(m, repoKey)
	localAbs := filesystem.AbsPath(d.Local.FS, localRel)
	if err := copyFromHost(d.Local.FS, m.File(), localRel); err != nil {
		return nil, &resolveerr.MetadataTransferError{Coordinate: m.String(), RepositoryID: req.Repository.ID, Cause: err}
	}
	return &metadataSource{coordinate: m.String(), localAbs: localAbs}, nil
}

func (d *Deployer) connectorFor(repo repository.Remote) (transport.Connector, error) {
	for _, f := range d.Factories {
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
