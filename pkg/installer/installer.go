// Package installer implements the Installer and Deployer (§4.6): copying
// resolved artifacts and metadata into the local repository, and uploading
// them to a remote one, running any registered MetadataGenerators around
// both.
package installer

import (
	"context"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/events"
	"github.com/rancher/repo-resolver/pkg/filesystem"
	"github.com/rancher/repo-resolver/pkg/metadata"
	"github.com/rancher/repo-resolver/pkg/repository"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
	"github.com/rancher/repo-resolver/pkg/synccontext"
)

// MetadataGenerator derives additional metadata around an install/deploy of
// a fixed set of artifacts (§4.6 "Run enabled MetadataGenerators in two
// passes"). Prepare runs before artifacts are installed/uploaded, Finish
// runs after — the canonical example is a version-index generator that
// needs to see the final artifact set to produce its entries.
type MetadataGenerator interface {
	Prepare(ctx context.Context, artifacts []artifact.Artifact) ([]metadata.Mergeable, error)
	Finish(ctx context.Context, artifacts []artifact.Artifact) ([]metadata.Mergeable, error)
}

// Item pairs a metadata document with its attachment: either a Mergeable
// document produced by a generator or carried on the request, or a plain
// document with a file already attached (§3 "MergeableMetadata" vs.
// plain metadata).
type Item struct {
	Mergeable metadata.Mergeable
	Plain     metadata.Metadata
}

func (i Item) key() string {
	if i.Mergeable != nil {
		return i.Mergeable.Metadata().Key()
	}
	return i.Plain.Key()
}

// Request describes one install or deploy call: the artifacts to place and
// the metadata documents (incoming, ahead of whatever the generators add)
// to place alongside them.
type Request struct {
	Artifacts      []artifact.Artifact
	Metadata       []Item
	RequestContext string
	Trace          *events.RequestTrace
}

// Result carries the artifacts as finally installed/deployed (with their
// local/uploaded file attached) plus any non-fatal exceptions.
type Result struct {
	Artifacts  []artifact.Artifact
	Exceptions []error
}

// Installer copies resolved artifacts and metadata into the local
// repository (§4.6 "Installer").
type Installer struct {
	Local      *repository.Local
	Locker     *synccontext.Locker
	Generators []MetadataGenerator
	Catapult   *events.Catapult
}

// New returns an Installer with the given collaborators. locker may be nil
// (a fresh one is created); catapult nil drops events.
func New(local *repository.Local, locker *synccontext.Locker, generators []MetadataGenerator, catapult *events.Catapult) *Installer {
	if locker == nil {
		locker = synccontext.New()
	}
	if catapult == nil {
		catapult = events.NewCatapult()
	}
	return &Installer{Local: local, Locker: locker, Generators: generators, Catapult: catapult}
}

// Install runs the four-step algorithm of §4.6: acquire a sync context over
// the request plus whatever the generators prepare, copy each artifact into
// the local repository when its content actually changed, then install each
// metadata document (self-merging the mergeable ones, plain-copying the
// rest).
func (in *Installer) Install(ctx context.Context, req Request) (*Result, error) {
	prepared, err := in.runGenerators(ctx, req.Artifacts, true)
	if err != nil {
		return nil, err
	}
	items := append(append([]Item{}, req.Metadata...), prepared...)

	syncCtx, err := in.Locker.Acquire(ctx, req.Artifacts, metadatasOf(items))
	if err != nil {
		return nil, err
	}
	defer syncCtx.Close()

	result := &Result{Artifacts: make([]artifact.Artifact, len(req.Artifacts))}

	for i, a := range req.Artifacts {
		installed, err := in.installArtifact(ctx, req, a)
		if err != nil {
			result.Exceptions = append(result.Exceptions, err)
			installed = a
		}
		result.Artifacts[i] = installed
	}

	finished, err := in.runGenerators(ctx, result.Artifacts, false)
	if err != nil {
		result.Exceptions = append(result.Exceptions, err)
	}
	items = append(items, finished...)

	seen := map[string]bool{}
	for _, item := range items {
		if seen[item.key()] {
			continue
		}
		seen[item.key()] = true
		if err := in.installMetadata(ctx, req, item); err != nil {
			result.Exceptions = append(result.Exceptions, err)
		}
	}

	if len(result.Exceptions) > 0 {
		return result, &resolveerr.InstallationError{Cause: result.Exceptions[0]}
	}
	return result, nil
}

// installArtifact implements §4.6 step 3: the destination is always the
// local-artifact-path, but the file is only overwritten when its extension
// is "pom" (descriptors are cheap and must always reflect the latest
// install) or its size/mtime differ from what's already there.
func (in *Installer) installArtifact(ctx context.Context, req Request, a artifact.Artifact) (artifact.Artifact, error) {
	destRel := in.Local.ArtifactPath(a, true)
	destAbs := filesystem.AbsPath(in.Local.FS, destRel)

	in.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactInstalling, Trace: req.Trace, Coordinate: a.String()})

	srcAbs := a.File()
	if srcAbs != "" {
		same, _ := sameHostContent(srcAbs, in.Local.FS, destRel)
		if a.Extension == "pom" || !same {
			if err := copyFromHost(in.Local.FS, srcAbs, destRel); err != nil {
				return a, &resolveerr.ArtifactTransferError{Coordinate: a.String(), RepositoryID: "local", Cause: err}
			}
		}
	}

	if err := in.Local.AddOrigin(destRel, ""); err != nil {
		return a, err
	}

	installed := a.WithFile(destAbs)
	in.Catapult.Dispatch(ctx, events.Event{Type: events.ArtifactInstalled, Trace: req.Trace, Coordinate: a.String(), File: destAbs})
	return installed, nil
}

// installMetadata implements §4.6 step 4: mergeable metadata merges itself
// against its own prior local copy (self-installing), everything else is
// just copied into place.
func (in *Installer) installMetadata(ctx context.Context, req Request, item Item) error {
	if item.Mergeable != nil {
		m := item.Mergeable.Metadata()
		destRel := in.Local.MetadataPath(m, "local")
		destAbs := filesystem.AbsPath(in.Local.FS, destRel)

		in.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataInstalling, Trace: req.Trace, Coordinate: m.String()})
		if err := item.Mergeable.Merge(destAbs, destAbs); err != nil {
			return &resolveerr.MetadataTransferError{Coordinate: m.String(), RepositoryID: "local", Cause: err}
		}
		in.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataInstalled, Trace: req.Trace, Coordinate: m.String(), File: destAbs})
		return nil
	}

	m := item.Plain
	if m.File() == "" {
		return nil
	}
	destRel := in.Local.MetadataPath(m, "local")
	destAbs := filesystem.AbsPath(in.Local.FS, destRel)

	in.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataInstalling, Trace: req.Trace, Coordinate: m.String()})
	if err := copyFromHost(in.Local.FS, m.File(), destRel); err != nil {
		return &resolveerr.MetadataTransferError{Coordinate: m.String(), RepositoryID: "local", Cause: err}
	}
	in.Catapult.Dispatch(ctx, events.Event{Type: events.MetadataInstalled, Trace: req.Trace, Coordinate: m.String(), File: destAbs})
	return nil
}

func (in *Installer) runGenerators(ctx context.Context, artifacts []artifact.Artifact, prepare bool) ([]Item, error) {
	var items []Item
	for _, g := range in.Generators {
		var merged []metadata.Mergeable
		var err error
		if prepare {
			merged, err = g.Prepare(ctx, artifacts)
		} else {
			merged, err = g.Finish(ctx, artifacts)
		}
		if err != nil {
			return nil, err
		}
		for _, m := range merged {
			items = append(items, Item{Mergeable: m})
		}
	}
	return items, nil
}

func metadatasOf(items []Item) []metadata.Metadata {
	out := make([]metadata.Metadata, 0, len(items))
	for _, item := range items {
		if item.Mergeable != nil {
			out = append(out, item.Mergeable.Metadata())
		} else {
			out = append(out, item.Plain)
		}
	}
	return out
}

// sameHostContent compares srcAbsPath (a raw host path, as produced by the
// Artifact/Metadata Resolver — not necessarily inside dstFS) against
// dstRelPath within dstFS by size and modification time, the same coarse
// test filesystem.SameContent applies when both sides share one
// billy.Filesystem.
func sameHostContent(srcAbsPath string, dstFS billy.Filesystem, dstRelPath string) (bool, error) {
	srcInfo, err := os.Stat(srcAbsPath)
	if err != nil {
		return false, err
	}
	dstInfo, err := dstFS.Stat(dstRelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return srcInfo.Size() == dstInfo.Size() && srcInfo.ModTime().Equal(dstInfo.ModTime()), nil
}

// copyFromHost copies the raw host file at srcAbsPath into dstFS at
// dstRelPath, preserving the source's modification time on the copy.
func copyFromHost(dstFS billy.Filesystem, srcAbsPath, dstRelPath string) error {
	srcInfo, err := os.Stat(srcAbsPath)
	if err != nil {
		return err
	}
	src, err := os.Open(srcAbsPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := filesystem.CreateWithDirs(dstFS, dstRelPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return filesystem.SetModTime(dstFS, dstRelPath, srcInfo.ModTime())
}
