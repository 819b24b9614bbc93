package repository

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/fluxcd/pkg/lockedfile"
	"github.com/go-git/go-billy/v5"

	"github.com/rancher/repo-resolver/pkg/artifact"
	"github.com/rancher/repo-resolver/pkg/filesystem"
	"github.com/rancher/repo-resolver/pkg/metadata"
)

const defaultTrackingFilename = "_remote.repositories"

// Local is the "enhanced" Local Repository Manager (§4.4): a baseDir plus
// content type, laid out in the Maven-2 directory convention, with a
// per-artifact-directory sidecar tracking file recording which repository
// (if any) each cached file came from.
type Local struct {
	FS               billy.Filesystem
	ContentType      string
	TrackingFilename string
}

// NewLocal returns a Local repository rooted at fs, defaulting
// TrackingFilename per §6 if trackingFilename is empty.
func NewLocal(fs billy.Filesystem, trackingFilename string) *Local {
	if trackingFilename == "" {
		trackingFilename = defaultTrackingFilename
	}
	return &Local{FS: fs, ContentType: "default", TrackingFilename: trackingFilename}
}

func groupPath(groupID string) string {
	return strings.ReplaceAll(groupID, ".", "/")
}

// ArtifactPath returns the local-repository-relative path for a, using
// baseVersion in the directory (always) and in the filename when local is
// true, or the literal version in the filename when local is false (§4.4
// "Local artifact" vs "Remote artifact").
func (l *Local) ArtifactPath(a artifact.Artifact, local bool) string {
	filenameVersion := a.Version()
	if local {
		filenameVersion = a.BaseVersion()
	}
	name := a.ArtifactID + "-" + filenameVersion
	if a.Classifier != "" {
		name += "-" + a.Classifier
	}
	if a.Extension != "" {
		name += "." + a.Extension
	}
	return path.Join(groupPath(a.GroupID), a.ArtifactID, a.BaseVersion(), name)
}

// MetadataPath returns the local-repository-relative path for m, with
// repositoryKey either "local" or a repository-specific key (§4.4 "Local
// metadata" vs "Remote metadata").
func (l *Local) MetadataPath(m metadata.Metadata, repositoryKey string) string {
	dir := groupPath(m.GroupID)
	if m.ArtifactID != "" {
		dir = path.Join(dir, m.ArtifactID)
		if m.Version != "" {
			dir = path.Join(dir, m.Version)
		}
	}
	return path.Join(dir, m.Type+"-"+repositoryKey)
}

// RepositoryKey computes the remote-metadata repository-key component of
// MetadataPath: the plain repository id when the repository is not a
// manager, or "id-<hash>" over (requestContext, sorted mirrored ids)
// otherwise (§4.4).
func RepositoryKey(r Remote, requestContext string) string {
	if !r.IsManager {
		return r.ID
	}
	ids := make([]string, len(r.Mirrored))
	for i, m := range r.Mirrored {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	h := sha1.New()
	fmt.Fprint(h, requestContext, "|", strings.Join(ids, ","))
	return r.ID + "-" + hex.EncodeToString(h.Sum(nil))
}

// trackingFilePath returns the sidecar tracking file path for the
// directory holding artifactRelPath.
func (l *Local) trackingFilePath(artifactRelPath string) string {
	return path.Join(path.Dir(artifactRelPath), l.TrackingFilename)
}

// Find reports whether artifactRelPath is available from any of
// candidateRepositoryIDs (or was installed locally, denoted by an
// empty-origin entry), per §4.4 "find(request)". A tracking file that
// exists but carries no entries at all is accepted for legacy interop.
func (l *Local) Find(artifactRelPath string, candidateRepositoryIDs []string) (bool, error) {
	trackingPath := l.trackingFilePath(artifactRelPath)

	entries, err := readOrigins(l.FS, trackingPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	filename := path.Base(artifactRelPath)
	origins, ok := entries[filename]
	if !ok {
		return len(entries) == 0, nil
	}
	if _, installed := origins[""]; installed {
		return true, nil
	}
	for _, id := range candidateRepositoryIDs {
		if _, ok := origins[id]; ok {
			return true, nil
		}
	}
	return len(origins) == 0, nil
}

// AddOrigin records that artifactRelPath was obtained from repositoryID (an
// empty repositoryID denotes "installed locally"), serializing concurrent
// writers against the tracking file (§4.4 "Concurrent access to tracking
// files"). Writers to an OS-backed repository take a cross-process
// lockedfile lock; writers to an in-memory repository (tests) serialize
// through a process-local mutex instead, since lockedfile needs a real path
// on disk to flock.
func (l *Local) AddOrigin(artifactRelPath, repositoryID string) error {
	trackingPath := l.trackingFilePath(artifactRelPath)

	unlock, err := lockTracking(l.FS, trackingPath)
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := readOrigins(l.FS, trackingPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if entries == nil {
		entries = map[string]map[string]struct{}{}
	}
	filename := path.Base(artifactRelPath)
	if entries[filename] == nil {
		entries[filename] = map[string]struct{}{}
	}
	entries[filename][repositoryID] = struct{}{}
	return writeOrigins(l.FS, trackingPath, entries)
}

// trackingLocks serializes concurrent tracking-file writers against
// in-memory filesystems, keyed by filesystem identity and relative path;
// OS-backed filesystems instead use lockedfile, which locks across
// processes.
var trackingLocks sync.Map

func lockTracking(fs billy.Filesystem, relPath string) (func(), error) {
	if _, osBacked := fs.(billy.Change); osBacked {
		absTracking := filesystem.AbsPath(fs, relPath)
		mu := lockedfile.MutexAt(absTracking)
		unlock, err := mu.Lock()
		if err != nil {
			return nil, fmt.Errorf("locking tracking file %s: %w", absTracking, err)
		}
		return unlock, nil
	}

	key := fmt.Sprintf("%p:%s", fs, relPath)
	v, _ := trackingLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}

func readOrigins(fs billy.Filesystem, relPath string) (map[string]map[string]struct{}, error) {
	f, err := fs.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	entries := map[string]map[string]struct{}{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _ := strings.Cut(line, "=")
		filename, repo, ok := strings.Cut(key, ">")
		if !ok {
			continue
		}
		if entries[filename] == nil {
			entries[filename] = map[string]struct{}{}
		}
		entries[filename][repo] = struct{}{}
	}
	return entries, nil
}

func writeOrigins(fs billy.Filesystem, relPath string, entries map[string]map[string]struct{}) error {
	filenames := make([]string, 0, len(entries))
	for f := range entries {
		filenames = append(filenames, f)
	}
	sort.Strings(filenames)

	var b strings.Builder
	for _, filename := range filenames {
		repos := make([]string, 0, len(entries[filename]))
		for r := range entries[filename] {
			repos = append(repos, r)
		}
		sort.Strings(repos)
		for _, repo := range repos {
			fmt.Fprintf(&b, "%s>%s=\n", filename, repo)
		}
	}

	out, err := filesystem.CreateWithDirs(fs, relPath)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(out, b.String()); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
