package installer

import (
	"net/url"

	"github.com/rancher/repo-resolver/pkg/repository"
	"github.com/rancher/repo-resolver/pkg/resolveerr"
	"github.com/rancher/repo-resolver/pkg/session"
)

// OfflineController gates deployment against a session's offline setting,
// honoring its protocol/host exemption lists (§4.6 Deployer step 1, §6
// "aether.offline.protocols", "aether.offline.hosts").
type OfflineController struct{}

// Check returns a *resolveerr.DeploymentError when sess is offline and repo
// is not exempt by protocol or host; nil otherwise.
func (OfflineController) Check(sess *session.Session, repo repository.Remote) error {
	if !sess.Offline {
		return nil
	}
	u, err := url.Parse(repo.URL)
	if err == nil {
		if sess.IsProtocolExempt(u.Scheme) || sess.IsHostExempt(u.Hostname()) {
			return nil
		}
	}
	return &resolveerr.DeploymentError{Cause: &resolveerr.RepositoryOfflineError{RepositoryID: repo.ID}}
}
