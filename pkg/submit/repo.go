package submit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNoRemote is returned when a checkout has no origin remote.
var ErrNoRemote = errors.New("repository has no origin remote")

// Repository is a local checkout's upstream.
type Repository struct {
	URL    string
	Branch string
	Owner  string
	Name   string
}

// DetectRepository finds the git checkout containing dir and returns its
// origin as an https URL together with the checked-out branch.
func DetectRepository(dir string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	remote, err := repo.Remote(git.DefaultRemoteName)
	if errors.Is(err, git.ErrRemoteNotFound) {
		return nil, ErrNoRemote
	}
	if err != nil {
		return nil, err
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return nil, ErrNoRemote
	}

	r := &Repository{URL: NormalizeRemoteURL(urls[0])}
	if owner, name, err := ParseRepository(r.URL); err == nil {
		r.Owner, r.Name = owner, name
	}

	// HEAD is symbolic even on an unborn branch, so read it directly.
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference && head.Target().IsBranch() {
		r.Branch = head.Target().Short()
	}
	return r, nil
}

// NormalizeRemoteURL rewrites scp-style and ssh remotes to https and drops
// the .git suffix.
func NormalizeRemoteURL(remote string) string {
	u := strings.TrimSpace(remote)
	switch {
	case strings.HasPrefix(u, "git@"):
		host, path, _ := strings.Cut(strings.TrimPrefix(u, "git@"), ":")
		u = "https://" + host + "/" + path
	case strings.HasPrefix(u, "ssh://"):
		u = strings.TrimPrefix(u, "ssh://")
		u = strings.TrimPrefix(u, "git@")
		u = "https://" + u
	case strings.HasPrefix(u, "http://"):
		u = "https://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(strings.TrimSuffix(u, "/"), ".git")
}
