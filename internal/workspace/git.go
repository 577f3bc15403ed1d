// Package workspace inspects the git repository the agent works in.
//
// Everything here is best-effort: a workspace that is not a repository, or
// a repository in an odd state, yields empty values rather than errors so
// the loop can keep going.
package workspace

import (
	"errors"
	"regexp"
	"sort"

	"github.com/go-git/go-git/v5"
)

// Info describes the repository state at a point in time.
type Info struct {
	IsRepo bool   `json:"isRepo"`
	Branch string `json:"branch,omitempty"`
	Head   string `json:"head,omitempty"`
	Clean  bool   `json:"clean"`
}

// Inspect returns the repository state of dir.
func Inspect(dir string) Info {
	repo, err := open(dir)
	if err != nil {
		return Info{}
	}
	info := Info{IsRepo: true}

	if head, err := repo.Head(); err == nil {
		info.Head = head.Hash().String()
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		}
	}

	if wt, err := repo.Worktree(); err == nil {
		if st, err := wt.Status(); err == nil {
			info.Clean = st.IsClean()
		}
	}
	return info
}

// ChangedFiles lists paths with staged, unstaged or untracked changes,
// sorted. It returns nil outside a repository.
func ChangedFiles(dir string) []string {
	repo, err := open(dir)
	if err != nil {
		return nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil
	}
	st, err := wt.Status()
	if err != nil {
		return nil
	}

	var files []string
	for path, fs := range st {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}

// Diff returns the paths in after that are not in before.
func Diff(before, after []string) []string {
	seen := make(map[string]bool, len(before))
	for _, p := range before {
		seen[p] = true
	}
	var out []string
	for _, p := range after {
		if !seen[p] {
			out = append(out, p)
		}
	}
	return out
}

// ErrNoGitHubRemote is returned when origin is missing or not on github.com.
var ErrNoGitHubRemote = errors.New("origin is not a GitHub remote")

var (
	sshRemote   = regexp.MustCompile(`git@github\.com:([^/]+)/([^/]+?)(?:\.git)?$`)
	httpsRemote = regexp.MustCompile(`github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)
)

// GitHubRemote extracts owner and repository from the origin remote.
func GitHubRemote(dir string) (owner, name string, err error) {
	repo, err := open(dir)
	if err != nil {
		return "", "", err
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", "", ErrNoGitHubRemote
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", "", ErrNoGitHubRemote
	}
	return ParseGitHubURL(urls[0])
}

// ParseGitHubURL accepts git@github.com:owner/repo.git and
// https://github.com/owner/repo forms.
func ParseGitHubURL(url string) (owner, name string, err error) {
	for _, re := range []*regexp.Regexp{sshRemote, httpsRemote} {
		if m := re.FindStringSubmatch(url); len(m) == 3 {
			return m[1], m[2], nil
		}
	}
	return "", "", ErrNoGitHubRemote
}

func open(dir string) (*git.Repository, error) {
	return git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
}
