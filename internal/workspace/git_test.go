package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ralph", Email: "ralph@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, repo
}

func TestInspect_NotARepo(t *testing.T) {
	info := Inspect(t.TempDir())
	assert.False(t, info.IsRepo)
	assert.Empty(t, info.Head)
}

func TestInspect_Repo(t *testing.T) {
	dir, _ := initRepo(t)

	info := Inspect(dir)
	assert.True(t, info.IsRepo)
	assert.Len(t, info.Head, 40)
	assert.NotEmpty(t, info.Branch)
	assert.True(t, info.Clean)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.go"), []byte("package x\n"), 0644))
	assert.False(t, Inspect(dir).Clean)
}

func TestChangedFiles(t *testing.T) {
	dir, _ := initRepo(t)
	assert.Empty(t, ChangedFiles(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "a.go"), []byte("package pkg\n"), 0644))

	assert.Equal(t, []string{"README.md", "pkg/a.go"}, ChangedFiles(dir))
	assert.Nil(t, ChangedFiles(t.TempDir()))
}

func TestChangedFiles_Subdirectory(t *testing.T) {
	dir, _ := initRepo(t)
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "x.txt"), []byte("x"), 0644))

	assert.Equal(t, []string{"sub/x.txt"}, ChangedFiles(sub))
}

func TestDiff(t *testing.T) {
	assert.Equal(t, []string{"c"}, Diff([]string{"a", "b"}, []string{"a", "b", "c"}))
	assert.Nil(t, Diff([]string{"a"}, []string{"a"}))
	assert.Equal(t, []string{"a"}, Diff(nil, []string{"a"}))
}

func TestParseGitHubURL(t *testing.T) {
	tests := []struct {
		url         string
		owner, name string
		wantErr     bool
	}{
		{url: "git@github.com:fyrsmithlabs/ralph.git", owner: "fyrsmithlabs", name: "ralph"},
		{url: "https://github.com/fyrsmithlabs/ralph.git", owner: "fyrsmithlabs", name: "ralph"},
		{url: "https://github.com/fyrsmithlabs/ralph", owner: "fyrsmithlabs", name: "ralph"},
		{url: "https://gitlab.com/acme/app.git", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			owner, name, err := ParseGitHubURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoGitHubRemote)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestGitHubRemote(t *testing.T) {
	dir, repo := initRepo(t)

	_, _, err := GitHubRemote(dir)
	assert.ErrorIs(t, err, ErrNoGitHubRemote)

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:acme/widgets.git"},
	})
	require.NoError(t, err)

	owner, name, err := GitHubRemote(dir)
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)
}
