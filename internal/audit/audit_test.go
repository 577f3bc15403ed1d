package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

const goMod = `module example.com/demo

go 1.22

require (
	github.com/spf13/cobra v1.8.0
	golang.org/x/sys v0.20.0 // indirect
)
`

const cargoToml = `[package]
name = "tool"

[dependencies]
serde = { version = "1.0", features = ["derive"] }
anyhow = "1"

[dev-dependencies]
tempfile = "3"
`

// writeTree creates files under a temp dir and returns its path.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func demoTree(t *testing.T) string {
	return writeTree(t, map[string]string{
		"go.mod":                         goMod,
		"main.go":                        "package main\n\n// TODO: wire flags\nfunc main() {}\n",
		"main_test.go":                   "package main\n",
		"internal/store/store.go":        "package store\n\n// FIXME(ralph) handle close errors\n",
		"README.md":                      "# demo\n\nTODO in prose is not code debt.\n",
		"LICENSE":                        "MIT\n",
		"docs/guide.md":                  "guide\n",
		".github/workflows/ci.yml":       "on: push\n",
		"node_modules/left-pad/index.js": "module.exports = 1\n",
		"web/index.js":                   "console.log(1)\n",
		"web/package.json":               `{"dependencies":{"react":"^18.2.0"},"devDependencies":{"vitest":"1.0.0"}}`,
		"tools/Cargo.toml":               cargoToml,
		"requirements.txt":               "flask==2.3.0\n-r base.txt\n# comment\nrequests[security]>=2.0 ; python_version > '3'\n",
	})
}

func TestScan_AllSections(t *testing.T) {
	root := demoTree(t)
	var progress []int

	r, err := (&Scanner{Workers: 2}).Scan(context.Background(), root, nil, func(p int) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{30, 80}, progress)
	assert.Equal(t, AllSections(), r.Sections)

	require.NotNil(t, r.Inventory)
	assert.Equal(t, ProjectGo, r.Inventory.ProjectType)
	assert.Equal(t, 12, r.Inventory.TotalFiles, "node_modules is skipped")
	assert.Positive(t, r.Inventory.TotalLines)

	purposes := map[string]DirectoryPurpose{}
	for _, d := range r.Inventory.Directories {
		purposes[d.Name] = d.Purpose
	}
	assert.Equal(t, PurposeSource, purposes["internal"])
	assert.Equal(t, PurposeDocumentation, purposes["docs"])
	assert.Equal(t, PurposeConfiguration, purposes[".github"])
	assert.Equal(t, PurposeUnknown, purposes["web"])
	assert.NotContains(t, purposes, "node_modules")

	var keys []string
	for _, k := range r.Inventory.KeyFiles {
		keys = append(keys, k.Path)
	}
	assert.Contains(t, keys, "go.mod")
	assert.Contains(t, keys, "README.md")
	assert.Contains(t, keys, ".github/workflows/ci.yml")

	require.Len(t, r.Languages, 2)
	assert.Equal(t, "Go", r.Languages[0].Name)
	assert.Equal(t, 3, r.Languages[0].Files)
	assert.Equal(t, SupportPrimary, r.Languages[0].Support)
	assert.Equal(t, "JavaScript", r.Languages[1].Name)
	assert.Equal(t, SupportSecondary, r.Languages[1].Support)

	require.NotNil(t, r.Dependencies)
	assert.Empty(t, r.Dependencies.Errors)
	assert.Equal(t, map[Ecosystem]int{
		EcosystemGo: 2, EcosystemNpm: 2, EcosystemCargo: 3, EcosystemPip: 2,
	}, r.Dependencies.ByEcosystem)

	require.NotNil(t, r.Testing)
	assert.Equal(t, 1, r.Testing.TestFiles)
	assert.Equal(t, 3, r.Testing.SourceFiles)
	assert.InDelta(t, 1.0/3, r.Testing.Ratio, 1e-9)
	assert.True(t, r.Testing.CI)

	require.NotNil(t, r.Documentation)
	assert.Equal(t, "README.md", r.Documentation.Readme)
	assert.Equal(t, 2, r.Documentation.MarkdownFiles)
	assert.True(t, r.Documentation.DocsDir)
	assert.True(t, r.Documentation.License)

	require.NotNil(t, r.TechDebt)
	assert.Equal(t, 2, r.TechDebt.Total)
	assert.Equal(t, map[string]int{"TODO": 1, "FIXME": 1}, r.TechDebt.ByKind)
	require.Len(t, r.TechDebt.Markers, 2)
	assert.Equal(t, Marker{Path: "internal/store/store.go", Line: 3, Kind: "FIXME", Text: "ralph) handle close errors"}, r.TechDebt.Markers[0])
	assert.Equal(t, Marker{Path: "main.go", Line: 3, Kind: "TODO", Text: "wire flags"}, r.TechDebt.Markers[1])
}

func TestScan_OnlyRequestedSections(t *testing.T) {
	root := demoTree(t)

	r, err := (&Scanner{}).Scan(context.Background(), root, []Section{SectionDependencies}, nil)
	require.NoError(t, err)
	assert.NotNil(t, r.Dependencies)
	assert.Nil(t, r.Inventory)
	assert.Nil(t, r.Languages)
	assert.Nil(t, r.Testing)
	assert.Nil(t, r.Documentation)
	assert.Nil(t, r.TechDebt)
}

func TestScan_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Scanner{}).Scan(ctx, demoTree(t), nil, nil)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindCancelled))
}

func TestScan_ReportsBrokenManifest(t *testing.T) {
	root := writeTree(t, map[string]string{"package.json": "{not json"})

	r, err := (&Scanner{}).Scan(context.Background(), root, []Section{SectionDependencies}, nil)
	require.NoError(t, err)
	require.Len(t, r.Dependencies.Errors, 1)
	assert.Contains(t, r.Dependencies.Errors[0], "package.json")
}

func TestParseManifest(t *testing.T) {
	deps, err := ParseManifest("go.mod", []byte(goMod))
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, Dependency{Name: "github.com/spf13/cobra", Version: "v1.8.0", Ecosystem: EcosystemGo, Manifest: "go.mod"}, deps[0])
	assert.True(t, deps[1].Indirect)

	deps, err = ParseManifest("tools/Cargo.toml", []byte(cargoToml))
	require.NoError(t, err)
	require.Len(t, deps, 3)
	assert.Equal(t, "anyhow", deps[0].Name)
	assert.Equal(t, "serde", deps[1].Name)
	assert.Equal(t, "1.0", deps[1].Version, "inline tables carry the version key")
	assert.Equal(t, "tempfile", deps[2].Name)
	assert.True(t, deps[2].Dev)

	deps, err = ParseManifest("requirements.txt", []byte("flask==2.3.0\n-e .\nrequests[security]>=2.0 ; python_version > '3'\nnumpy\n"))
	require.NoError(t, err)
	require.Len(t, deps, 3)
	assert.Equal(t, "2.3.0", deps[0].Version)
	assert.Equal(t, "requests", deps[1].Name)
	assert.Equal(t, ">=2.0", deps[1].Version)
	assert.Equal(t, Dependency{Name: "numpy", Ecosystem: EcosystemPip, Manifest: "requirements.txt"}, deps[2])

	_, err = ParseManifest("setup.py", nil)
	assert.Error(t, err)
}

func TestParseSections(t *testing.T) {
	all, err := ParseSections(nil)
	require.NoError(t, err)
	assert.Equal(t, AllSections(), all)

	got, err := ParseSections([]string{"tech_debt", "Inventory", "inventory"})
	require.NoError(t, err)
	assert.Equal(t, []Section{SectionInventory, SectionTechDebt}, got)

	_, err = ParseSections([]string{"architecture"})
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindInvalidArgument))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("Markdown")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)

	_, err = ParseFormat("html")
	assert.True(t, failure.IsKind(err, failure.KindInvalidArgument))
}

func TestResolveRoot(t *testing.T) {
	dir := t.TempDir()

	got, err := ResolveRoot("", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	_, err = ResolveRoot(filepath.Join(dir, "missing"), "")
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindInvalidArgument))
	assert.Contains(t, err.Error(), "path not found")

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = ResolveRoot(file, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestProjectType(t *testing.T) {
	assert.Equal(t, ProjectUnknown, projectType(nil))

	mixed := rankLanguages(map[string]*Language{
		"Go":         {Name: "Go", Files: 4},
		"TypeScript": {Name: "TypeScript", Files: 3},
	})
	assert.Equal(t, ProjectMixed, projectType(mixed))

	ruby := rankLanguages(map[string]*Language{"Ruby": {Name: "Ruby", Files: 2}})
	assert.Equal(t, ProjectUnknown, projectType(ruby))
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(nil))
	assert.Equal(t, 1, countLines([]byte("a")))
	assert.Equal(t, 2, countLines([]byte("a\nb\n")))
	assert.Equal(t, 3, countLines([]byte("a\n\nb")))
}

func TestMarkdown(t *testing.T) {
	r, err := (&Scanner{}).Scan(context.Background(), demoTree(t), nil, nil)
	require.NoError(t, err)

	md := Markdown(r)
	assert.Contains(t, md, "# Audit of "+r.Root)
	assert.Contains(t, md, "- Project type: go")
	assert.Contains(t, md, "| Go | 3 |")
	assert.Contains(t, md, "- github.com/spf13/cobra v1.8.0\n")
	assert.NotContains(t, md, "golang.org/x/sys", "indirect modules are left out")
	assert.Contains(t, md, "- vitest 1.0.0 (dev)")
	assert.Contains(t, md, "- CI configured: true")
	assert.Contains(t, md, "- main.go:3 TODO wire flags")
}

func waitDone(t *testing.T, m *Manager, id string) State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := m.Get(id)
		require.NoError(t, err)
		if st.Status == StatusCompleted || st.Status == StatusFailed {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit %s still %s", id, st.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManager_StartAndGet(t *testing.T) {
	root := demoTree(t)
	m := NewManager(ManagerConfig{DefaultRoot: root})
	t.Cleanup(m.Close)

	st, err := m.Start(Request{Sections: []string{"languages"}, Format: "markdown"})
	require.NoError(t, err)
	assert.Contains(t, st.ID, "audit-")
	assert.Equal(t, root, st.Root)
	assert.Equal(t, []Section{SectionLanguages}, st.Sections)
	assert.Equal(t, FormatMarkdown, st.Format)

	done := waitDone(t, m, st.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.FinishedAt)
	require.NotNil(t, done.Report)
	assert.NotEmpty(t, done.Report.Languages)
	assert.Contains(t, done.Rendered, "## Languages")

	assert.Len(t, m.List(), 1)
}

func TestManager_JSONFormatHasNoRendering(t *testing.T) {
	m := NewManager(ManagerConfig{DefaultRoot: demoTree(t)})
	t.Cleanup(m.Close)

	st, err := m.Start(Request{})
	require.NoError(t, err)
	done := waitDone(t, m, st.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Empty(t, done.Rendered)
	assert.Equal(t, AllSections(), done.Report.Sections)
}

func TestManager_RejectsBadRequests(t *testing.T) {
	m := NewManager(ManagerConfig{DefaultRoot: t.TempDir()})
	t.Cleanup(m.Close)

	for _, req := range []Request{
		{Path: "/does/not/exist"},
		{Sections: []string{"api"}},
		{Format: "pdf"},
	} {
		_, err := m.Start(req)
		require.Error(t, err, "%+v", req)
		assert.True(t, failure.IsKind(err, failure.KindInvalidArgument), "%+v", req)
	}
	assert.Empty(t, m.List())

	_, err := m.Get("audit-missing")
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindInvalidArgument))
}

func TestManager_EvictsOldestFinished(t *testing.T) {
	root := demoTree(t)
	m := NewManager(ManagerConfig{DefaultRoot: root, Retain: 1})
	t.Cleanup(m.Close)

	first, err := m.Start(Request{Sections: []string{"testing"}})
	require.NoError(t, err)
	waitDone(t, m, first.ID)

	second, err := m.Start(Request{Sections: []string{"testing"}})
	require.NoError(t, err)
	waitDone(t, m, second.ID)

	_, err = m.Get(first.ID)
	assert.Error(t, err)
	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)
}

func TestManager_StartAfterClose(t *testing.T) {
	m := NewManager(ManagerConfig{DefaultRoot: t.TempDir()})
	m.Close()

	_, err := m.Start(Request{})
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindCancelled))
}
