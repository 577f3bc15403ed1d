package audit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

const (
	defaultWorkers      = 8
	defaultMaxFileBytes = 1 << 20
	maxListedMarkers    = 50
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".ralph":       true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
}

var purposeByDir = map[string]DirectoryPurpose{
	"src": PurposeSource, "lib": PurposeSource, "internal": PurposeSource,
	"pkg": PurposeSource, "cmd": PurposeSource, "app": PurposeSource,
	"test": PurposeTest, "tests": PurposeTest, "__tests__": PurposeTest,
	"spec": PurposeTest, "testdata": PurposeTest, "e2e": PurposeTest,
	"docs": PurposeDocumentation, "doc": PurposeDocumentation,
	"config": PurposeConfiguration, "configs": PurposeConfiguration,
	".github": PurposeConfiguration, "deploy": PurposeConfiguration,
	"build": PurposeBuild, "scripts": PurposeBuild, "bin": PurposeBuild,
	"assets": PurposeAssets, "static": PurposeAssets, "public": PurposeAssets,
	"images": PurposeAssets,
}

var keyFiles = map[string]string{
	"go.mod":             "Go module definition",
	"Cargo.toml":         "Rust crate manifest",
	"package.json":       "npm package manifest",
	"tsconfig.json":      "TypeScript compiler settings",
	"requirements.txt":   "Python requirements",
	"pyproject.toml":     "Python project metadata",
	"pom.xml":            "Maven build",
	"build.gradle":       "Gradle build",
	"Makefile":           "Build targets",
	"Dockerfile":         "Container image",
	"docker-compose.yml": "Local service stack",
	"README.md":          "Project overview",
	"prd.json":           "Story ledger",
}

var markerPattern = regexp.MustCompile(`\b(TODO|FIXME|HACK|XXX)\b[:(]?\s*(.*)`)

// Scanner walks a tree and builds audit reports.
type Scanner struct {
	// Workers bounds concurrent file reads. Defaults to 8.
	Workers int

	// MaxFileBytes skips line counting for larger files. Defaults to 1 MiB.
	MaxFileBytes int64

	Logger *zap.Logger
}

type fileInfo struct {
	rel     string
	size    int64
	lang    string
	test    bool
	lines   int
	markers []Marker
}

// ResolveRoot returns the absolute directory to audit: path if given,
// otherwise fallback. A missing path or a regular file is invalid.
func ResolveRoot(path, fallback string) (string, error) {
	if path == "" {
		path = fallback
	}
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", failure.Wrap(failure.KindInvalidArgument, "audit", err)
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", failure.Newf(failure.KindInvalidArgument, "audit", "path not found: %s", path)
	case err != nil:
		return "", failure.Wrap(failure.KindIO, "audit", err)
	case !info.IsDir():
		return "", failure.Newf(failure.KindInvalidArgument, "audit", "path is not a directory: %s", path)
	}
	return abs, nil
}

// Scan audits root for the given sections. progress, if set, receives a
// percentage as each phase finishes.
func (s *Scanner) Scan(ctx context.Context, root string, sections []Section, progress func(int)) (*Report, error) {
	if progress == nil {
		progress = func(int) {}
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sections) == 0 {
		sections = AllSections()
	}
	want := make(map[Section]bool, len(sections))
	for _, sec := range sections {
		want[sec] = true
	}

	files, dirs, err := s.walk(ctx, root)
	if err != nil {
		return nil, err
	}
	progress(30)

	readContent := want[SectionInventory] || want[SectionLanguages] || want[SectionTechDebt]
	if readContent {
		if err := s.analyze(ctx, root, files, want[SectionTechDebt], logger); err != nil {
			return nil, err
		}
	}
	progress(80)

	report := &Report{
		Root:        root,
		GeneratedAt: time.Now().UTC(),
		Sections:    sections,
	}
	langs := buildLanguages(files)
	if want[SectionInventory] {
		report.Inventory = buildInventory(files, dirs, langs)
	}
	if want[SectionLanguages] {
		report.Languages = langs
	}
	if want[SectionDependencies] {
		report.Dependencies = buildDependencies(root, files, logger)
	}
	if want[SectionTesting] {
		report.Testing = buildTesting(files)
	}
	if want[SectionDocumentation] {
		report.Documentation = buildDocumentation(files, dirs)
	}
	if want[SectionTechDebt] {
		report.TechDebt = buildTechDebt(files)
	}

	logger.Info("audit complete",
		zap.String("root", root),
		zap.Int("files", len(files)),
		zap.Int("sections", len(sections)),
	)
	return report, nil
}

// walk lists regular files and counts files under each top-level directory.
func (s *Scanner) walk(ctx context.Context, root string) ([]*fileInfo, map[string]int, error) {
	var files []*fileInfo
	dirs := map[string]int{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are left out of the report.
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if _, seen := dirs[rel]; !seen && rel != "." && !strings.Contains(rel, "/") {
				dirs[rel] = 0
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if top, _, nested := strings.Cut(rel, "/"); nested {
			dirs[top]++
		}
		f := &fileInfo{rel: rel, size: info.Size(), lang: DetectLanguage(rel)}
		f.test = f.lang != "" && isTestFile(rel)
		files = append(files, f)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, failure.Wrap(failure.KindCancelled, "audit", ctx.Err())
		}
		return nil, nil, failure.Wrap(failure.KindIO, "audit", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, dirs, nil
}

// analyze reads source files concurrently for line counts and markers. Each
// worker writes only its own fileInfo.
func (s *Scanner) analyze(ctx context.Context, root string, files []*fileInfo, markers bool, logger *zap.Logger) error {
	workers := s.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	maxBytes := s.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range files {
		if f.lang == "" || f.size > maxBytes {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.rel)))
			if err != nil {
				logger.Debug("audit skipped unreadable file", zap.String("path", f.rel), zap.Error(err))
				return nil
			}
			if bytes.IndexByte(data, 0) >= 0 {
				return nil
			}
			f.lines = countLines(data)
			if markers {
				f.markers = findMarkers(f.rel, data)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failure.Wrap(failure.KindCancelled, "audit", err)
	}
	return nil
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

func findMarkers(rel string, data []byte) []Marker {
	var out []Marker
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for line := 1; sc.Scan(); line++ {
		m := markerPattern.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		if len(text) > 120 {
			text = text[:120]
		}
		out = append(out, Marker{Path: rel, Line: line, Kind: m[1], Text: text})
	}
	return out
}

func isTestFile(rel string) bool {
	base := filepath.Base(rel)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.HasSuffix(base, "_test.py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.HasSuffix(base, "Test.java"):
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		if part == "tests" || part == "__tests__" {
			return true
		}
	}
	return false
}

func buildLanguages(files []*fileInfo) []Language {
	byName := map[string]*Language{}
	for _, f := range files {
		if f.lang == "" {
			continue
		}
		l, ok := byName[f.lang]
		if !ok {
			l = &Language{Name: f.lang}
			byName[f.lang] = l
		}
		l.Files++
		l.Lines += f.lines
	}
	return rankLanguages(byName)
}

func buildInventory(files []*fileInfo, dirs map[string]int, langs []Language) *Inventory {
	inv := &Inventory{
		ProjectType: projectType(langs),
		TotalFiles:  len(files),
		Directories: []Directory{},
		KeyFiles:    []KeyFile{},
	}
	for _, f := range files {
		inv.TotalLines += f.lines
		if sig, ok := keyFiles[f.rel]; ok {
			inv.KeyFiles = append(inv.KeyFiles, KeyFile{Path: f.rel, Significance: sig})
		} else if strings.HasPrefix(f.rel, ".github/workflows/") {
			inv.KeyFiles = append(inv.KeyFiles, KeyFile{Path: f.rel, Significance: "CI workflow"})
		}
	}
	for name, count := range dirs {
		purpose, ok := purposeByDir[strings.ToLower(name)]
		if !ok {
			purpose = PurposeUnknown
		}
		inv.Directories = append(inv.Directories, Directory{Name: name, Purpose: purpose, Files: count})
	}
	sort.Slice(inv.Directories, func(i, j int) bool { return inv.Directories[i].Name < inv.Directories[j].Name })
	return inv
}

func buildDependencies(root string, files []*fileInfo, logger *zap.Logger) *Dependencies {
	out := &Dependencies{Dependencies: []Dependency{}, ByEcosystem: map[Ecosystem]int{}}
	for _, f := range files {
		if !isManifest(f.rel) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.rel)))
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
			continue
		}
		deps, err := ParseManifest(f.rel, data)
		if err != nil {
			logger.Debug("manifest parse failed", zap.String("manifest", f.rel), zap.Error(err))
			out.Errors = append(out.Errors, err.Error())
			continue
		}
		for _, d := range deps {
			out.ByEcosystem[d.Ecosystem]++
		}
		out.Dependencies = append(out.Dependencies, deps...)
	}
	return out
}

func buildTesting(files []*fileInfo) *Testing {
	t := &Testing{}
	for _, f := range files {
		switch {
		case f.test:
			t.TestFiles++
		case f.lang != "":
			t.SourceFiles++
		}
		if strings.HasPrefix(f.rel, ".github/workflows/") || f.rel == ".gitlab-ci.yml" || strings.HasPrefix(f.rel, ".circleci/") {
			t.CI = true
		}
	}
	if t.SourceFiles > 0 {
		t.Ratio = float64(t.TestFiles) / float64(t.SourceFiles)
	}
	return t
}

func buildDocumentation(files []*fileInfo, dirs map[string]int) *Documentation {
	d := &Documentation{}
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f.rel), ".md") {
			d.MarkdownFiles++
		}
		if strings.Contains(f.rel, "/") {
			continue
		}
		upper := strings.ToUpper(f.rel)
		if strings.HasPrefix(upper, "README") && d.Readme == "" {
			d.Readme = f.rel
		}
		if strings.HasPrefix(upper, "LICENSE") || strings.HasPrefix(upper, "COPYING") {
			d.License = true
		}
	}
	_, docs := dirs["docs"]
	_, doc := dirs["doc"]
	d.DocsDir = docs || doc
	return d
}

func buildTechDebt(files []*fileInfo) *TechDebt {
	td := &TechDebt{ByKind: map[string]int{}}
	for _, f := range files {
		for _, m := range f.markers {
			td.Total++
			td.ByKind[m.Kind]++
			if len(td.Markers) < maxListedMarkers {
				td.Markers = append(td.Markers, m)
			}
		}
	}
	return td
}
