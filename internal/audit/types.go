package audit

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// Section is one part of an audit report.
type Section string

const (
	SectionInventory     Section = "inventory"
	SectionLanguages     Section = "languages"
	SectionDependencies  Section = "dependencies"
	SectionTesting       Section = "testing"
	SectionDocumentation Section = "documentation"
	SectionTechDebt      Section = "tech_debt"
)

// AllSections lists every section in report order.
func AllSections() []Section {
	return []Section{
		SectionInventory,
		SectionLanguages,
		SectionDependencies,
		SectionTesting,
		SectionDocumentation,
		SectionTechDebt,
	}
}

// ParseSections validates names and returns them in report order with
// duplicates removed. No names selects every section.
func ParseSections(names []string) ([]Section, error) {
	if len(names) == 0 {
		return AllSections(), nil
	}
	want := make(map[Section]bool, len(names))
	for _, n := range names {
		s := Section(strings.ToLower(strings.TrimSpace(n)))
		if !s.valid() {
			return nil, failure.Newf(failure.KindInvalidArgument, "audit", "unknown audit section %q", n)
		}
		want[s] = true
	}
	var out []Section
	for _, s := range AllSections() {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (s Section) valid() bool {
	for _, known := range AllSections() {
		if s == known {
			return true
		}
	}
	return false
}

// Format is the rendering of a finished report.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts "", "json" or "markdown".
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	}
	return "", failure.Newf(failure.KindInvalidArgument, "audit", "unknown audit format %q (want json or markdown)", name)
}

// ProjectType is the dominant ecosystem of the audited tree.
type ProjectType string

const (
	ProjectGo         ProjectType = "go"
	ProjectRust       ProjectType = "rust"
	ProjectJavaScript ProjectType = "javascript"
	ProjectTypeScript ProjectType = "typescript"
	ProjectPython     ProjectType = "python"
	ProjectJava       ProjectType = "java"
	ProjectMixed      ProjectType = "mixed"
	ProjectUnknown    ProjectType = "unknown"
)

// DirectoryPurpose classifies a top-level directory by its name.
type DirectoryPurpose string

const (
	PurposeSource        DirectoryPurpose = "source"
	PurposeTest          DirectoryPurpose = "test"
	PurposeDocumentation DirectoryPurpose = "documentation"
	PurposeConfiguration DirectoryPurpose = "configuration"
	PurposeBuild         DirectoryPurpose = "build"
	PurposeAssets        DirectoryPurpose = "assets"
	PurposeUnknown       DirectoryPurpose = "unknown"
)

// Directory is a top-level directory of the tree.
type Directory struct {
	Name    string           `json:"name"`
	Purpose DirectoryPurpose `json:"purpose"`
	Files   int              `json:"files"`
}

// KeyFile is a file that says something about how the project is built.
type KeyFile struct {
	Path         string `json:"path"`
	Significance string `json:"significance"`
}

// Inventory summarizes the files of the tree.
type Inventory struct {
	ProjectType ProjectType `json:"project_type"`
	TotalFiles  int         `json:"total_files"`
	TotalLines  int         `json:"total_lines"`
	Directories []Directory `json:"directories"`
	KeyFiles    []KeyFile   `json:"key_files"`
}

// LanguageSupport is how central a language is to the tree.
type LanguageSupport string

const (
	SupportPrimary   LanguageSupport = "primary"
	SupportSecondary LanguageSupport = "secondary"
	SupportMinimal   LanguageSupport = "minimal"
)

// Language is the per-language file and line count.
type Language struct {
	Name    string          `json:"name"`
	Files   int             `json:"files"`
	Lines   int             `json:"lines"`
	Support LanguageSupport `json:"support"`
}

// Ecosystem names a package manager.
type Ecosystem string

const (
	EcosystemGo    Ecosystem = "go"
	EcosystemCargo Ecosystem = "cargo"
	EcosystemNpm   Ecosystem = "npm"
	EcosystemPip   Ecosystem = "pip"
)

// Dependency is one declared dependency of a manifest.
type Dependency struct {
	Name      string    `json:"name"`
	Version   string    `json:"version,omitempty"`
	Ecosystem Ecosystem `json:"ecosystem"`
	Dev       bool      `json:"dev,omitempty"`
	Indirect  bool      `json:"indirect,omitempty"`
	Manifest  string    `json:"manifest"`
}

// Dependencies is the dependency section.
type Dependencies struct {
	Dependencies []Dependency      `json:"dependencies"`
	ByEcosystem  map[Ecosystem]int `json:"by_ecosystem"`
	Errors       []string          `json:"errors,omitempty"`
}

// Testing counts test files against source files.
type Testing struct {
	TestFiles   int     `json:"test_files"`
	SourceFiles int     `json:"source_files"`
	Ratio       float64 `json:"ratio"`
	CI          bool    `json:"ci"`
}

// Documentation reports the project's written documentation.
type Documentation struct {
	Readme        string `json:"readme,omitempty"`
	MarkdownFiles int    `json:"markdown_files"`
	DocsDir       bool   `json:"docs_dir"`
	License       bool   `json:"license"`
}

// Marker is one debt comment found in a file.
type Marker struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// TechDebt counts TODO, FIXME and HACK markers.
type TechDebt struct {
	Total   int            `json:"total"`
	ByKind  map[string]int `json:"by_kind"`
	Markers []Marker       `json:"markers,omitempty"`
}

// Report is a finished audit. Sections that were not requested are nil.
type Report struct {
	Root          string         `json:"root"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Sections      []Section      `json:"sections"`
	Inventory     *Inventory     `json:"inventory,omitempty"`
	Languages     []Language     `json:"languages,omitempty"`
	Dependencies  *Dependencies  `json:"dependencies,omitempty"`
	Testing       *Testing       `json:"testing,omitempty"`
	Documentation *Documentation `json:"documentation,omitempty"`
	TechDebt      *TechDebt      `json:"tech_debt,omitempty"`
}
