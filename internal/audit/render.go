package audit

import (
	"fmt"
	"sort"
	"strings"
)

// Markdown renders r as a human-readable report.
func Markdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Audit of %s\n\nGenerated %s\n", r.Root, r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))

	if inv := r.Inventory; inv != nil {
		fmt.Fprintf(&b, "\n## Inventory\n\n- Project type: %s\n- Files: %d\n- Lines: %d\n", inv.ProjectType, inv.TotalFiles, inv.TotalLines)
		if len(inv.Directories) > 0 {
			b.WriteString("\n| Directory | Purpose | Files |\n|---|---|---|\n")
			for _, d := range inv.Directories {
				fmt.Fprintf(&b, "| %s | %s | %d |\n", d.Name, d.Purpose, d.Files)
			}
		}
		if len(inv.KeyFiles) > 0 {
			b.WriteString("\nKey files:\n\n")
			for _, k := range inv.KeyFiles {
				fmt.Fprintf(&b, "- `%s`: %s\n", k.Path, k.Significance)
			}
		}
	}

	if len(r.Languages) > 0 {
		b.WriteString("\n## Languages\n\n| Language | Files | Lines | Support |\n|---|---|---|---|\n")
		for _, l := range r.Languages {
			fmt.Fprintf(&b, "| %s | %d | %d | %s |\n", l.Name, l.Files, l.Lines, l.Support)
		}
	}

	if deps := r.Dependencies; deps != nil {
		fmt.Fprintf(&b, "\n## Dependencies\n\n%d declared", len(deps.Dependencies))
		ecosystems := make([]string, 0, len(deps.ByEcosystem))
		for e, n := range deps.ByEcosystem {
			ecosystems = append(ecosystems, fmt.Sprintf("%s %d", e, n))
		}
		sort.Strings(ecosystems)
		if len(ecosystems) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(ecosystems, ", "))
		}
		b.WriteString("\n")
		for _, d := range deps.Dependencies {
			if d.Indirect {
				continue
			}
			dev := ""
			if d.Dev {
				dev = " (dev)"
			}
			fmt.Fprintf(&b, "- %s %s%s\n", d.Name, d.Version, dev)
		}
		for _, e := range deps.Errors {
			fmt.Fprintf(&b, "- parse error: %s\n", e)
		}
	}

	if t := r.Testing; t != nil {
		fmt.Fprintf(&b, "\n## Testing\n\n- Test files: %d\n- Source files: %d\n- Test ratio: %.2f\n- CI configured: %t\n",
			t.TestFiles, t.SourceFiles, t.Ratio, t.CI)
	}

	if d := r.Documentation; d != nil {
		readme := d.Readme
		if readme == "" {
			readme = "missing"
		}
		fmt.Fprintf(&b, "\n## Documentation\n\n- README: %s\n- Markdown files: %d\n- docs directory: %t\n- License: %t\n",
			readme, d.MarkdownFiles, d.DocsDir, d.License)
	}

	if td := r.TechDebt; td != nil {
		fmt.Fprintf(&b, "\n## Tech debt\n\n%d markers", td.Total)
		kinds := make([]string, 0, len(td.ByKind))
		for k, n := range td.ByKind {
			kinds = append(kinds, fmt.Sprintf("%s %d", k, n))
		}
		sort.Strings(kinds)
		if len(kinds) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(kinds, ", "))
		}
		b.WriteString("\n")
		for _, m := range td.Markers {
			fmt.Fprintf(&b, "- %s:%d %s %s\n", m.Path, m.Line, m.Kind, m.Text)
		}
	}
	return b.String()
}
