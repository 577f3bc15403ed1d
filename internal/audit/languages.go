package audit

import (
	"path/filepath"
	"sort"
	"strings"
)

var languageByExt = map[string]string{
	".go":    "Go",
	".rs":    "Rust",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".mjs":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".py":    "Python",
	".java":  "Java",
	".rb":    "Ruby",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".hpp":   "C++",
	".cc":    "C++",
	".cxx":   "C++",
	".cs":    "C#",
	".swift": "Swift",
	".kt":    "Kotlin",
	".kts":   "Kotlin",
	".sh":    "Shell",
}

var projectTypeByLanguage = map[string]ProjectType{
	"Go":         ProjectGo,
	"Rust":       ProjectRust,
	"JavaScript": ProjectJavaScript,
	"TypeScript": ProjectTypeScript,
	"Python":     ProjectPython,
	"Java":       ProjectJava,
}

// DetectLanguage returns the language of path by extension, or "".
func DetectLanguage(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// rankLanguages orders languages by file count, then lines, then name, and
// assigns support levels: the largest is primary, anything with at least a
// tenth of the source files is secondary.
func rankLanguages(byName map[string]*Language) []Language {
	out := make([]Language, 0, len(byName))
	total := 0
	for _, l := range byName {
		out = append(out, *l)
		total += l.Files
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}
		if out[i].Lines != out[j].Lines {
			return out[i].Lines > out[j].Lines
		}
		return out[i].Name < out[j].Name
	})
	for i := range out {
		switch {
		case i == 0:
			out[i].Support = SupportPrimary
		case out[i].Files*10 >= total:
			out[i].Support = SupportSecondary
		default:
			out[i].Support = SupportMinimal
		}
	}
	return out
}

// projectType maps ranked languages to a project type. A secondary language
// with at least half the primary's files makes the project mixed.
func projectType(ranked []Language) ProjectType {
	if len(ranked) == 0 {
		return ProjectUnknown
	}
	if len(ranked) > 1 && ranked[1].Support == SupportSecondary && ranked[1].Files*2 >= ranked[0].Files {
		return ProjectMixed
	}
	if pt, ok := projectTypeByLanguage[ranked[0].Name]; ok {
		return pt
	}
	return ProjectUnknown
}
