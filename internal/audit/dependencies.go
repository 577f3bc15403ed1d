package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/modfile"
)

// manifestParsers maps a manifest base name to its parser.
var manifestParsers = map[string]func(rel string, data []byte) ([]Dependency, error){
	"go.mod":           parseGoMod,
	"Cargo.toml":       parseCargo,
	"package.json":     parsePackageJSON,
	"requirements.txt": parseRequirements,
}

func isManifest(path string) bool {
	_, ok := manifestParsers[filepath.Base(path)]
	return ok
}

// ParseManifest extracts the dependencies declared in one manifest. rel is
// recorded as the manifest path of each dependency.
func ParseManifest(rel string, data []byte) ([]Dependency, error) {
	parse, ok := manifestParsers[filepath.Base(rel)]
	if !ok {
		return nil, fmt.Errorf("%s: not a known manifest", rel)
	}
	deps, err := parse(rel, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}
	return deps, nil
}

func parseGoMod(rel string, data []byte) ([]Dependency, error) {
	f, err := modfile.ParseLax(rel, data, nil)
	if err != nil {
		return nil, err
	}
	deps := make([]Dependency, 0, len(f.Require))
	for _, r := range f.Require {
		deps = append(deps, Dependency{
			Name:      r.Mod.Path,
			Version:   r.Mod.Version,
			Ecosystem: EcosystemGo,
			Indirect:  r.Indirect,
			Manifest:  rel,
		})
	}
	return deps, nil
}

func parseCargo(rel string, data []byte) ([]Dependency, error) {
	var manifest struct {
		Dependencies    map[string]interface{} `toml:"dependencies"`
		DevDependencies map[string]interface{} `toml:"dev-dependencies"`
	}
	if _, err := toml.Decode(string(data), &manifest); err != nil {
		return nil, err
	}
	var deps []Dependency
	add := func(table map[string]interface{}, dev bool) {
		for name, val := range table {
			deps = append(deps, Dependency{
				Name:      name,
				Version:   cargoVersion(val),
				Ecosystem: EcosystemCargo,
				Dev:       dev,
				Manifest:  rel,
			})
		}
	}
	add(manifest.Dependencies, false)
	add(manifest.DevDependencies, true)
	sortDeps(deps)
	return deps, nil
}

// cargoVersion reads `foo = "1"` and `foo = { version = "1" }` forms.
func cargoVersion(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case map[string]interface{}:
		if s, ok := v["version"].(string); ok {
			return s
		}
	}
	return ""
}

func parsePackageJSON(rel string, data []byte) ([]Dependency, error) {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	var deps []Dependency
	for name, version := range pkg.Dependencies {
		deps = append(deps, Dependency{Name: name, Version: version, Ecosystem: EcosystemNpm, Manifest: rel})
	}
	for name, version := range pkg.DevDependencies {
		deps = append(deps, Dependency{Name: name, Version: version, Ecosystem: EcosystemNpm, Dev: true, Manifest: rel})
	}
	sortDeps(deps)
	return deps, nil
}

var requirementOperators = []string{"===", "==", "~=", ">=", "<=", "!=", ">", "<"}

func parseRequirements(rel string, data []byte) ([]Dependency, error) {
	var deps []Dependency
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		// Options such as -r, -e and --index-url are not packages.
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.IndexAny(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		name, version := line, ""
		for _, op := range requirementOperators {
			if i := strings.Index(line, op); i >= 0 {
				name = strings.TrimSpace(line[:i])
				version = strings.TrimSpace(line[i+len(op):])
				if op != "==" && op != "===" {
					version = op + version
				}
				break
			}
		}
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		deps = append(deps, Dependency{Name: name, Version: version, Ecosystem: EcosystemPip, Manifest: rel})
	}
	return deps, sc.Err()
}

func sortDeps(deps []Dependency) {
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Dev != deps[j].Dev {
			return !deps[i].Dev
		}
		return deps[i].Name < deps[j].Name
	})
}
