package quality

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/ralph/internal/config"
)

// Built-in preset names.
const (
	PresetMinimal       = "minimal"
	PresetStandard      = "standard"
	PresetComprehensive = "comprehensive"
)

// Preset returns a copy of a built-in profile.
func Preset(name string) (*Profile, bool) {
	build, ok := presets[name]
	if !ok {
		return nil, false
	}
	p := build()
	p.applyDefaults()
	return p, true
}

// PresetNames lists the built-in profiles.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var presets = map[string]func() *Profile{
	PresetMinimal:       minimalPreset,
	PresetStandard:      standardPreset,
	PresetComprehensive: comprehensivePreset,
}

func minimalPreset() *Profile {
	return &Profile{
		Name:        PresetMinimal,
		Description: "Build and test only, for rapid prototyping",
		Policy:      PolicyAllMustPass,
		Gates: []GateDefinition{
			{Name: "build", Command: "go", Args: []string{"build", "./..."}},
			{Name: "test", Command: "go", Args: []string{"test", "./..."}},
		},
	}
}

func standardPreset() *Profile {
	p := minimalPreset()
	p.Name = PresetStandard
	p.Description = "Build, test, vet and formatting"
	p.Gates = append(p.Gates,
		GateDefinition{Name: "vet", Command: "go", Args: []string{"vet", "./..."}},
		GateDefinition{Name: "format", Command: "gofmt", Args: []string{"-l", "."}, Criterion: CriterionEmptyOutput},
	)
	return p
}

func comprehensivePreset() *Profile {
	p := standardPreset()
	p.Name = PresetComprehensive
	p.Description = "Standard gates plus an 80% coverage floor"
	for i := range p.Gates {
		if p.Gates[i].Name == "test" {
			p.Gates[i].Args = []string{"test", "-race", "./..."}
		}
	}
	p.Gates = append(p.Gates, GateDefinition{
		Name:        "coverage",
		Command:     "sh",
		Args:        []string{"-c", "go test -coverprofile=.ralph-cover.out ./... >/dev/null && go tool cover -func=.ralph-cover.out"},
		Criterion:   CriterionCoverage,
		MinCoverage: 80,
		Timeout:     config.Duration(20 * time.Minute),
	})
	return p
}

// LoadProfile resolves ref as a preset name or a TOML file path.
func LoadProfile(ref string) (*Profile, error) {
	if ref == "" {
		ref = PresetStandard
	}
	if p, ok := Preset(ref); ok {
		return p, nil
	}
	if _, err := os.Stat(ref); err != nil {
		return nil, fmt.Errorf("quality profile %q is neither a preset (%s) nor a readable file: %w",
			ref, strings.Join(PresetNames(), ", "), err)
	}
	return LoadProfileFile(ref)
}

// LoadProfileFile decodes and validates a TOML profile:
//
//	name = "backend"
//	policy = "weighted-threshold"
//	threshold = 0.75
//
//	[[gate]]
//	name = "test"
//	command = "go"
//	args = ["test", "./..."]
//	weight = 3
func LoadProfileFile(path string) (*Profile, error) {
	var p Profile
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, fmt.Errorf("failed to decode quality profile %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("quality profile %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(pathBase(path), ".toml")
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// WriteProfile encodes p as TOML.
func WriteProfile(w io.Writer, p *Profile) error {
	if err := toml.NewEncoder(w).Encode(p); err != nil {
		return fmt.Errorf("failed to encode quality profile: %w", err)
	}
	return nil
}

func pathBase(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
