package secrets

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber redacts secrets from text.
type Scrubber interface {
	// Scrub returns content with every detected secret replaced.
	Scrub(content string) *Result
	// Check reports findings without redacting.
	Check(content string) *Result
	IsEnabled() bool
}

// New builds a Scrubber. A nil cfg uses DefaultConfig.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return NoopScrubber{}, nil
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	redaction := cfg.Redaction
	if redaction == "" {
		redaction = DefaultRedaction
	}
	return &scrubber{rules: rules, allow: allow, redaction: redaction, deep: cfg.Deep}, nil
}

// MustNew is New that panics on an invalid config.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

type scrubber struct {
	rules     []*compiledRule
	allow     []*regexp.Regexp
	redaction string
	deep      bool

	detectorOnce sync.Once
	detector     *detect.Detector
}

type span struct {
	start, end int
}

func (s *scrubber) IsEnabled() bool { return true }

func (s *scrubber) Check(content string) *Result {
	res, _ := s.find(content)
	res.Scrubbed = content
	return res
}

func (s *scrubber) Scrub(content string) *Result {
	res, spans := s.find(content)
	if len(spans) == 0 {
		res.Scrubbed = content
		return res
	}

	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, sp := range merge(spans) {
		b.WriteString(content[last:sp.start])
		b.WriteString(s.redaction)
		last = sp.end
	}
	b.WriteString(content[last:])
	res.Scrubbed = b.String()
	return res
}

func (s *scrubber) find(content string) (*Result, []span) {
	res := &Result{ByRule: map[string]int{}}
	var spans []span
	add := func(ruleID string, start, end int) {
		if start < 0 || end > len(content) || start >= end || s.allowed(content[start:end]) {
			return
		}
		res.Findings = append(res.Findings, Finding{
			RuleID: ruleID,
			Start:  start,
			End:    end,
			Line:   strings.Count(content[:start], "\n") + 1,
		})
		res.ByRule[ruleID]++
		spans = append(spans, span{start, end})
	}

	for _, r := range s.rules {
		if !r.applies(content) {
			continue
		}
		for _, m := range r.pattern.FindAllStringIndex(content, -1) {
			add(r.ID, m[0], m[1])
		}
	}

	if s.deep {
		if d := s.gitleaks(); d != nil {
			for _, f := range d.DetectString(content) {
				if f.Secret == "" {
					continue
				}
				for off := 0; ; {
					i := strings.Index(content[off:], f.Secret)
					if i < 0 {
						break
					}
					add(f.RuleID, off+i, off+i+len(f.Secret))
					off += i + len(f.Secret)
				}
			}
		}
	}
	return res, spans
}

// gitleaks lazily builds the default detector; it is nil when the embedded
// rule set fails to load, in which case only the regexp rules apply.
func (s *scrubber) gitleaks() *detect.Detector {
	s.detectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err == nil {
			s.detector = d
		}
	})
	return s.detector
}

func (s *scrubber) allowed(match string) bool {
	for _, a := range s.allow {
		if a.MatchString(match) {
			return true
		}
	}
	return false
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping ones.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(content string) *Result { return &Result{Scrubbed: content} }
func (NoopScrubber) Check(content string) *Result { return &Result{Scrubbed: content} }
func (NoopScrubber) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
