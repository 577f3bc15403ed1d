package quality

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	// go tool cover -func: "total:  (statements)  81.2%"
	goCoverTotal = regexp.MustCompile(`(?m)^total:\s+\(statements\)\s+(\d+(?:\.\d+)?)%`)
	// go test -cover: "coverage: 81.2% of statements", one per package.
	goTestCover = regexp.MustCompile(`coverage:\s*(\d+(?:\.\d+)?)%\s+of statements`)

	genericCoverage = []*regexp.Regexp{
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%\s*coverage`),
		regexp.MustCompile(`TOTAL\s+.*?(\d+(?:\.\d+)?)\s*%`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%\s*$`),
	}
)

// ParseCoverage extracts a coverage percentage from tool output.
//
// Recognized forms, in order: a Go cover func total line, go test -cover
// package lines (the lowest package wins), llvm-cov JSON, and the generic
// "NN% coverage", "TOTAL ... NN%" and trailing "NN%" forms.
func ParseCoverage(output string) (float64, bool) {
	if m := goCoverTotal.FindStringSubmatch(output); m != nil {
		return parsePercent(m[1])
	}

	if ms := goTestCover.FindAllStringSubmatch(output, -1); len(ms) > 0 {
		lowest, found := 0.0, false
		for _, m := range ms {
			if v, ok := parsePercent(m[1]); ok && (!found || v < lowest) {
				lowest, found = v, true
			}
		}
		if found {
			return lowest, true
		}
	}

	if v, ok := parseLLVMCovJSON(output); ok {
		return v, true
	}

	trimmed := strings.TrimSpace(output)
	for _, re := range genericCoverage {
		if m := re.FindStringSubmatch(trimmed); m != nil {
			if v, ok := parsePercent(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// parseLLVMCovJSON reads data[0].totals.lines.percent.
func parseLLVMCovJSON(output string) (float64, bool) {
	trimmed := strings.TrimSpace(output)
	if !strings.HasPrefix(trimmed, "{") {
		return 0, false
	}
	var doc struct {
		Data []struct {
			Totals struct {
				Lines struct {
					Percent *float64 `json:"percent"`
				} `json:"lines"`
			} `json:"totals"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return 0, false
	}
	if len(doc.Data) == 0 || doc.Data[0].Totals.Lines.Percent == nil {
		return 0, false
	}
	return *doc.Data[0].Totals.Lines.Percent, true
}

func parsePercent(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
