package scanners

import (
	"os"
	"regexp"
	"strings"

	"github.com/hydra-audit/hydra/internal/core"
)

// markerRE recognizes the "HYDRA_VULN:<vuln_class>" fixture convention
// used to pin down exact scanner output for tests and golden repos. Real
// detection heuristics live alongside it in
// each domain scanner; the marker gives deterministic ground truth for a
// line a human (or a golden-repo fixture) has already annotated.
var markerRE = regexp.MustCompile(`HYDRA_VULN:([a-z_]+)`)

// marker is one recognized annotation in a source file.
type marker struct {
	Line      int
	VulnClass core.VulnClass
}

// readLines reads a file and splits it into lines. Each scanner calls it
// for every file it scans.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}

// findMarkers scans lines for HYDRA_VULN: annotations belonging to any of
// the given classes.
func findMarkers(lines []string, owned map[core.VulnClass]bool) []marker {
	var out []marker
	for i, line := range lines {
		m := markerRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		vc := core.VulnClass(m[1])
		if owned == nil || owned[vc] {
			out = append(out, marker{Line: i + 1, VulnClass: vc})
		}
	}
	return out
}

func lineOf(offset int, content string) int {
	return strings.Count(content[:offset], "\n") + 1
}

func snippetAround(lines []string, line int, radius int) string {
	start := line - 1 - radius
	if start < 0 {
		start = 0
	}
	end := line - 1 + radius + 1
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}
