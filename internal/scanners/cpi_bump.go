package scanners

import (
	"regexp"
	"strings"

	"github.com/hydra-audit/hydra/internal/core"
)

const CPIBumpID = "cpi_bump_scanner"

var cpiBumpOwns = map[core.VulnClass]bool{
	core.VulnArbitraryCPI:     true,
	core.VulnNonCanonicalBump: true,
	core.VulnPDASeedCollision: true,
}

// invokeCall matches an invoke()/invoke_signed() call; the call is flagged
// when programIDCheck finds no comparison against a known program id in the
// surrounding lines.
var invokeCall = regexp.MustCompile(`\binvoke(?:_signed)?\s*\(`)
var programIDCheck = regexp.MustCompile(`\.key\(\)\s*==|program_id\s*==|require_keys_eq!`)

// createProgramAddress matches a create_program_address call; it is flagged
// as a non-canonical bump when findProgramAddress does not appear in the
// surrounding lines.
var createProgramAddress = regexp.MustCompile(`create_program_address\s*\(\s*&\[`)
var findProgramAddress = regexp.MustCompile(`find_program_address`)

// CPIBumpScanner detects cross-program-invocation and PDA-derivation
// anti-patterns: arbitrary CPI targets, non-canonical bump usage, and PDA
// seed collisions.
type CPIBumpScanner struct{}

func NewCPIBumpScanner() *CPIBumpScanner { return &CPIBumpScanner{} }

func (s *CPIBumpScanner) ID() string { return CPIBumpID }

func (s *CPIBumpScanner) Scan(rootAbsPath string, files []string) ([]core.Finding, error) {
	var findings []core.Finding
	for _, path := range files {
		if !isRustSource(path) {
			continue
		}
		lines, err := readLines(path)
		if err != nil {
			continue
		}
		content := strings.Join(lines, "\n")

		for _, m := range findMarkers(lines, cpiBumpOwns) {
			findings = append(findings, s.finding(path, m.Line, m.VulnClass, snippetAround(lines, m.Line, 2)))
		}

		for _, loc := range invokeCall.FindAllStringIndex(content, -1) {
			line := lineOf(loc[0], content)
			window := snippetAround(lines, line, 5)
			if !programIDCheck.MatchString(window) {
				findings = append(findings, s.finding(path, line, core.VulnArbitraryCPI, snippetAround(lines, line, 2)))
			}
		}

		for _, loc := range createProgramAddress.FindAllStringIndex(content, -1) {
			line := lineOf(loc[0], content)
			window := snippetAround(lines, line, 8)
			if !findProgramAddress.MatchString(window) {
				findings = append(findings, s.finding(path, line, core.VulnNonCanonicalBump, snippetAround(lines, line, 2)))
			}
		}
	}
	return findings, nil
}

func (s *CPIBumpScanner) finding(path string, line int, vc core.VulnClass, snippet string) core.Finding {
	return core.Finding{
		ScannerID:   s.ID(),
		VulnClass:   vc,
		Severity:    markerSeverity[vc],
		Confidence:  markerConfidence[vc],
		File:        path,
		Line:        line,
		Title:       titleFor(vc),
		Description: descriptionFor(vc),
		Evidence:    snippet,
	}
}
