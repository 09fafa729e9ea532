package scanners

import (
	"regexp"
	"strings"

	"github.com/hydra-audit/hydra/internal/core"
)

const IntegrityID = "integrity_scanner"

var integrityOwns = map[core.VulnClass]bool{
	core.VulnReinitAttack:      true,
	core.VulnIntegerOverflow:   true,
	core.VulnUncheckedAccount:  true,
}

// initFn matches an Anchor #[instruction] style initializer function name.
var initFn = regexp.MustCompile(`fn\s+(?:initialize|init)\w*\s*\(`)
var initializedGuard = regexp.MustCompile(`is_initialized|init_if_needed|#\[account\(init\)|#\[account\(init_if_needed\)`)

// rawArith matches +, -, * on account balance/amount-shaped identifiers
// without a checked_/saturating_ qualifier.
var rawArith = regexp.MustCompile(`\b(\w*(?:amount|balance|lamports|supply)\w*)\s*[+\-*]=?\s*[^=]`)
var checkedArith = regexp.MustCompile(`checked_(?:add|sub|mul|div)|saturating_(?:add|sub|mul)`)

// IntegrityScanner detects account-lifecycle and arithmetic-safety
// anti-patterns: reinitialization, unchecked integer arithmetic, and
// accounts consumed without an ownership/type check.
type IntegrityScanner struct{}

func NewIntegrityScanner() *IntegrityScanner { return &IntegrityScanner{} }

func (s *IntegrityScanner) ID() string { return IntegrityID }

func (s *IntegrityScanner) Scan(rootAbsPath string, files []string) ([]core.Finding, error) {
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

		for _, m := range findMarkers(lines, integrityOwns) {
			findings = append(findings, s.finding(path, m.Line, m.VulnClass, snippetAround(lines, m.Line, 2)))
		}

		for _, loc := range initFn.FindAllStringIndex(content, -1) {
			line := lineOf(loc[0], content)
			window := snippetAround(lines, line, 10)
			if !initializedGuard.MatchString(window) {
				findings = append(findings, s.finding(path, line, core.VulnReinitAttack, snippetAround(lines, line, 2)))
			}
		}

		for _, loc := range rawArith.FindAllStringIndex(content, -1) {
			line := lineOf(loc[0], content)
			window := snippetAround(lines, line, 1)
			if !checkedArith.MatchString(window) {
				findings = append(findings, s.finding(path, line, core.VulnIntegerOverflow, snippetAround(lines, line, 2)))
			}
		}
	}
	return findings, nil
}

func (s *IntegrityScanner) finding(path string, line int, vc core.VulnClass, snippet string) core.Finding {
	sev, ok := markerSeverity[vc]
	if !ok {
		sev = core.SeverityMedium
	}
	conf, ok := markerConfidence[vc]
	if !ok {
		conf = 75
	}
	return core.Finding{
		ScannerID:   s.ID(),
		VulnClass:   vc,
		Severity:    sev,
		Confidence:  conf,
		File:        path,
		Line:        line,
		Title:       titleFor(vc),
		Description: descriptionFor(vc),
		Evidence:    snippet,
	}
}
