package scanners

import (
	"regexp"

	"github.com/hydra-audit/hydra/internal/core"
)

const DeterministicSignalsID = "deterministic_signals_scanner"

var deterministicSignalsOwns = map[core.VulnClass]bool{
	core.VulnSQLInjection:      true,
	core.VulnCommandInjection:  true,
	core.VulnHardcodedSecret:   true,
	core.VulnUnsafeDeserial:    true,
	core.VulnPathTraversal:     true,
}

// signalPattern is one entry in the deterministic signals table, a
// table-driven pattern -> vuln class -> confidence idiom generalized to
// general-purpose static analysis signals independent of any single
// source language.
type signalPattern struct {
	Class      core.VulnClass
	Pattern    *regexp.Regexp
	Confidence int
}

var signalTable = []signalPattern{
	{core.VulnSQLInjection, regexp.MustCompile(`(?i)(?:query|exec)\s*\(\s*(?:"|` + "`" + `)?\s*(?:SELECT|INSERT|UPDATE|DELETE)[^)]*\+`), 72},
	{core.VulnSQLInjection, regexp.MustCompile(`(?i)fmt\.Sprintf\([^)]*(?:SELECT|INSERT|UPDATE|DELETE)`), 68},
	{core.VulnCommandInjection, regexp.MustCompile(`(?:os/exec\.Command|subprocess\.(?:call|Popen|run)|child_process\.exec)\s*\([^)]*\+`), 75},
	{core.VulnCommandInjection, regexp.MustCompile(`sh\s+-c\s+.*\$\{`), 65},
	{core.VulnHardcodedSecret, regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*["'][A-Za-z0-9+/_\-]{16,}["']`), 70},
	{core.VulnHardcodedSecret, regexp.MustCompile(`-----BEGIN (?:RSA |EC )?PRIVATE KEY-----`), 95},
	{core.VulnUnsafeDeserial, regexp.MustCompile(`(?:pickle\.loads|yaml\.load\(|unserialize\(|ObjectInputStream)`), 60},
	{core.VulnPathTraversal, regexp.MustCompile(`(?:filepath\.Join|os\.Open|path\.Join)\([^)]*(?:r\.URL|req\.|params\[|request\.)`), 55},
}

// DeterministicSignalsScanner applies language-agnostic static heuristics
// that do not require Anchor/Solana domain knowledge. It is the
// always-scheduled adapter run alongside the three domain scanners.
type DeterministicSignalsScanner struct{}

func NewDeterministicSignalsScanner() *DeterministicSignalsScanner {
	return &DeterministicSignalsScanner{}
}

func (s *DeterministicSignalsScanner) ID() string { return DeterministicSignalsID }

func (s *DeterministicSignalsScanner) Scan(rootAbsPath string, files []string) ([]core.Finding, error) {
	var findings []core.Finding
	for _, path := range files {
		lines, err := readLines(path)
		if err != nil {
			continue
		}

		for _, m := range findMarkers(lines, deterministicSignalsOwns) {
			findings = append(findings, core.Finding{
				ScannerID:   s.ID(),
				VulnClass:   m.VulnClass,
				Severity:    signalSeverity(m.VulnClass),
				Confidence:  signalMarkerConfidence(m.VulnClass),
				File:        path,
				Line:        m.Line,
				Title:       titleFor(m.VulnClass),
				Description: descriptionFor(m.VulnClass),
				Evidence:    snippetAround(lines, m.Line, 2),
			})
		}

		for i, line := range lines {
			for _, sp := range signalTable {
				if sp.Pattern.MatchString(line) {
					findings = append(findings, core.Finding{
						ScannerID:   s.ID(),
						VulnClass:   sp.Class,
						Severity:    signalSeverity(sp.Class),
						Confidence:  sp.Confidence,
						File:        path,
						Line:        i + 1,
						Title:       titleFor(sp.Class),
						Description: descriptionFor(sp.Class),
						Evidence:    snippetAround(lines, i+1, 1),
					})
				}
			}
		}
	}
	return findings, nil
}

func signalSeverity(vc core.VulnClass) core.Severity {
	switch vc {
	case core.VulnSQLInjection, core.VulnCommandInjection, core.VulnHardcodedSecret:
		return core.SeverityHigh
	case core.VulnUnsafeDeserial:
		return core.SeverityMedium
	case core.VulnPathTraversal:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}

func signalMarkerConfidence(vc core.VulnClass) int {
	for _, sp := range signalTable {
		if sp.Class == vc {
			return sp.Confidence
		}
	}
	return 70
}
