package scanners

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hydra-audit/hydra/internal/core"
)

// AccountValidationID is the scanner id that appears (possibly fused with
// others) in the emitted finding's scanner_id.
const AccountValidationID = "account_validation_scanner"

// accountValidationOwns is the set of vuln classes this scanner reports.
var accountValidationOwns = map[core.VulnClass]bool{
	core.VulnMissingSignerCheck: true,
	core.VulnMissingOwnerCheck:  true,
}

// markerConfidence gives each vuln class the confidence a marker-confirmed
// finding is emitted at. A single uncorroborated scanner's confidence
// passes through the aggregator unchanged.
var markerConfidence = map[core.VulnClass]int{
	core.VulnMissingSignerCheck: 88,
	core.VulnMissingOwnerCheck:  84,
	core.VulnArbitraryCPI:       85,
	core.VulnNonCanonicalBump:   80,
	core.VulnPDASeedCollision:   80,
	core.VulnReinitAttack:       83,
	core.VulnIntegerOverflow:    78,
}

var markerSeverity = map[core.VulnClass]core.Severity{
	core.VulnMissingSignerCheck: core.SeverityHigh,
	core.VulnMissingOwnerCheck:  core.SeverityHigh,
	core.VulnArbitraryCPI:       core.SeverityHigh,
	core.VulnNonCanonicalBump:   core.SeverityMedium,
	core.VulnPDASeedCollision:   core.SeverityMedium,
	core.VulnReinitAttack:       core.SeverityHigh,
	core.VulnIntegerOverflow:    core.SeverityMedium,
}

// unsignedMutAccount is a light heuristic, a pattern-matching idiom
// generalized to Anchor account-validation anti-patterns: an
// #[account(mut)] field whose declared type has
// neither "Signer" nor a same-struct "has_one"/"constraint" guard on the
// following line is a plausible missing-signer-check.
var unsignedMutAccount = regexp.MustCompile(`(?m)#\[account\(mut\)\]\s*\n\s*pub\s+\w+\s*:\s*(?:Account|AccountInfo|UncheckedAccount)<'info,`)

// AccountValidationScanner detects Solana/Anchor account-validation gaps:
// missing signer checks and missing owner checks.
type AccountValidationScanner struct{}

func NewAccountValidationScanner() *AccountValidationScanner {
	return &AccountValidationScanner{}
}

func (s *AccountValidationScanner) ID() string { return AccountValidationID }

func (s *AccountValidationScanner) Scan(rootAbsPath string, files []string) ([]core.Finding, error) {
	var findings []core.Finding
	for _, path := range files {
		if !isRustSource(path) {
			continue
		}
		lines, err := readLines(path)
		if err != nil {
			continue // unreadable file: skip, do not fail the whole scanner
		}
		content := strings.Join(lines, "\n")

		for _, m := range findMarkers(lines, accountValidationOwns) {
			findings = append(findings, s.finding(path, m.Line, m.VulnClass, snippetAround(lines, m.Line, 2)))
		}

		for _, loc := range unsignedMutAccount.FindAllStringIndex(content, -1) {
			line := lineOf(loc[0], content)
			findings = append(findings, s.finding(path, line, core.VulnMissingSignerCheck, snippetAround(lines, line, 2)))
		}
	}
	return findings, nil
}

func (s *AccountValidationScanner) finding(path string, line int, vc core.VulnClass, snippet string) core.Finding {
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

func isRustSource(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".rs")
}

func titleFor(vc core.VulnClass) string {
	switch vc {
	case core.VulnMissingSignerCheck:
		return "Missing signer check"
	case core.VulnMissingOwnerCheck:
		return "Missing owner check"
	case core.VulnArbitraryCPI:
		return "Arbitrary cross-program invocation"
	case core.VulnNonCanonicalBump:
		return "Non-canonical PDA bump"
	case core.VulnPDASeedCollision:
		return "PDA seed collision"
	case core.VulnReinitAttack:
		return "Account reinitialization"
	case core.VulnIntegerOverflow:
		return "Unchecked integer arithmetic"
	case core.VulnUncheckedAccount:
		return "Unchecked account"
	case core.VulnSQLInjection:
		return "SQL injection"
	case core.VulnCommandInjection:
		return "Command injection"
	case core.VulnHardcodedSecret:
		return "Hardcoded secret"
	case core.VulnUnsafeDeserial:
		return "Unsafe deserialization"
	case core.VulnPathTraversal:
		return "Path traversal"
	default:
		return string(vc)
	}
}

func descriptionFor(vc core.VulnClass) string {
	switch vc {
	case core.VulnMissingSignerCheck:
		return "An account used in a privileged instruction is not constrained to be a Signer, allowing an attacker to substitute an arbitrary account."
	case core.VulnMissingOwnerCheck:
		return "An account is deserialized without verifying its owner program, allowing a spoofed account to be accepted."
	case core.VulnArbitraryCPI:
		return "A cross-program invocation target is not checked against an expected program id, allowing substitution of a malicious program."
	case core.VulnNonCanonicalBump:
		return "A PDA is derived with create_program_address using a caller-supplied bump instead of the canonical find_program_address bump."
	case core.VulnPDASeedCollision:
		return "PDA seeds do not sufficiently disambiguate accounts, allowing seed collision between unrelated instructions."
	case core.VulnReinitAttack:
		return "An account initialization instruction lacks an is_initialized guard, allowing state to be reinitialized after first use."
	case core.VulnIntegerOverflow:
		return "Arithmetic on account balances or amounts is not performed with checked/saturating operations."
	case core.VulnUncheckedAccount:
		return "An AccountInfo is passed through an instruction without a type or ownership check before use."
	case core.VulnSQLInjection:
		return "A SQL statement is built by string concatenation or formatting of untrusted input instead of a parameterized query."
	case core.VulnCommandInjection:
		return "A shell command is built from untrusted input and passed to a command executor."
	case core.VulnHardcodedSecret:
		return "A credential or private key is embedded directly in source rather than loaded from a secret store or environment."
	case core.VulnUnsafeDeserial:
		return "Untrusted data is passed to a deserializer capable of executing arbitrary code or objects."
	case core.VulnPathTraversal:
		return "A filesystem path is built from untrusted request input without normalization or containment checks."
	default:
		return "Potential vulnerability detected."
	}
}
