package scanners

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hydra-audit/hydra/internal/aggregator"
	"github.com/hydra-audit/hydra/internal/core"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

// TestAccountValidationMarkerScenario verifies a single
// HYDRA_VULN:missing_signer_check marker on line 42 survives aggregation
// as exactly one finding with severity=high, confidence=88.
func TestAccountValidationMarkerScenario(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 41)
	for i := range lines {
		lines[i] = "// filler"
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	content += "pub fn transfer(ctx: Context<Transfer>) -> Result<()> { // HYDRA_VULN:missing_signer_check\n"
	path := writeFixture(t, dir, "lib.rs", content)

	s := NewAccountValidationScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	agg, err := aggregator.Aggregate(findings, aggregator.Options{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(agg) != 1 {
		t.Fatalf("expected exactly 1 finding, got %d: %+v", len(agg), agg)
	}
	f := agg[0]
	if f.Line != 42 {
		t.Fatalf("expected line 42, got %d", f.Line)
	}
	if f.Severity != core.SeverityHigh {
		t.Fatalf("expected severity high, got %s", f.Severity)
	}
	if f.Confidence != 88 {
		t.Fatalf("expected confidence 88, got %d", f.Confidence)
	}
}

func TestAccountValidationHeuristicUnsignedMut(t *testing.T) {
	dir := t.TempDir()
	content := "#[account(mut)]\npub authority: Account<'info, TokenAccount>,\n"
	path := writeFixture(t, dir, "ctx.rs", content)

	s := NewAccountValidationScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 heuristic finding, got %d", len(findings))
	}
	if findings[0].VulnClass != core.VulnMissingSignerCheck {
		t.Fatalf("expected missing_signer_check, got %s", findings[0].VulnClass)
	}
}

func TestCPIBumpArbitraryInvoke(t *testing.T) {
	dir := t.TempDir()
	content := "fn go() {\n    invoke(&ix, &accounts)?;\n}\n"
	path := writeFixture(t, dir, "cpi.rs", content)

	s := NewCPIBumpScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 1 || findings[0].VulnClass != core.VulnArbitraryCPI {
		t.Fatalf("expected 1 arbitrary_cpi finding, got %+v", findings)
	}
}

func TestCPIBumpGuardedInvokeSuppressed(t *testing.T) {
	dir := t.TempDir()
	content := "fn go() {\n    require_keys_eq!(program.key(), expected_id);\n    invoke(&ix, &accounts)?;\n}\n"
	path := writeFixture(t, dir, "cpi_ok.rs", content)

	s := NewCPIBumpScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings when program id is checked, got %+v", findings)
	}
}

func TestCPIBumpNonCanonicalBump(t *testing.T) {
	dir := t.TempDir()
	content := "fn derive(bump: u8) {\n    let pda = Pubkey::create_program_address(&[b\"seed\", &[bump]], &id())?;\n}\n"
	path := writeFixture(t, dir, "bump.rs", content)

	s := NewCPIBumpScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 1 || findings[0].VulnClass != core.VulnNonCanonicalBump {
		t.Fatalf("expected 1 non_canonical_bump finding, got %+v", findings)
	}
}

func TestIntegrityMissingInitGuard(t *testing.T) {
	dir := t.TempDir()
	content := "pub fn initialize(ctx: Context<Init>) -> Result<()> {\n    ctx.accounts.state.value = 0;\n    Ok(())\n}\n"
	path := writeFixture(t, dir, "init.rs", content)

	s := NewIntegrityScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 1 || findings[0].VulnClass != core.VulnReinitAttack {
		t.Fatalf("expected 1 reinitialization finding, got %+v", findings)
	}
}

func TestIntegrityRawArithFlagged(t *testing.T) {
	dir := t.TempDir()
	content := "fn transfer(amount: u64) {\n    self.balance += amount;\n}\n"
	path := writeFixture(t, dir, "math.rs", content)

	s := NewIntegrityScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	found := false
	for _, f := range findings {
		if f.VulnClass == core.VulnIntegerOverflow {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an integer_overflow finding, got %+v", findings)
	}
}

func TestIntegrityCheckedArithSuppressed(t *testing.T) {
	dir := t.TempDir()
	content := "fn transfer(amount: u64) {\n    self.balance = self.balance.checked_add(amount).unwrap();\n}\n"
	path := writeFixture(t, dir, "math_ok.rs", content)

	s := NewIntegrityScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings for checked arithmetic, got %+v", findings)
	}
}

func TestDeterministicSignalsSQLInjection(t *testing.T) {
	dir := t.TempDir()
	content := "db.Query(\"SELECT * FROM users WHERE id = \" + userID)\n"
	path := writeFixture(t, dir, "handler.go", content)

	s := NewDeterministicSignalsScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 1 || findings[0].VulnClass != core.VulnSQLInjection {
		t.Fatalf("expected 1 sql_injection finding, got %+v", findings)
	}
}

func TestDeterministicSignalsHardcodedSecret(t *testing.T) {
	dir := t.TempDir()
	content := "apiKey = \"sk-abcdefghijklmnopqrstuvwx\"\n"
	path := writeFixture(t, dir, "config.py", content)

	s := NewDeterministicSignalsScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 1 || findings[0].VulnClass != core.VulnHardcodedSecret {
		t.Fatalf("expected 1 hardcoded_secret finding, got %+v", findings)
	}
}

func TestDeterministicSignalsCleanFileNoFindings(t *testing.T) {
	dir := t.TempDir()
	content := "func add(a, b int) int {\n    return a + b\n}\n"
	path := writeFixture(t, dir, "clean.go", content)

	s := NewDeterministicSignalsScanner()
	findings, err := s.Scan(dir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings in a clean file, got %+v", findings)
	}
}

func TestRuleScannerCustomPattern(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	if err := os.MkdirAll(rulesDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	rulesYAML := "rules:\n" +
		"  - id: no-todo-secrets\n" +
		"    vuln_class: hardcoded_secret\n" +
		"    severity: high\n" +
		"    confidence: 90\n" +
		"    pattern: 'TODO_SECRET'\n" +
		"    enabled: true\n"
	writeFixture(t, rulesDir, "custom.yaml", rulesYAML)

	rules, err := LoadRules(rulesDir)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	srcDir := t.TempDir()
	path := writeFixture(t, srcDir, "leak.txt", "value := TODO_SECRET\n")

	rs := NewRuleScanner(rules)
	findings, err := rs.Scan(srcDir, []string{path})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(findings) != 1 || findings[0].VulnClass != core.VulnHardcodedSecret {
		t.Fatalf("expected 1 hardcoded_secret finding from custom rule, got %+v", findings)
	}
}

func TestLoadRulesRejectsUnknownVulnClass(t *testing.T) {
	dir := t.TempDir()
	rulesYAML := "rules:\n" +
		"  - id: bad\n" +
		"    vuln_class: not_a_real_class\n" +
		"    pattern: 'x'\n" +
		"    enabled: true\n"
	writeFixture(t, dir, "bad.yaml", rulesYAML)

	if _, err := LoadRules(dir); err == nil {
		t.Fatalf("expected an error for an unknown vuln_class")
	}
}

func TestLoadRulesEmptyDirIsNotAnError(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("expected no error for empty rulesDir, got %v", err)
	}
	if rules != nil {
		t.Fatalf("expected nil rules, got %+v", rules)
	}
}
