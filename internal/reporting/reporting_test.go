package reporting

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hydra-audit/hydra/internal/adversarial"
	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/orchestrator"
	"github.com/hydra-audit/hydra/internal/patch"
	"github.com/hydra-audit/hydra/internal/threatmodel"
)

func makeReport() *orchestrator.Report {
	finding := core.Finding{
		ID:          core.ID("signer_check", core.VulnMissingSignerCheck, "/repo/programs/vault/src/lib.rs", 42),
		ScannerID:   "signer_check",
		VulnClass:   core.VulnMissingSignerCheck,
		Severity:    core.SeverityHigh,
		Confidence:  80,
		File:        "/repo/programs/vault/src/lib.rs",
		Line:        42,
		Title:       "Missing signer check on withdraw",
		Description: "The withdraw instruction does not verify that the authority account signed the transaction.",
		Evidence:    "pub fn withdraw(ctx: Context<Withdraw>) -> Result<()> {",
	}

	return &orchestrator.Report{
		Target: core.ScanTarget{RootPath: "/repo", Mode: core.ModeFull},
		ThreatModel: threatmodel.Version{
			VersionID: "tm-001",
			RepoID:    "repo-001",
			Revision:  3,
		},
		Findings: []core.Finding{finding},
		AdversarialResults: []adversarial.Result{
			{FindingID: finding.ID, Verdict: adversarial.VerdictConfirmed},
		},
		PatchResults: []patch.Result{
			{FindingID: finding.ID, Status: patch.StatusPatchedAndVerified},
		},
		StartedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		DurationMs:  1000,
	}
}

func TestGenerateJSONReportIsValidAndContainsFinding(t *testing.T) {
	report := makeReport()
	out, err := GenerateJSONReport(report)
	if err != nil {
		t.Fatalf("GenerateJSONReport: %v", err)
	}
	if !strings.Contains(out, "Missing signer check on withdraw") {
		t.Fatalf("expected report to contain the finding title")
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
}

func TestGenerateJSONSummaryCountsBySeverity(t *testing.T) {
	report := makeReport()
	out, err := GenerateJSONSummary(report)
	if err != nil {
		t.Fatalf("GenerateJSONSummary: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if parsed["total_findings"].(float64) != 1 {
		t.Fatalf("expected total_findings=1, got %v", parsed["total_findings"])
	}
	bySeverity, ok := parsed["findings_by_severity"].(map[string]any)
	if !ok || bySeverity["high"].(float64) != 1 {
		t.Fatalf("expected one high-severity finding, got %v", parsed["findings_by_severity"])
	}
}

func TestGenerateSARIFReportHasOneRuleAndOneResult(t *testing.T) {
	report := makeReport()
	out, err := GenerateSARIFReport(report)
	if err != nil {
		t.Fatalf("GenerateSARIFReport: %v", err)
	}
	if !strings.Contains(out, "2.1.0") {
		t.Fatalf("expected SARIF version 2.1.0 in output")
	}
	var sarif map[string]any
	if err := json.Unmarshal([]byte(out), &sarif); err != nil {
		t.Fatalf("SARIF output is not valid JSON: %v", err)
	}
	runs := sarif["runs"].([]any)
	driver := runs[0].(map[string]any)["tool"].(map[string]any)["driver"].(map[string]any)
	rules := driver["rules"].([]any)
	if len(rules) != 1 {
		t.Fatalf("expected exactly one rule, got %d", len(rules))
	}
	results := runs[0].(map[string]any)["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected exactly one result, got %d", len(results))
	}
}

func TestSarifSeverityLevelMapsKnownSeverities(t *testing.T) {
	cases := map[core.Severity]string{
		core.SeverityCritical: "error",
		core.SeverityHigh:     "error",
		core.SeverityMedium:   "warning",
		core.SeverityLow:      "note",
	}
	for sev, want := range cases {
		if got := sarifSeverityLevel(sev); got != want {
			t.Errorf("sarifSeverityLevel(%s) = %s, want %s", sev, got, want)
		}
	}
}

func TestGenerateMarkdownReportIncludesFindingAndVerdicts(t *testing.T) {
	report := makeReport()
	out := GenerateMarkdownReport(report)
	if !strings.Contains(out, "Missing signer check on withdraw") {
		t.Fatalf("expected markdown report to contain the finding title")
	}
	if !strings.Contains(out, "missing_signer_check") {
		t.Fatalf("expected markdown report to contain the vuln class")
	}
	if !strings.Contains(out, string(adversarial.VerdictConfirmed)) {
		t.Fatalf("expected markdown report to contain the adversarial verdict")
	}
	if !strings.Contains(out, string(patch.StatusPatchedAndVerified)) {
		t.Fatalf("expected markdown report to contain the patch status")
	}
}

func TestGenerateMarkdownReportNoFindings(t *testing.T) {
	report := makeReport()
	report.Findings = nil
	out := GenerateMarkdownReport(report)
	if !strings.Contains(out, "No findings.") {
		t.Fatalf("expected a no-findings message, got: %s", out)
	}
}

func TestGenerateMarkdownReportPolicyBlocked(t *testing.T) {
	report := makeReport()
	report.PolicyBlocked = true
	report.PolicyReason = "forbidden file pattern touched"
	out := GenerateMarkdownReport(report)
	if !strings.Contains(out, "forbidden file pattern touched") {
		t.Fatalf("expected markdown report to surface the policy block reason")
	}
}
