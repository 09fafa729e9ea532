// Package reporting renders an orchestrator.Report in the three formats
// the CLI's report subcommand supports: json, sarif, markdown. Built on a
// json.MarshalIndent pass-through for JSON and manual SARIF 2.1.0 tree
// construction for SARIF, both retargeted to orchestrator.Report/
// core.Finding.
package reporting

import (
	"encoding/json"

	"github.com/hydra-audit/hydra/internal/orchestrator"
)

// GenerateJSONReport renders report as indented JSON.
func GenerateJSONReport(report *orchestrator.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GenerateJSONSummary renders a concise summary without per-stage detail.
func GenerateJSONSummary(report *orchestrator.Report) (string, error) {
	bySeverity := map[string]int{}
	for _, f := range report.Findings {
		bySeverity[string(f.Severity)]++
	}

	summary := map[string]any{
		"target_path":       report.Target.RootPath,
		"mode":              report.Target.Mode,
		"threat_model_id":   report.ThreatModel.VersionID,
		"total_findings":    len(report.Findings),
		"findings_by_severity": bySeverity,
		"agent_run_count":   len(report.AgentRuns),
		"policy_blocked":    report.PolicyBlocked,
		"duration_ms":       report.DurationMs,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
