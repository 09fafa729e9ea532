package reporting

import (
	"fmt"
	"strings"

	"github.com/hydra-audit/hydra/internal/orchestrator"
)

// GenerateMarkdownReport renders report as a human-readable markdown
// document: a summary table followed by one section per finding, in the
// order orchestrator.Engine.Scan produced them (severity descending, then
// confidence descending).
func GenerateMarkdownReport(report *orchestrator.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Hydra scan report\n\n")
	fmt.Fprintf(&b, "- **Target**: `%s`\n", report.Target.RootPath)
	fmt.Fprintf(&b, "- **Mode**: %s\n", report.Target.Mode)
	fmt.Fprintf(&b, "- **Threat model**: %s (revision %d)\n", report.ThreatModel.VersionID, report.ThreatModel.Revision)
	fmt.Fprintf(&b, "- **Duration**: %dms\n", report.DurationMs)
	fmt.Fprintf(&b, "- **Findings**: %d\n\n", len(report.Findings))

	if report.PolicyBlocked {
		fmt.Fprintf(&b, "> **Blocked by policy**: %s\n\n", report.PolicyReason)
	}

	if len(report.Findings) == 0 {
		b.WriteString("No findings.\n")
		return b.String()
	}

	adversarialByFinding := map[string]string{}
	for _, ar := range report.AdversarialResults {
		adversarialByFinding[ar.FindingID] = string(ar.Verdict)
	}
	patchByFinding := map[string]string{}
	for _, pr := range report.PatchResults {
		patchByFinding[pr.FindingID] = string(pr.Status)
	}

	for i, f := range report.Findings {
		fmt.Fprintf(&b, "## %d. %s (%s, confidence %d)\n\n", i+1, f.Title, f.Severity, f.Confidence)
		fmt.Fprintf(&b, "- **Vulnerability class**: `%s`\n", f.VulnClass)
		fmt.Fprintf(&b, "- **Location**: `%s:%d`\n", f.File, f.Line)
		fmt.Fprintf(&b, "- **Scanner**: %s\n", f.ScannerID)
		if verdict, ok := adversarialByFinding[f.ID]; ok {
			fmt.Fprintf(&b, "- **Adversarial verdict**: %s\n", verdict)
		}
		if status, ok := patchByFinding[f.ID]; ok {
			fmt.Fprintf(&b, "- **Patch status**: %s\n", status)
		}
		fmt.Fprintf(&b, "\n%s\n\n", f.Description)
		if f.Evidence != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n\n", f.Evidence)
		}
	}

	return b.String()
}
