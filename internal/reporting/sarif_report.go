package reporting

import (
	"encoding/json"

	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/orchestrator"
)

var sarifSeverityMap = map[core.Severity]string{
	core.SeverityCritical: "error",
	core.SeverityHigh:     "error",
	core.SeverityMedium:   "warning",
	core.SeverityLow:      "note",
}

// GenerateSARIFReport renders report as a SARIF 2.1.0 document, one rule
// per vuln_class and one result per finding.
func GenerateSARIFReport(report *orchestrator.Report) (string, error) {
	rulesMap := make(map[string]map[string]any)
	var resultsList []map[string]any

	for _, f := range report.Findings {
		ruleID := string(f.VulnClass)
		if _, exists := rulesMap[ruleID]; !exists {
			rulesMap[ruleID] = map[string]any{
				"id":               ruleID,
				"name":             f.Title,
				"shortDescription": map[string]string{"text": f.Title},
				"fullDescription":  map[string]string{"text": f.Description},
				"defaultConfiguration": map[string]string{
					"level": sarifSeverityLevel(f.Severity),
				},
			}
		}

		region := map[string]any{"startLine": f.Line}
		if f.Evidence != "" {
			region["snippet"] = map[string]string{"text": f.Evidence}
		}

		resultsList = append(resultsList, map[string]any{
			"ruleId":  ruleID,
			"level":   sarifSeverityLevel(f.Severity),
			"message": map[string]string{"text": f.Description},
			"locations": []map[string]any{
				{
					"physicalLocation": map[string]any{
						"artifactLocation": map[string]string{"uri": f.File},
						"region":           region,
					},
				},
			},
			"properties": map[string]any{
				"confidence": f.Confidence,
				"scanner_id": f.ScannerID,
			},
		})
	}

	rules := make([]map[string]any, 0, len(rulesMap))
	for _, r := range rulesMap {
		rules = append(rules, r)
	}

	sarif := map[string]any{
		"$schema": "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		"version": "2.1.0",
		"runs": []map[string]any{
			{
				"tool": map[string]any{
					"driver": map[string]any{
						"name":    "hydra",
						"version": "0.1.0",
						"rules":   rules,
					},
				},
				"results": resultsList,
				"properties": map[string]any{
					"target_path":     report.Target.RootPath,
					"mode":            report.Target.Mode,
					"threat_model_id": report.ThreatModel.VersionID,
				},
			},
		},
	}

	data, err := json.MarshalIndent(sarif, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sarifSeverityLevel(s core.Severity) string {
	if level, ok := sarifSeverityMap[s]; ok {
		return level
	}
	return "note"
}
