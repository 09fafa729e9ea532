package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/dispatcher"
	"github.com/hydra-audit/hydra/internal/reasoner"
)

// LLMFocuses is the fixed set of vulnerability focuses that each get one
// dispatcher task, appended only when a Reasoner is Available.
var LLMFocuses = []core.VulnClass{
	core.VulnMissingSignerCheck,
	core.VulnArbitraryCPI,
	core.VulnReinitAttack,
	core.VulnIntegerOverflow,
}

const llmFocusScannerPrefix = "llm_focus"

// llmFinding is the schema a Reasoner's raw text response must parse into.
// The Reasoner interface itself is untyped text-in-text-out (see
// internal/reasoner); this is where the caller enforces its own schema.
type llmFinding struct {
	File        string `json:"file"`
	Line        int    `json:"line"`
	Confidence  int    `json:"confidence"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
}

// BuildLLMFocusTasks appends one dispatcher.Task per focus vuln class when r
// is available, each budgeted at dispatcher.LLMTimeout. Callers append these
// to the tasks produced from the built-in Scanners before calling
// Dispatcher.Run.
func BuildLLMFocusTasks(r reasoner.Reasoner, root string, files []string) []dispatcher.Task {
	if r == nil || !r.Available() {
		return nil
	}
	tasks := make([]dispatcher.Task, 0, len(LLMFocuses))
	for _, focus := range LLMFocuses {
		focus := focus
		id := fmt.Sprintf("%s:%s", llmFocusScannerPrefix, focus)
		tasks = append(tasks, dispatcher.Task{
			AgentID: id,
			Timeout: dispatcher.LLMTimeout,
			Execute: func(ctx context.Context) ([]core.Finding, error) {
				return runLLMFocus(ctx, r, id, focus, root, files)
			},
		})
	}
	return tasks
}

func runLLMFocus(ctx context.Context, r reasoner.Reasoner, scannerID string, focus core.VulnClass, root string, files []string) ([]core.Finding, error) {
	prompt := buildFocusPrompt(focus, root, files)
	raw, err := r.Complete(ctx, "scanner:"+string(focus), prompt)
	if err != nil {
		return nil, err
	}
	parsed, err := parseLLMFindings(raw)
	if err != nil {
		return nil, fmt.Errorf("scanners: reasoner response for %s did not match expected schema: %w", focus, err)
	}

	findings := make([]core.Finding, 0, len(parsed))
	for _, lf := range parsed {
		if lf.Confidence <= 0 || lf.Confidence > 99 || lf.File == "" {
			continue
		}
		findings = append(findings, core.Finding{
			ScannerID:   scannerID,
			VulnClass:   focus,
			Severity:    markerSeverity[focus],
			Confidence:  lf.Confidence,
			File:        lf.File,
			Line:        lf.Line,
			Title:       lf.Title,
			Description: lf.Description,
			Evidence:    lf.Evidence,
		})
	}
	return findings, nil
}

func buildFocusPrompt(focus core.VulnClass, root string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the following files under %s for instances of %s. ", root, focus)
	b.WriteString("Respond with a JSON array of objects: {file, line, confidence (0-99), title, description, evidence}.\n")
	for _, f := range files {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	return b.String()
}

func parseLLMFindings(raw string) ([]llmFinding, error) {
	var out []llmFinding
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return nil, err
	}
	return out, nil
}
