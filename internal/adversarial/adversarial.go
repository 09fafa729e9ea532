// Package adversarial implements the three-role debate pipeline: red team,
// blue team, and judge, run strictly sequentially per finding but
// bounded-concurrently across findings. Built on dispatcher.Dispatcher's
// semaphore.Weighted bounded-fan-out idiom, generalized from "N independent
// tasks" to "N independent three-stage pipelines", and on internal/reasoner
// + internal/sandbox for the two external collaborators each debate
// consumes.
package adversarial

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/reasoner"
	"github.com/hydra-audit/hydra/internal/sandbox"
)

// Verdict is the judge's closed-enumeration outcome.
type Verdict string

const (
	VerdictConfirmed     Verdict = "confirmed"
	VerdictLikely        Verdict = "likely"
	VerdictDisputed      Verdict = "disputed"
	VerdictFalsePositive Verdict = "false_positive"
)

// DefaultMinAdversarialConfidence is the eligibility gate below which a
// finding skips debate entirely.
const DefaultMinAdversarialConfidence = 50

// DefaultConcurrency is the default number of simultaneous debates.
const DefaultConcurrency = 2

const exploitTimeout = 25 * time.Second

// RedTeamResult is the attacker role's output.
type RedTeamResult struct {
	Narrative       string   `json:"narrative"`
	AttackSteps     []string `json:"attack_steps"`
	ExploitCode     string   `json:"exploit_code"`
	EconomicImpact  string   `json:"economic_impact"`
	// Exploitable is the red team's own verdict on whether the attack it
	// narrated actually works, independent of Confidence: a red team can
	// be highly confident in its own analysis while still concluding the
	// path is not exploitable (e.g. a guard elsewhere neutralizes it).
	Exploitable     bool   `json:"exploitable"`
	Reason          string `json:"reason"`
	Confidence      int    `json:"confidence"`
	SandboxExecuted bool   `json:"sandbox_executed"`
	SandboxExitCode int    `json:"sandbox_exit_code"`
	SandboxOutput   string `json:"sandbox_output"`
}

// BlueTeamResult is the defender role's output.
type BlueTeamResult struct {
	Mitigations            []string `json:"mitigations"`
	Reachable              bool     `json:"reachable"`
	ReachabilityReasoning  string   `json:"reachability_reasoning"`
	EnvironmentProtections []string `json:"environment_protections"`
	EconomicallyFeasible   bool     `json:"economically_feasible"`
	// OverallRiskReduction is the blue team's estimate, in [0,100], of how
	// much the listed mitigations and environment protections reduce the
	// red team's narrative down from a fully unmitigated exploit.
	OverallRiskReduction int    `json:"overall_risk_reduction"`
	Recommendation       string `json:"recommendation"` // confirmed | mitigated | infeasible
}

// Result is one finding's complete AdversarialResult: always produced with
// explanatory reasoning, even when a role fails.
type Result struct {
	FindingID      string         `json:"finding_id"`
	Verdict        Verdict        `json:"verdict"`
	FinalSeverity  core.Severity  `json:"final_severity"`
	FinalConfidence int           `json:"final_confidence"`
	Reasoning      string         `json:"reasoning"`
	// EvidenceSummary is the judge's own recap of the specific red/blue
	// evidence the verdict turned on, distinct from Reasoning's narrative
	// explanation of the verdict itself.
	EvidenceSummary string         `json:"evidence_summary"`
	Red             RedTeamResult  `json:"red"`
	Blue            BlueTeamResult `json:"blue"`
	Errors          []string       `json:"errors,omitempty"`
}

// SourceLoader reads the content of a finding's file for the red team
// prompt. It is a narrow seam so tests do not need a real filesystem tree.
type SourceLoader func(path string) ([]byte, error)

// Pipeline runs the adversarial protocol over a set of findings.
type Pipeline struct {
	Reasoner      reasoner.Reasoner
	Sandbox       *sandbox.Supervisor
	Concurrency   int
	MinConfidence int
	Profile       sandbox.Profile
}

func New(r reasoner.Reasoner) *Pipeline {
	return &Pipeline{
		Reasoner:      r,
		Sandbox:       sandbox.New(),
		Concurrency:   DefaultConcurrency,
		MinConfidence: DefaultMinAdversarialConfidence,
		Profile:       sandbox.ProfileGeneric,
	}
}

func (p *Pipeline) concurrency() int64 {
	if p.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return int64(p.Concurrency)
}

func (p *Pipeline) minConfidence() int {
	if p.MinConfidence <= 0 {
		return DefaultMinAdversarialConfidence
	}
	return p.MinConfidence
}

// Run debates every eligible finding (confidence >= gate) and returns one
// Result per eligible finding, in no particular order guarantee beyond
// "one per input finding that passed the gate".
func (p *Pipeline) Run(ctx context.Context, findings []core.Finding, loadSource SourceLoader) []Result {
	sem := semaphore.NewWeighted(p.concurrency())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []Result

	for _, f := range findings {
		if f.Confidence < p.minConfidence() {
			continue
		}
		f := f
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			r := p.debate(ctx, f, loadSource)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (p *Pipeline) debate(ctx context.Context, f core.Finding, loadSource SourceLoader) Result {
	res := Result{FindingID: f.ID, FinalSeverity: f.Severity, FinalConfidence: f.Confidence}

	source := ""
	if loadSource != nil {
		if b, err := loadSource(f.File); err == nil {
			source = string(b)
		}
	}

	red := p.runRedTeam(ctx, f, source)
	res.Red = red

	blue := p.runBlueTeam(ctx, f, red)
	res.Blue = blue

	verdict, severity, confidence, reasoning, evidenceSummary, err := p.runJudge(ctx, f, red, blue)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		verdict, severity, confidence, reasoning = inferVerdict(red, blue, f)
		evidenceSummary = reasoning
	}
	res.Verdict = verdict
	res.FinalSeverity = severity
	res.FinalConfidence = confidence
	res.Reasoning = reasoning
	res.EvidenceSummary = evidenceSummary
	return res
}

func (p *Pipeline) runRedTeam(ctx context.Context, f core.Finding, source string) RedTeamResult {
	var red RedTeamResult
	assessed := false
	if p.Reasoner != nil && p.Reasoner.Available() {
		prompt := fmt.Sprintf("Vulnerability %s at %s:%d.\nDescription: %s\nSource:\n%s\nRespond with JSON {narrative, attack_steps, exploit_code, economic_impact, exploitable, reason, confidence} where exploitable is your own verdict on whether the attack works and reason briefly explains it.",
			f.VulnClass, f.File, f.Line, f.Description, source)
		if raw, err := p.Reasoner.Complete(ctx, "red_team", prompt); err == nil {
			if json.Unmarshal([]byte(strings.TrimSpace(raw)), &red) == nil {
				assessed = true
			}
		}
	}
	if red.Confidence <= 0 {
		red.Confidence = f.Confidence
	}
	// With no red team assessment to go on (reasoner unavailable, or its
	// response failed to parse), fall back to assuming exploitable so the
	// deterministic rule in inferVerdict still has a signal to act on.
	if !assessed {
		red.Exploitable = true
	}

	if red.ExploitCode != "" && p.Sandbox != nil && sandbox.IsRuntimeAvailable() && sandbox.IsImageBuilt(p.Profile) {
		session, err := p.Sandbox.Create(ctx, p.Profile, "", "")
		if err == nil {
			defer session.Destroy(ctx)
			if writeErr := session.WriteFile(ctx, "/workspace/exploit.ts", []byte(red.ExploitCode)); writeErr == nil {
				result, execErr := session.Exec(ctx, []string{"node", "/workspace/exploit.ts"}, exploitTimeout)
				if execErr == nil {
					red.SandboxExecuted = true
					red.SandboxExitCode = result.ExitCode
					red.SandboxOutput = truncate(string(result.Stdout), 4096)
				}
			}
		}
	}
	return red
}

func (p *Pipeline) runBlueTeam(ctx context.Context, f core.Finding, red RedTeamResult) BlueTeamResult {
	var blue BlueTeamResult
	if p.Reasoner != nil && p.Reasoner.Available() {
		prompt := fmt.Sprintf("Finding %s. Attacker narrative: %s. Sandbox executed=%v exit=%d.\nRespond with JSON {mitigations, reachable, reachability_reasoning, environment_protections, economically_feasible, overall_risk_reduction, recommendation} where recommendation is one of confirmed, mitigated, infeasible and overall_risk_reduction is 0-100.",
			f.VulnClass, red.Narrative, red.SandboxExecuted, red.SandboxExitCode)
		if raw, err := p.Reasoner.Complete(ctx, "blue_team", prompt); err == nil {
			_ = json.Unmarshal([]byte(strings.TrimSpace(raw)), &blue)
		}
	}
	if blue.Recommendation == "" {
		// No blue team read at all: assume the worst case, that the
		// finding still stands unmitigated and feasible.
		blue.Recommendation = "confirmed"
	}
	blue.OverallRiskReduction = clampPercent(blue.OverallRiskReduction)
	return blue
}

// clampPercent bounds a reasoner-supplied percentage into [0,100].
func clampPercent(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

type judgeResponse struct {
	Verdict         string `json:"verdict"`
	FinalSeverity   string `json:"final_severity"`
	FinalConfidence int    `json:"final_confidence"`
	Reasoning       string `json:"reasoning"`
	EvidenceSummary string `json:"evidence_summary"`
}

func (p *Pipeline) runJudge(ctx context.Context, f core.Finding, red RedTeamResult, blue BlueTeamResult) (Verdict, core.Severity, int, string, string, error) {
	if p.Reasoner == nil || !p.Reasoner.Available() {
		return "", "", 0, "", "", reasoner.ErrUnavailable
	}
	prompt := fmt.Sprintf("Red: %+v\nBlue: %+v\nRespond with JSON {verdict, final_severity, final_confidence, reasoning, evidence_summary} where evidence_summary recaps the specific red/blue evidence the verdict turned on.", red, blue)
	raw, err := p.Reasoner.Complete(ctx, "judge", prompt)
	if err != nil {
		return "", "", 0, "", "", err
	}
	var jr judgeResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &jr); err != nil {
		return "", "", 0, "", "", fmt.Errorf("adversarial: judge response did not parse: %w", err)
	}
	sev := core.Severity(jr.FinalSeverity)
	if !sev.Valid() {
		sev = f.Severity
	}
	if jr.Verdict == "" {
		return "", "", 0, "", "", fmt.Errorf("adversarial: judge produced an empty verdict")
	}
	return Verdict(jr.Verdict), sev, jr.FinalConfidence, jr.Reasoning, jr.EvidenceSummary, nil
}

// inferVerdict is the deterministic fallback rule applied when the
// external reasoner fails to produce a parseable verdict.
func inferVerdict(red RedTeamResult, blue BlueTeamResult, f core.Finding) (Verdict, core.Severity, int, string) {
	switch {
	case red.SandboxExecuted && red.SandboxExitCode == 0:
		return VerdictConfirmed, f.Severity, f.Confidence, "deterministic rule: sandbox-executed exploit exited 0"
	case red.Exploitable && red.Confidence >= 70:
		return VerdictLikely, f.Severity, f.Confidence, "deterministic rule: red team assessed exploitable with confidence >= 70"
	case blue.Recommendation == "mitigated":
		return VerdictDisputed, f.Severity, f.Confidence, "deterministic rule: blue team recommends mitigated"
	case blue.Recommendation == "infeasible":
		return VerdictFalsePositive, f.Severity, f.Confidence, "deterministic rule: blue team recommends infeasible"
	default:
		return VerdictLikely, f.Severity, f.Confidence, "deterministic rule: default to likely"
	}
}

// Filter returns only confirmed/likely findings from results, matched
// against the original findings by id, with severity and confidence
// replaced by the judge's values.
func Filter(findings []core.Finding, results []Result) []core.Finding {
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.FindingID] = r
	}
	var out []core.Finding
	for _, f := range findings {
		r, ok := byID[f.ID]
		if !ok || (r.Verdict != VerdictConfirmed && r.Verdict != VerdictLikely) {
			continue
		}
		f.Severity = r.FinalSeverity
		f.Confidence = r.FinalConfidence
		out = append(out, f)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
