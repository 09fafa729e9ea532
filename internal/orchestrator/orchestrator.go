// Package orchestrator ties every pipeline stage into a fixed order:
// resolve target, load-or-create the threat model, dispatch scanners,
// aggregate findings, optionally run the adversarial debate, optionally
// run patch review, and stamp timings. Built on a
// "resolve -> run engines -> aggregate -> report" shape, generalized with
// a diff-mode short-circuit, threat-model attachment, and adversarial/
// patch stages.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hydra-audit/hydra/internal/adversarial"
	"github.com/hydra-audit/hydra/internal/aggregator"
	"github.com/hydra-audit/hydra/internal/cache"
	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/dispatcher"
	"github.com/hydra-audit/hydra/internal/diffresolver"
	"github.com/hydra-audit/hydra/internal/patch"
	"github.com/hydra-audit/hydra/internal/reasoner"
	"github.com/hydra-audit/hydra/internal/scanners"
	"github.com/hydra-audit/hydra/internal/threatmodel"
)

// PolicyGate is an optional governance decision point evaluated after
// aggregation but before the adversarial/patch stages. Returning ok=false
// halts the run with reason as the failure message.
type PolicyGate func(findings []core.Finding) (ok bool, reason string)

// Report is the complete output of one orchestrated scan.
type Report struct {
	Target            core.ScanTarget      `json:"target"`
	ThreatModel       threatmodel.Version  `json:"threat_model"`
	Findings          []core.Finding       `json:"findings"`
	AgentRuns         []core.AgentRun      `json:"agent_runs"`
	AdversarialResults []adversarial.Result `json:"adversarial_results,omitempty"`
	PatchResults      []patch.Result       `json:"patch_results,omitempty"`
	PolicyBlocked     bool                 `json:"policy_blocked,omitempty"`
	PolicyReason      string               `json:"policy_reason,omitempty"`
	StartedAt         time.Time            `json:"started_at"`
	CompletedAt       time.Time            `json:"completed_at"`
	DurationMs        int64                `json:"duration_ms"`
}

// Engine wires every stage together. Reasoner may be reasoner.Null{} to run
// with LLM-backed scanning/adversarial/patch stages degraded off.
type Engine struct {
	Reasoner   reasoner.Reasoner
	Cache      cache.Cache
	Dispatcher *dispatcher.Dispatcher
	ThreatModel *threatmodel.Store
	Rules      []scanners.Rule

	RunAdversarial bool
	RunPatch       bool
	Policy         PolicyGate

	MinUncorroboratedConfidence int
}

// New builds an Engine with the dispatcher/aggregator baseline defaults.
func New(r reasoner.Reasoner) *Engine {
	return &Engine{
		Reasoner:    r,
		Dispatcher:  dispatcher.New(dispatcher.DefaultMaxConcurrent),
		ThreatModel: threatmodel.New(),
	}
}

// Scan runs the full pipeline for target and returns the assembled Report.
func (e *Engine) Scan(ctx context.Context, target core.ScanTarget) (Report, error) {
	started := time.Now().UTC()
	report := Report{Target: target, StartedAt: started}

	if err := validateTarget(target); err != nil {
		return report, err
	}

	changedFiles, err := diffresolver.Resolve(ctx, target)
	if err != nil {
		return report, err
	}

	tmTarget := threatmodel.Target{
		RootPath:     target.RootPath,
		Mode:         string(target.Mode),
		ChangedFiles: changedFiles,
	}
	if target.Diff != nil {
		tmTarget.BaseRef = target.Diff.BaseRef
		tmTarget.HeadRef = target.Diff.HeadRef
	}
	tmResult, err := e.ThreatModel.LoadOrCreate(ctx, tmTarget)
	if err != nil {
		return report, fmt.Errorf("orchestrator: threat model: %w", err)
	}
	report.ThreatModel = tmResult.Version

	eligible := eligibleFiles(target, changedFiles, tmResult.Version.Summary.SourceFiles)
	if target.Mode == core.ModeDiff && len(eligible) == 0 {
		report.CompletedAt = time.Now().UTC()
		report.DurationMs = report.CompletedAt.Sub(started).Milliseconds()
		return report, nil
	}

	tasks := e.buildTasks(eligible, target.RootPath)
	dres := e.Dispatcher.Run(ctx, tasks)
	report.AgentRuns = dres.Runs

	agg, err := aggregator.Aggregate(dres.Findings, aggregator.Options{MinUncorroboratedConfidence: e.MinUncorroboratedConfidence})
	if err != nil {
		return report, fmt.Errorf("orchestrator: aggregate: %w", err)
	}
	if target.Mode == core.ModeDiff {
		agg = filterToChangedFiles(agg, eligible)
	}
	report.Findings = agg

	if e.Policy != nil {
		if ok, reason := e.Policy(agg); !ok {
			report.PolicyBlocked = true
			report.PolicyReason = reason
			report.CompletedAt = time.Now().UTC()
			report.DurationMs = report.CompletedAt.Sub(started).Milliseconds()
			return report, nil
		}
	}

	loadSource := func(path string) ([]byte, error) { return os.ReadFile(path) }

	if e.RunAdversarial && len(agg) > 0 {
		advPipeline := adversarial.New(e.Reasoner)
		results := advPipeline.Run(ctx, agg, loadSource)
		report.AdversarialResults = results
		report.Findings = adversarial.Filter(agg, results)

		if e.RunPatch && len(results) > 0 {
			patchPipeline := patch.New(e.Reasoner)
			report.PatchResults = patchPipeline.Run(ctx, agg, results, loadSource)
		}
	}

	report.CompletedAt = time.Now().UTC()
	report.DurationMs = report.CompletedAt.Sub(started).Milliseconds()
	return report, nil
}

func validateTarget(target core.ScanTarget) error {
	if target.RootPath == "" {
		return core.ErrRootPathRequired
	}
	info, err := os.Stat(target.RootPath)
	if err != nil || !info.IsDir() {
		return core.ErrInvalidTarget
	}
	if target.Mode != core.ModeFull && target.Mode != core.ModeDiff {
		return core.ErrInvalidMode
	}
	return nil
}

// eligibleFiles resolves which files the scanners actually run against:
// the resolved diff set in diff mode, or the threat model's full source
// file list (bounded by threatmodel.MaxSourceFiles) in full mode. This is
// deliberately not Summary.ScanScopeFiles, which threatmodel truncates
// further (threatmodel.MaxScopeFiles) for the attack-surface summary and
// is far too small a sample for an actual full-repository scan.
func eligibleFiles(target core.ScanTarget, changedFiles, sourceFiles []string) []string {
	if target.Mode == core.ModeDiff {
		return changedFiles
	}
	return sourceFiles
}

func filterToChangedFiles(findings []core.Finding, changed []string) []core.Finding {
	set := make(map[string]bool, len(changed))
	for _, f := range changed {
		set[f] = true
	}
	var out []core.Finding
	for _, f := range findings {
		if set[f.File] {
			out = append(out, f)
		}
	}
	return out
}

// buildTasks constructs the fixed dispatcher queue: the always-scheduled
// domain scanners plus rule-based and LLM-focus tasks when configured.
func (e *Engine) buildTasks(files []string, root string) []dispatcher.Task {
	builtins := []scanners.Scanner{
		scanners.NewAccountValidationScanner(),
		scanners.NewCPIBumpScanner(),
		scanners.NewIntegrityScanner(),
		scanners.NewDeterministicSignalsScanner(),
	}
	if len(e.Rules) > 0 {
		builtins = append(builtins, scanners.NewRuleScanner(e.Rules))
	}

	tasks := make([]dispatcher.Task, 0, len(builtins)+len(scanners.LLMFocuses))
	for _, sc := range builtins {
		sc := sc
		tasks = append(tasks, dispatcher.Task{
			AgentID: sc.ID(),
			Execute: func(ctx context.Context) ([]core.Finding, error) {
				return e.scanWithCache(sc, root, files)
			},
		})
	}

	if e.Reasoner != nil && e.Reasoner.Available() {
		tasks = append(tasks, scanners.BuildLLMFocusTasks(e.Reasoner, root, files)...)
	}
	return tasks
}

// scanWithCache wraps a Scanner's Scan with the optional per-file result
// cache: each file is looked up individually so that only the files a
// scanner has never seen (at this content hash) are actually rescanned.
// Files here are always absolute (diffresolver returns absolute paths, and
// the threat model's source file list comes from walking the root path).
func (e *Engine) scanWithCache(sc scanners.Scanner, root string, files []string) ([]core.Finding, error) {
	if e.Cache == nil {
		return sc.Scan(root, files)
	}

	var toScan []string
	var cached []core.Finding
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			toScan = append(toScan, f)
			continue
		}
		if hits, ok := e.Cache.Lookup(context.Background(), sc.ID(), f, data); ok {
			cached = append(cached, hits...)
			continue
		}
		toScan = append(toScan, f)
	}

	fresh, err := sc.Scan(root, toScan)
	if err != nil {
		return nil, err
	}

	byFile := map[string][]core.Finding{}
	for _, f := range fresh {
		byFile[f.File] = append(byFile[f.File], f)
	}
	for _, f := range toScan {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		_ = e.Cache.Put(context.Background(), sc.ID(), f, data, byFile[f], cache.DefaultTTL)
	}

	return append(cached, fresh...), nil
}
