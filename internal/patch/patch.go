// Package patch implements the patch-and-review pipeline: for each
// adversarially confirmed/likely finding, ask the reasoner for a
// unified-diff remediation, apply it in memory against a copy of the
// source, re-run the finding's exploit inside a sandbox against the
// patched source, and derive a final review status. Built on the same
// bounded-concurrency-per-finding shape (golang.org/x/sync/semaphore) and
// internal/reasoner + internal/sandbox collaborators as the adversarial
// pipeline. Unified-diff hunk parsing has no well-established ecosystem
// library for exact (non-fuzzy) application; the parser in diff.go
// implements the header-offset algorithm by hand rather than pull in a
// fuzzy-patch dependency.
package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hydra-audit/hydra/internal/adversarial"
	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/reasoner"
	"github.com/hydra-audit/hydra/internal/sandbox"
)

// Status is the closed-enumeration final review outcome.
type Status string

const (
	StatusNoPatch            Status = "no_patch"
	StatusPatchedAndVerified Status = "patched_and_verified"
	StatusPatchedNeedsReview Status = "patched_needs_review"
	StatusPatchRejected      Status = "patch_rejected"
)

// DefaultConcurrency is the default number of simultaneous patch reviews.
const DefaultConcurrency = 2

const retestTimeout = 25 * time.Second

// Proposal is the reasoner's remediation output for one finding.
type Proposal struct {
	Diff  string `json:"diff"`
	Tests string `json:"tests"`
	Notes string `json:"notes"`
}

// reviewResponse is the reasoner's judgment of an applied patch.
type reviewResponse struct {
	Approved    bool   `json:"approved"`
	SkipReview  bool   `json:"skip_review"`
	Explanation string `json:"explanation"`
}

// Issue is one warning or error attached to a Result.
type Issue struct {
	Severity string `json:"severity"` // "error" | "warning"
	Message  string `json:"message"`
}

// Result is one finding's complete patch review outcome.
type Result struct {
	FindingID           string   `json:"finding_id"`
	Status              Status   `json:"status"`
	Proposal            Proposal `json:"proposal"`
	Applied             bool     `json:"applied"`
	PatchedSource       string   `json:"patched_source,omitempty"`
	ReviewApproved      bool     `json:"review_approved"`
	ExploitRetestRun    bool     `json:"exploit_retest_run"`
	ExploitStillSucceeds bool    `json:"exploit_still_succeeds"`
	Issues              []Issue  `json:"issues,omitempty"`
}

// SourceLoader reads a finding's file content for the patch prompt.
type SourceLoader func(path string) ([]byte, error)

// Pipeline runs patch generation and review over adversarially confirmed
// findings.
type Pipeline struct {
	Reasoner    reasoner.Reasoner
	Sandbox     *sandbox.Supervisor
	Concurrency int
	Profile     sandbox.Profile
}

func New(r reasoner.Reasoner) *Pipeline {
	return &Pipeline{
		Reasoner:    r,
		Sandbox:     sandbox.New(),
		Concurrency: DefaultConcurrency,
		Profile:     sandbox.ProfileGeneric,
	}
}

func (p *Pipeline) concurrency() int64 {
	if p.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return int64(p.Concurrency)
}

// Run reviews every finding that has an adversarial result, keyed on
// adversarial.Result.FindingID, matched against findings by core.Finding.ID.
// Findings with no matching adversarial result, or one that is not
// confirmed/likely, are skipped entirely (no Result is produced for them).
func (p *Pipeline) Run(ctx context.Context, findings []core.Finding, adversarialResults []adversarial.Result, loadSource SourceLoader) []Result {
	byID := map[string]core.Finding{}
	for _, f := range findings {
		byID[f.ID] = f
	}

	sem := semaphore.NewWeighted(p.concurrency())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []Result

	for _, ar := range adversarialResults {
		if ar.Verdict != adversarial.VerdictConfirmed && ar.Verdict != adversarial.VerdictLikely {
			continue
		}
		f, ok := byID[ar.FindingID]
		if !ok {
			continue
		}
		ar := ar
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			r := p.review(ctx, f, ar, loadSource)
			mu.Lock()
			out = append(out, r)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (p *Pipeline) review(ctx context.Context, f core.Finding, ar adversarial.Result, loadSource SourceLoader) Result {
	res := Result{FindingID: f.ID}

	source := ""
	if loadSource != nil {
		if b, err := loadSource(f.File); err == nil {
			source = string(b)
		}
	}

	proposal := p.proposePatch(ctx, f, ar, source)
	res.Proposal = proposal
	if strings.TrimSpace(proposal.Diff) == "" {
		res.Status = StatusNoPatch
		return res
	}

	patched, applied := ApplyUnifiedDiff(source, proposal.Diff)
	res.Applied = applied
	if !applied {
		res.Status = StatusPatchRejected
		res.Issues = append(res.Issues, Issue{Severity: "error", Message: "patch: proposed diff did not apply cleanly to the current source"})
		return res
	}
	res.PatchedSource = patched

	rr := p.reviewPatch(ctx, f, proposal, patched)
	res.ReviewApproved = rr.Approved

	exploitCode := ar.Red.ExploitCode
	if exploitCode != "" && sandbox.IsRuntimeAvailable() && sandbox.IsImageBuilt(p.Profile) {
		succeeded, ran := p.retestExploit(ctx, exploitCode, patched)
		res.ExploitRetestRun = ran
		res.ExploitStillSucceeds = succeeded
	} else if exploitCode != "" {
		res.Issues = append(res.Issues, Issue{Severity: "warning", Message: "patch: sandbox unavailable, exploit retest was skipped"})
	}

	res.Status = decideStatus(&res, rr)
	return res
}

func (p *Pipeline) proposePatch(ctx context.Context, f core.Finding, ar adversarial.Result, source string) Proposal {
	var prop Proposal
	if p.Reasoner == nil || !p.Reasoner.Available() {
		return prop
	}
	prompt := fmt.Sprintf(
		"Vulnerability %s at %s:%d.\nDescription: %s\nAttacker narrative: %s\nSource:\n%s\nRespond with JSON {diff, tests, notes} where diff is a unified diff fixing the vulnerability.",
		f.VulnClass, f.File, f.Line, f.Description, ar.Red.Narrative, source)
	raw, err := p.Reasoner.Complete(ctx, "patch", prompt)
	if err != nil {
		return prop
	}
	_ = json.Unmarshal([]byte(strings.TrimSpace(raw)), &prop)
	return prop
}

func (p *Pipeline) reviewPatch(ctx context.Context, f core.Finding, proposal Proposal, patched string) reviewResponse {
	rr := reviewResponse{}
	if p.Reasoner == nil || !p.Reasoner.Available() {
		rr.SkipReview = true
		return rr
	}
	prompt := fmt.Sprintf(
		"Finding %s. Proposed diff:\n%s\nPatched source:\n%s\nRespond with JSON {approved, skip_review, explanation}.",
		f.VulnClass, proposal.Diff, patched)
	raw, err := p.Reasoner.Complete(ctx, "review", prompt)
	if err != nil {
		rr.SkipReview = true
		return rr
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rr); err != nil {
		rr.SkipReview = true
	}
	return rr
}

// retestExploit runs the original exploit against the patched source in a
// fresh sandbox session. succeeded reports whether the exploit still
// worked (exit code 0); ran reports whether the retest actually executed.
func (p *Pipeline) retestExploit(ctx context.Context, exploitCode, patchedSource string) (succeeded bool, ran bool) {
	if p.Sandbox == nil {
		return false, false
	}
	session, err := p.Sandbox.Create(ctx, p.Profile, "", "")
	if err != nil {
		return false, false
	}
	defer session.Destroy(ctx)

	if err := session.WriteFile(ctx, "/workspace/patched.rs", []byte(patchedSource)); err != nil {
		return false, false
	}
	if err := session.WriteFile(ctx, "/workspace/exploit.ts", []byte(exploitCode)); err != nil {
		return false, false
	}
	result, err := session.Exec(ctx, []string{"node", "/workspace/exploit.ts"}, retestTimeout)
	if err != nil {
		return false, false
	}
	return result.ExitCode == 0, true
}

// decideStatus applies the final status decision tree.
func decideStatus(res *Result, rr reviewResponse) Status {
	if res.ExploitRetestRun && res.ExploitStillSucceeds && rr.Approved {
		res.Issues = append(res.Issues, Issue{Severity: "error", Message: "patch: reviewer approved the patch but the exploit still succeeds against the patched source; overriding to rejected"})
		return StatusPatchRejected
	}
	if res.ExploitRetestRun && res.ExploitStillSucceeds {
		res.Issues = append(res.Issues, Issue{Severity: "error", Message: "patch: exploit still succeeds against the patched source"})
		return StatusPatchRejected
	}
	if rr.SkipReview {
		return StatusPatchedNeedsReview
	}
	if !rr.Approved {
		return StatusPatchRejected
	}
	return StatusPatchedAndVerified
}
