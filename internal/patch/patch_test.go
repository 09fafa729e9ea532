package patch

import (
	"context"
	"testing"

	"github.com/hydra-audit/hydra/internal/adversarial"
	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/reasoner"
)

type scriptedReasoner struct {
	responses map[string]string
}

func (r *scriptedReasoner) Available() bool { return true }

func (r *scriptedReasoner) Complete(ctx context.Context, role, prompt string) (string, error) {
	return r.responses[role], nil
}

func mkFinding() core.Finding {
	return core.Finding{
		ID:        "f1",
		ScannerID: "s1",
		VulnClass: core.VulnMissingSignerCheck,
		Severity:  core.SeverityHigh,
		File:      "/repo/lib.rs",
		Line:      1,
	}
}

func mkAdversarialResult(exploitCode string) adversarial.Result {
	return adversarial.Result{
		FindingID: "f1",
		Verdict:   adversarial.VerdictConfirmed,
		Red:       adversarial.RedTeamResult{ExploitCode: exploitCode},
	}
}

func loader(content string) SourceLoader {
	return func(path string) ([]byte, error) { return []byte(content), nil }
}

func TestRunSkipsFindingsWithoutConfirmedOrLikelyVerdict(t *testing.T) {
	p := New(reasoner.Null{})
	ar := adversarial.Result{FindingID: "f1", Verdict: adversarial.VerdictDisputed}
	out := p.Run(context.Background(), []core.Finding{mkFinding()}, []adversarial.Result{ar}, nil)
	if len(out) != 0 {
		t.Fatalf("expected disputed verdicts to be skipped, got %d results", len(out))
	}
}

func TestRunNoPatchWhenReasonerUnavailable(t *testing.T) {
	p := New(reasoner.Null{})
	out := p.Run(context.Background(), []core.Finding{mkFinding()}, []adversarial.Result{mkAdversarialResult("")}, loader("fn main() {}\n"))
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Status != StatusNoPatch {
		t.Fatalf("expected no_patch status, got %s", out[0].Status)
	}
}

func TestRunPatchRejectedWhenDiffDoesNotApply(t *testing.T) {
	r := &scriptedReasoner{responses: map[string]string{
		"patch": `{"diff":"@@ -5,1 +5,1 @@\n-nonexistent\n+fixed\n"}`,
	}}
	p := New(r)
	out := p.Run(context.Background(), []core.Finding{mkFinding()}, []adversarial.Result{mkAdversarialResult("")}, loader("line1\nline2\n"))
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Status != StatusPatchRejected {
		t.Fatalf("expected patch_rejected when the diff does not apply, got %s", out[0].Status)
	}
	if len(out[0].Issues) == 0 {
		t.Fatalf("expected an issue explaining the rejection")
	}
}

func TestRunPatchedNeedsReviewWhenReviewSkipped(t *testing.T) {
	r := &scriptedReasoner{responses: map[string]string{
		"patch":  `{"diff":"@@ -1,1 +1,1 @@\n-line1\n+line1-fixed\n"}`,
		"review": ``,
	}}
	p := New(r)
	out := p.Run(context.Background(), []core.Finding{mkFinding()}, []adversarial.Result{mkAdversarialResult("")}, loader("line1\nline2\n"))
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Status != StatusPatchedNeedsReview {
		t.Fatalf("expected patched_needs_review when the reviewer's response fails to parse, got %s", out[0].Status)
	}
	if out[0].PatchedSource != "line1-fixed\nline2\n" {
		t.Fatalf("unexpected patched source: %q", out[0].PatchedSource)
	}
}

func TestRunPatchedAndVerifiedWhenApproved(t *testing.T) {
	r := &scriptedReasoner{responses: map[string]string{
		"patch":  `{"diff":"@@ -1,1 +1,1 @@\n-line1\n+line1-fixed\n"}`,
		"review": `{"approved":true}`,
	}}
	p := New(r)
	out := p.Run(context.Background(), []core.Finding{mkFinding()}, []adversarial.Result{mkAdversarialResult("")}, loader("line1\nline2\n"))
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Status != StatusPatchedAndVerified {
		t.Fatalf("expected patched_and_verified, got %s", out[0].Status)
	}
}

func TestRunPatchRejectedWhenReviewerDeclines(t *testing.T) {
	r := &scriptedReasoner{responses: map[string]string{
		"patch":  `{"diff":"@@ -1,1 +1,1 @@\n-line1\n+line1-fixed\n"}`,
		"review": `{"approved":false,"explanation":"does not fully address the root cause"}`,
	}}
	p := New(r)
	out := p.Run(context.Background(), []core.Finding{mkFinding()}, []adversarial.Result{mkAdversarialResult("")}, loader("line1\nline2\n"))
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Status != StatusPatchRejected {
		t.Fatalf("expected patch_rejected when the reviewer declines, got %s", out[0].Status)
	}
}

func TestDecideStatusOverridesApprovalWhenExploitStillSucceeds(t *testing.T) {
	res := &Result{ExploitRetestRun: true, ExploitStillSucceeds: true}
	got := decideStatus(res, reviewResponse{Approved: true})
	if got != StatusPatchRejected {
		t.Fatalf("expected an LLM approval to be overridden to patch_rejected when the exploit still succeeds, got %s", got)
	}
	if len(res.Issues) != 1 || res.Issues[0].Severity != "error" {
		t.Fatalf("expected exactly one error issue recording the override, got %v", res.Issues)
	}
}
