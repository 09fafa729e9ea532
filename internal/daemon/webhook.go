package daemon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hydra-audit/hydra/internal/core"
)

// githubPullRequestEvent is the narrow subset of GitHub's pull_request
// webhook payload the webhook trigger variant needs.
type githubPullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
}

// githubPushEvent is the narrow subset of GitHub's push webhook payload.
type githubPushEvent struct {
	Ref        string `json:"ref"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Repository struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
}

// handleGitHubWebhook verifies the HMAC-SHA256 signature over the raw
// body with timing-safe equality, acknowledges the request, and schedules
// a fire-and-forget diff scan: the response is sent before work begins.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "could not read request body")
		return
	}
	sig := r.Header.Get("X-Hub-Signature-256")
	if !verifyGitHubSignature(s.cfg.WebhookSecret, body, sig) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	var target core.ScanTarget
	var fullName string
	var ok bool

	switch event {
	case "pull_request":
		var pr githubPullRequestEvent
		if err := json.Unmarshal(body, &pr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		if pr.Action != "opened" && pr.Action != "synchronize" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		fullName = pr.Repository.FullName
		target, ok = s.webhookTarget(fullName, pr.PullRequest.Base.Ref, pr.PullRequest.Head.Ref)
	case "push":
		var push githubPushEvent
		if err := json.Unmarshal(body, &push); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		if push.Ref != "refs/heads/"+push.Repository.DefaultBranch {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		fullName = push.Repository.FullName
		target, ok = s.webhookTarget(fullName, push.Before, push.After)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if !ok {
		writeError(w, http.StatusForbidden, "path_not_allowed", "repository is outside the configured webhook checkout root")
		return
	}

	run := Run{
		ID:         uuid.NewString(),
		Trigger:    "webhook:" + event,
		TargetPath: target.RootPath,
		Mode:       target.Mode,
		BaseRef:    target.Diff.BaseRef,
		HeadRef:    target.Diff.HeadRef,
		Status:     RunQueued,
		CreatedAt:  time.Now().UTC(),
	}
	s.store.Save(run)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "run_id": run.ID})

	go s.execute(run.ID, target)
}

// webhookTarget resolves a repository full_name to a local checkout under
// WebhookReposDir and builds the diff-mode ScanTarget for baseRef..headRef.
func (s *Server) webhookTarget(fullName, baseRef, headRef string) (core.ScanTarget, bool) {
	if s.cfg.WebhookReposDir == "" || fullName == "" {
		return core.ScanTarget{}, false
	}
	root, err := canonicalizeTargetPath(filepath.Join(s.cfg.WebhookReposDir, fullName))
	if err != nil {
		return core.ScanTarget{}, false
	}
	if len(s.cfg.AllowedPaths) > 0 && !underAllowList(root, s.cfg.AllowedPaths) {
		return core.ScanTarget{}, false
	}
	return core.ScanTarget{
		RootPath: root,
		Mode:     core.ModeDiff,
		Diff:     &core.DiffScope{BaseRef: baseRef, HeadRef: headRef},
	}, true
}

// verifyGitHubSignature checks header (the "sha256=<hex>" value of
// X-Hub-Signature-256) against an HMAC-SHA256 of body keyed by secret,
// using constant-time comparison over the decoded MAC.
func verifyGitHubSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if secret == "" || len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	sum := hmac.New(sha256.New, []byte(secret))
	sum.Write(body)
	expected := sum.Sum(nil)

	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	return hmac.Equal(got, expected)
}
