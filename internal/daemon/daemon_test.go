package daemon

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hydra-audit/hydra/internal/governance"
	"github.com/hydra-audit/hydra/internal/orchestrator"
	"github.com/hydra-audit/hydra/internal/reasoner"
)

func newTestServer(t *testing.T, token string, allowed []string) *Server {
	t.Helper()
	s, err := New(Config{Token: token, AllowedPaths: allowed, AllowInsecureDefaults: token == ""}, orchestrator.New(reasoner.Null{}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRequiresAuthOrInsecureDefault(t *testing.T) {
	if _, err := New(Config{}, orchestrator.New(reasoner.Null{}), nil); err != ErrInsecureConfig {
		t.Fatalf("expected ErrInsecureConfig, got %v", err)
	}
	if _, err := New(Config{AllowInsecureDefaults: true}, orchestrator.New(reasoner.Null{}), nil); err != nil {
		t.Fatalf("expected insecure-defaults opt-in to succeed, got %v", err)
	}
}

func TestHealthzAlwaysOkWithoutAuth(t *testing.T) {
	s := newTestServer(t, "secret", nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestTriggerRejectsMissingBearerToken(t *testing.T) {
	s := newTestServer(t, "secret", nil)
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestTriggerMissingTargetPathIs400(t *testing.T) {
	s := newTestServer(t, "secret", nil)
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] != "missing_target_path" {
		t.Fatalf("expected missing_target_path error code, got %v", body)
	}
}

func TestTriggerPathNotAllowedIs403(t *testing.T) {
	allowedRoot := t.TempDir()
	otherRoot := t.TempDir()
	s := newTestServer(t, "secret", []string{allowedRoot})

	body, _ := json.Marshal(map[string]string{"target_path": otherRoot})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTriggerHeadRefWithoutBaseRefIs400(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, "secret", nil)

	body, _ := json.Marshal(map[string]any{"target_path": root, "mode": "diff", "head_ref": "feature"})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTriggerAcceptedAndRunBecomesQueryable(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "lib.rs"), []byte("fn main() {}\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s := newTestServer(t, "secret", nil)

	body, _ := json.Marshal(map[string]string{"target_path": root})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	runID, _ := resp["run_id"].(string)
	if runID == "" {
		t.Fatalf("expected a run_id in the response, got %v", resp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil)
		req.Header.Set("Authorization", "Bearer secret")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		var run Run
		json.NewDecoder(w.Body).Decode(&run)
		if run.Status == RunCompleted || run.Status == RunFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal status in time", runID)
}

func TestTriggerWritesAuditLogEntryQueryableOverHTTP(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, "secret", nil)

	body, _ := json.Marshal(map[string]string{"target_path": root})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	auditReq := httptest.NewRequest(http.MethodGet, "/audit?action=run_triggered", nil)
	auditReq.Header.Set("Authorization", "Bearer secret")
	auditW := httptest.NewRecorder()
	s.Handler().ServeHTTP(auditW, auditReq)
	if auditW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", auditW.Code, auditW.Body.String())
	}
	var resp struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.NewDecoder(auditW.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Fatalf("expected exactly one run_triggered audit entry, got %d", len(resp.Entries))
	}
}

func TestAuditEndpointRequiresAuth(t *testing.T) {
	s := newTestServer(t, "secret", nil)
	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRBACViewerKeyCanReadRunsButNotTrigger(t *testing.T) {
	rbac := governance.NewRBACManager()
	viewerKey := rbac.GenerateKey(governance.RoleViewer, "read-only-dashboard")

	s, err := New(Config{Token: "admin-secret", RBAC: rbac}, orchestrator.New(reasoner.Null{}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/runs", nil)
	listReq.Header.Set("Authorization", "Bearer "+viewerKey.Key)
	listW := httptest.NewRecorder()
	s.Handler().ServeHTTP(listW, listReq)
	if listW.Code != http.StatusOK {
		t.Fatalf("expected viewer key to read /runs, got %d: %s", listW.Code, listW.Body.String())
	}

	triggerReq := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader([]byte(`{}`)))
	triggerReq.Header.Set("Authorization", "Bearer "+viewerKey.Key)
	triggerW := httptest.NewRecorder()
	s.Handler().ServeHTTP(triggerW, triggerReq)
	if triggerW.Code != http.StatusUnauthorized {
		t.Fatalf("expected viewer key to be denied /trigger, got %d", triggerW.Code)
	}
}

func TestRBACSharedTokenStillGrantsFullAccess(t *testing.T) {
	rbac := governance.NewRBACManager()
	s, err := New(Config{Token: "admin-secret", RBAC: rbac}, orchestrator.New(reasoner.Null{}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected shared token to grant access regardless of RBAC, got %d", w.Code)
	}
}

func TestRBACDeveloperKeyCannotTriggerFullScan(t *testing.T) {
	root := t.TempDir()
	rbac := governance.NewRBACManager()
	devKey := rbac.GenerateKey(governance.RoleDeveloper, "ci-bot")
	s, err := New(Config{Token: "admin-secret", RBAC: rbac}, orchestrator.New(reasoner.Null{}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"target_path": root, "mode": "full"})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+devKey.Key)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected developer key to be refused a full scan, got %d: %s", w.Code, w.Body.String())
	}

	diffBody, _ := json.Marshal(map[string]any{"target_path": root, "mode": "diff", "changed_files": []string{}})
	diffReq := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(diffBody))
	diffReq.Header.Set("Authorization", "Bearer "+devKey.Key)
	diffW := httptest.NewRecorder()
	s.Handler().ServeHTTP(diffW, diffReq)
	if diffW.Code != http.StatusAccepted {
		t.Fatalf("expected developer key to trigger a diff scan, got %d: %s", diffW.Code, diffW.Body.String())
	}
}

func TestTriggerChangedFilesMustBeArray(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, "secret", nil)

	body, _ := json.Marshal(map[string]any{"target_path": root, "mode": "diff", "changed_files": "lib.rs"})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["error"] != "changed_files_must_be_array" {
		t.Fatalf("expected error code changed_files_must_be_array, got %v", resp["error"])
	}
}

func TestGetRunUnknownIdIs404(t *testing.T) {
	s := newTestServer(t, "secret", nil)
	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMemoryRunStoreTrimsOldestBeyondMaxStoredRuns(t *testing.T) {
	store := newMemoryRunStore()
	for i := 0; i < MaxStoredRuns+10; i++ {
		store.Save(Run{ID: fmt.Sprintf("run-%d", i)})
	}
	if len(store.List()) != MaxStoredRuns {
		t.Fatalf("expected history capped at %d, got %d", MaxStoredRuns, len(store.List()))
	}
	if _, ok := store.Get("run-0"); ok {
		t.Fatalf("expected the oldest run to have been evicted")
	}
}

func TestVerifyGitHubSignature(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"action":"opened"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !verifyGitHubSignature(secret, body, sig) {
		t.Fatalf("expected a correctly computed signature to verify")
	}
	if verifyGitHubSignature(secret, body, "sha256=deadbeef") {
		t.Fatalf("expected an incorrect signature to be rejected")
	}
	if verifyGitHubSignature(secret, []byte("tampered"), sig) {
		t.Fatalf("expected a signature over different body bytes to be rejected")
	}
}

func TestConstantTimeEqualRejectsDifferentLengths(t *testing.T) {
	if constantTimeEqual("short", "muchlonger") {
		t.Fatalf("expected different-length strings to never compare equal")
	}
	if !constantTimeEqual("matching", "matching") {
		t.Fatalf("expected identical strings to compare equal")
	}
}
