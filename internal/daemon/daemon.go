// Package daemon implements the HTTP trigger surface: a chi router
// exposing /healthz, /trigger, /runs, /runs/:id, with bearer auth, a
// canonicalized path allow-list, a 1 MiB body cap, and bounded in-memory
// run history. Built on the chi.NewRouter + middleware stack +
// writeJSON/writeError idiom, generalized from a synchronous
// scan-and-respond handler to a mint-run-id-then-execute-asynchronously
// contract.
package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hydra-audit/hydra/internal/artifactstore"
	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/governance"
	"github.com/hydra-audit/hydra/internal/hashutil"
	"github.com/hydra-audit/hydra/internal/lock"
	"github.com/hydra-audit/hydra/internal/orchestrator"
)

// MaxStoredRuns bounds the in-memory run history.
const MaxStoredRuns = 200

// MaxBodyBytes caps request bodies; larger bodies yield 413.
const MaxBodyBytes = 1 << 20

// RunStatus is the closed-enumeration lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the daemon's own lifecycle record, distinct from core.AgentRun.
// The Trigger Daemon owns Run Records end to end.
type Run struct {
	ID           string            `json:"id"`
	Trigger      string            `json:"trigger"`
	TargetPath   string            `json:"target_path"`
	Mode         core.ScanMode     `json:"mode"`
	BaseRef      string            `json:"base_ref,omitempty"`
	HeadRef      string            `json:"head_ref,omitempty"`
	ChangedFiles []string          `json:"changed_files,omitempty"`
	Status       RunStatus         `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Error        string            `json:"error,omitempty"`
	Result       *orchestrator.Report `json:"result,omitempty"`
}

// RunStore persists and lists Run records. The default store is an
// in-memory ring; PostgresRunStore is the optional durable backend.
type RunStore interface {
	Save(r Run)
	Get(id string) (Run, bool)
	List() []Run
}

// memoryRunStore is the default bounded in-memory ring, oldest-first trim
// beyond MaxStoredRuns.
type memoryRunStore struct {
	mu    sync.Mutex
	order []string
	byID  map[string]Run
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{byID: map[string]Run{}}
}

func (s *memoryRunStore) Save(r Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[r.ID]; !exists {
		s.order = append(s.order, r.ID)
	}
	s.byID[r.ID] = r
	for len(s.order) > MaxStoredRuns {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
}

func (s *memoryRunStore) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	return r, ok
}

func (s *memoryRunStore) List() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, len(s.order))
	for i, id := range s.order {
		out[len(s.order)-1-i] = s.byID[id] // newest first
	}
	return out
}

// Config configures Server.
type Config struct {
	Token                 string // HYDRA_DAEMON_TOKEN; empty requires AllowInsecureDefaults
	AllowedPaths          []string
	AllowInsecureDefaults bool

	// WebhookSecret enables the GitHub App-style /webhook/github route
	// when non-empty.
	WebhookSecret  string
	WebhookReposDir string // canonicalized root under which a repo's full_name resolves to a checkout

	// Archive is optional: when set, every completed run's report is
	// best-effort uploaded so it survives the bounded in-memory run
	// history even without PostgresRunStore configured.
	Archive *artifactstore.Store

	// Locker resolves the single-writer lock a run takes over its target
	// repo's cache/threat-model store before scanning.
	// Defaults to a local file lock under <target>/.hydra when nil.
	Locker func(targetPath string) lock.Locker

	// RBAC is optional: when set, a request bearing a generated API key
	// (instead of the shared Token) is admitted per-route by role
	// permission rather than rejected outright. The shared Token, when
	// configured, always grants full access regardless of RBAC.
	RBAC *governance.RBACManager
}

// Server is the HTTP trigger daemon.
type Server struct {
	cfg     Config
	engine  *orchestrator.Engine
	store   RunStore
	router  chi.Router
	audit   *governance.AuditLog
	archive *artifactstore.Store
	rbac    *governance.RBACManager
}

// ErrInsecureConfig is returned by New when no auth token is configured
// and insecure defaults are not explicitly enabled.
var ErrInsecureConfig = errors.New("daemon: no auth token configured; set HYDRA_DAEMON_TOKEN or HYDRA_ALLOW_INSECURE_DEFAULTS=1")

// New builds a Server, enforcing the auth and path-allow-list startup
// invariants before any request is ever served.
func New(cfg Config, engine *orchestrator.Engine, store RunStore) (*Server, error) {
	if cfg.Token == "" && !cfg.AllowInsecureDefaults {
		return nil, ErrInsecureConfig
	}
	canonical, err := canonicalizeAllowList(cfg.AllowedPaths)
	if err != nil {
		if !cfg.AllowInsecureDefaults {
			return nil, fmt.Errorf("daemon: %w", err)
		}
		canonical = nil
	}
	cfg.AllowedPaths = canonical
	if store == nil {
		store = newMemoryRunStore()
	}
	if cfg.Locker == nil {
		cfg.Locker = defaultLocker
	}

	s := &Server{cfg: cfg, engine: engine, store: store, audit: governance.NewAuditLog(), archive: cfg.Archive, rbac: cfg.RBAC}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the HTTP server on host:port.
func (s *Server) ListenAndServe(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	return http.ListenAndServe(addr, s.router)
}

// defaultLocker is Config.Locker's fallback: a local advisory file lock
// scoped to the target repo's own .hydra directory.
func defaultLocker(targetPath string) lock.Locker {
	return lock.NewFileLocker(filepath.Join(targetPath, ".hydra"), hashutil.Short12(targetPath))
}

func canonicalizeAllowList(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("allow-list entry %q: %w", p, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("allow-list entry %q: %w", p, err)
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("allow-list entry %q is not a directory", p)
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))
	r.Use(s.bodyLimit)

	r.Get("/healthz", s.handleHealthz)

	r.With(s.requirePermission("daemon:trigger")).Post("/trigger", s.handleTrigger)
	r.With(s.requirePermission("daemon:runs:read")).Get("/runs", s.handleListRuns)
	r.With(s.requirePermission("daemon:runs:read")).Get("/runs/{id}", s.handleGetRun)
	r.With(s.requirePermission("audit:read")).Get("/audit", s.handleAuditLog)

	if s.cfg.WebhookSecret != "" {
		r.Post("/webhook/github", s.handleGitHubWebhook)
	}
	return r
}

func (s *Server) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// requirePermission enforces the constant-time bearer check for the
// shared-secret Token: equal-length-first then constant-time XOR
// accumulation, never a short-circuit ==, delegated to
// crypto/subtle.ConstantTimeCompare. When an RBAC manager is configured, a
// bearer value that isn't the shared secret is tried as a generated API
// key and admitted only if its role grants permission, supplementing the
// single-shared-secret mode with optional per-key roles
// (admin/analyst/developer/viewer).
func (s *Server) requirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.Token == "" && s.rbac == nil {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
			token := strings.TrimPrefix(header, prefix)
			if s.cfg.Token != "" && constantTimeEqual(token, s.cfg.Token) {
				next.ServeHTTP(w, r)
				return
			}
			if s.rbac != nil && s.rbac.Authorize(token, permission) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		})
	}
}

// rejectModeForKey re-derives the bearer token already validated by
// requirePermission("daemon:trigger") and, when it resolved through an
// RBAC-issued key rather than the shared secret Token, enforces the
// per-role scan-mode ceiling: a full scan walks and re-hashes every file
// under the target, so only admin/analyst keys may request one. Returns
// a non-empty rejection message when the key's role may not run mode.
func (s *Server) rejectModeForKey(r *http.Request, mode core.ScanMode) string {
	if s.rbac == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if s.cfg.Token != "" && constantTimeEqual(token, s.cfg.Token) {
		return ""
	}
	if !s.rbac.AuthorizeScan(token, mode) {
		return fmt.Sprintf("this API key's role may not trigger a %q scan", mode)
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type triggerRequest struct {
	TargetPath      string          `json:"target_path"`
	Mode            string          `json:"mode"`
	Trigger         string          `json:"trigger"`
	BaseRef         string          `json:"base_ref"`
	HeadRef         string          `json:"head_ref"`
	ChangedFilesRaw json.RawMessage `json:"changed_files"`
	ChangedFiles    []string        `json:"-"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body exceeds 1 MiB")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	// changed_files is decoded into RawMessage first so a non-array value
	// (a string, a number, an object) gets its own typed rejection instead
	// of falling through to the generic invalid_json error above.
	if raw := strings.TrimSpace(string(req.ChangedFilesRaw)); raw != "" && raw != "null" {
		if err := json.Unmarshal(req.ChangedFilesRaw, &req.ChangedFiles); err != nil {
			writeError(w, http.StatusBadRequest, "changed_files_must_be_array", "changed_files must be a JSON array of strings")
			return
		}
	}

	if req.TargetPath == "" {
		writeError(w, http.StatusBadRequest, "missing_target_path", "target_path is required")
		return
	}
	mode := core.ScanMode(req.Mode)
	if mode == "" {
		mode = core.ModeFull
	}
	if mode != core.ModeFull && mode != core.ModeDiff {
		writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be \"full\" or \"diff\"")
		return
	}
	if req.HeadRef != "" && req.BaseRef == "" && len(req.ChangedFiles) == 0 {
		writeError(w, http.StatusBadRequest, "head_ref_requires_base_ref", "head_ref given without base_ref")
		return
	}

	if reject := s.rejectModeForKey(r, mode); reject != "" {
		writeError(w, http.StatusForbidden, "mode_not_permitted", reject)
		return
	}

	canonicalTarget, err := canonicalizeTargetPath(req.TargetPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_target_path", err.Error())
		return
	}
	if len(s.cfg.AllowedPaths) > 0 && !underAllowList(canonicalTarget, s.cfg.AllowedPaths) {
		writeError(w, http.StatusForbidden, "path_not_allowed", "target_path is outside the configured allow-list")
		return
	}

	var diff *core.DiffScope
	if mode == core.ModeDiff {
		diff = &core.DiffScope{BaseRef: req.BaseRef, HeadRef: req.HeadRef, ChangedFiles: req.ChangedFiles}
	}
	target := core.ScanTarget{RootPath: canonicalTarget, Mode: mode, Diff: diff}

	trigger := req.Trigger
	if trigger == "" {
		trigger = "api"
	}

	run := Run{
		ID:           uuid.NewString(),
		Trigger:      trigger,
		TargetPath:   canonicalTarget,
		Mode:         mode,
		BaseRef:      req.BaseRef,
		HeadRef:      req.HeadRef,
		ChangedFiles: req.ChangedFiles,
		Status:       RunQueued,
		CreatedAt:    time.Now().UTC(),
	}
	s.store.Save(run)
	s.audit.LogRun(governance.ActionRunTriggered, trigger, governance.RunEvent{
		RunID:      run.ID,
		TargetPath: run.TargetPath,
		Mode:       run.Mode,
		BaseRef:    run.BaseRef,
		HeadRef:    run.HeadRef,
	})

	go s.execute(run.ID, target)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":        run.ID,
		"status":        run.Status,
		"target_path":   run.TargetPath,
		"mode":          run.Mode,
		"base_ref":      nonEmpty(run.BaseRef),
		"head_ref":      nonEmpty(run.HeadRef),
		"changed_files": run.ChangedFiles,
	})
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// execute runs the scan asynchronously and transitions the stored Run
// record through running -> {completed, failed}, always terminating in a
// well-formed record.
func (s *Server) execute(runID string, target core.ScanTarget) {
	run, ok := s.store.Get(runID)
	if !ok {
		return
	}
	started := time.Now().UTC()
	run.Status = RunRunning
	run.StartedAt = &started
	s.store.Save(run)

	report, err := s.runLocked(target)

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		s.audit.LogRun(governance.ActionRunFailed, run.Trigger, governance.RunEvent{RunID: run.ID, TargetPath: run.TargetPath, Mode: run.Mode, Error: err.Error()})
	} else {
		run.Status = RunCompleted
		run.Result = &report
		s.audit.LogRun(governance.ActionRunCompleted, run.Trigger, governance.RunEvent{
			RunID:         run.ID,
			TargetPath:    run.TargetPath,
			Mode:          run.Mode,
			FindingsCount: len(report.Findings),
			PolicyBlocked: report.PolicyBlocked,
		})
		s.archiveReport(run.ID, &report)
	}
	s.store.Save(run)
}

// runLocked serializes the scan behind the repo's single-writer lock and
// flushes the scan cache once the run settles, mirroring the CLI's own
// lock-then-scan-then-flush sequence.
func (s *Server) runLocked(target core.ScanTarget) (orchestrator.Report, error) {
	repoLock := s.cfg.Locker(target.RootPath)
	if err := repoLock.Lock(context.Background()); err != nil {
		return orchestrator.Report{}, fmt.Errorf("acquiring repo lock: %w", err)
	}
	defer repoLock.Unlock()

	report, err := s.engine.Scan(context.Background(), target)
	if s.engine.Cache != nil {
		_ = s.engine.Cache.Flush()
	}
	return report, err
}

// archiveReport best-effort uploads the completed run's JSON report;
// archival failure never fails the run, since persistence errors are
// logged, not propagated.
func (s *Server) archiveReport(runID string, report *orchestrator.Report) {
	if s.archive == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	_ = s.archive.PutReport(context.Background(), "runs/"+runID+".json", data, "application/json")
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.store.List()})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	actor := r.URL.Query().Get("actor")
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.audit.Query(action, actor, 0)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run_not_found", "no run with that id")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func canonicalizeTargetPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("target_path does not exist or is not a directory")
	}
	return resolved, nil
}

func underAllowList(target string, allowed []string) bool {
	for _, a := range allowed {
		if target == a || strings.HasPrefix(target, a+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
