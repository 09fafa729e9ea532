// Package threatmodel implements the threat-model store: a
// fingerprint-keyed, append-only versioned summary of a repository's
// attack surface. Built on a walk-plus-content-hash drift-detection idiom,
// generalized from "detect file drift against a captured baseline" to
// "fingerprint repository state and synthesize a versioned summary", with
// git context (commit, tree, dirty flag) as the fingerprint's repository-
// state input. File contents are not hashed into the fingerprint.
package threatmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hydra-audit/hydra/internal/gitutil"
	"github.com/hydra-audit/hydra/internal/hashutil"
)

const SchemaVersion = 1

// Traversal caps bound the cost of fingerprinting a large repository.
const (
	MaxSourceFiles    = 2000
	MaxScopeFiles     = 50
	MaxEntryPointCand = 24
)

var ignoreDirs = map[string]bool{
	".git": true, ".idea": true, ".vscode": true, ".hydra": true,
	"node_modules": true, "target": true, "dist": true, "build": true, "coverage": true,
}

// Summary is the pure-function-of-(root_path, mode, diff) description of a
// repository's attack surface at fingerprint time.
type Summary struct {
	PrimaryLanguage    string         `json:"primary_language"`
	LanguageBreakdown  map[string]int `json:"language_breakdown"`
	DetectedFrameworks []string       `json:"detected_frameworks"`
	Assets             []string       `json:"assets"`
	TrustBoundaries    []string       `json:"trust_boundaries"`
	EntryPoints        []string       `json:"entry_points"`
	AttackSurface      []string       `json:"attack_surface"`
	ScanScopeFiles     []string       `json:"scan_scope_files"`

	// SourceFiles is every source file the walk found, bounded by
	// MaxSourceFiles, without ScanScopeFiles's further MaxScopeFiles
	// truncation. Full-mode scans use this so a "full scan" isn't
	// silently limited to the 50-file summary sample.
	SourceFiles []string `json:"-"`
}

// Version is one immutable, fingerprint-addressed entry in a repo's
// version history.
type Version struct {
	VersionID      string  `json:"version_id"`
	RepoID         string  `json:"repo_id"`
	Revision       int     `json:"revision"`
	ParentVersion  string  `json:"parent_version_id,omitempty"`
	SchemaVersion  int     `json:"schema_version"`
	Fingerprint    string  `json:"fingerprint"`
	Summary        Summary `json:"summary"`
	StoragePath    string  `json:"storage_path"`
	CreatedAt      time.Time `json:"created_at"`
}

// store is the on-disk shape of a repo's versions.json.
type store struct {
	SchemaVersion  int                `json:"schema_version"`
	LatestVersion  string             `json:"latest_version_id"`
	ByFingerprint  map[string]string  `json:"by_fingerprint"` // fingerprint -> version_id
	Versions       []Version          `json:"versions"`
}

// Target is the subset of core.ScanTarget the fingerprint depends on. It is
// declared locally (rather than importing core.ScanTarget) to keep
// threatmodel free of a core dependency beyond hashutil; the orchestrator
// adapts core.ScanTarget into this shape.
type Target struct {
	RootPath     string
	Mode         string // "full" or "diff"
	BaseRef      string
	HeadRef      string
	ChangedFiles []string // relative or absolute, order-independent
}

// LoadOrCreateResult is returned by Store.LoadOrCreate.
type LoadOrCreateResult struct {
	Version        Version
	LoadedFromCache bool
}

// Store manages the append-only per-repo version history under
// <rootBase>/.hydra/threat-models/<repo_id>/versions.json.
type Store struct {
	// BaseDir overrides the ".hydra" directory location for testing.
	// Empty means "<RootPath>/.hydra".
	BaseDir string
}

func New() *Store { return &Store{} }

// RepoID computes hash12(abs(root)), the identity used to shard version
// history per repository.
func RepoID(absRoot string) string {
	return hashutil.Short12(filepath.Clean(absRoot))
}

func (s *Store) hydraDir(rootPath string) string {
	if s.BaseDir != "" {
		return s.BaseDir
	}
	return filepath.Join(rootPath, ".hydra")
}

func (s *Store) versionsPath(rootPath, repoID string) string {
	return filepath.Join(s.hydraDir(rootPath), "threat-models", repoID, "versions.json")
}

// LoadOrCreate loads the stored threat model for target, or creates and
// persists a fresh one if none exists yet.
func (s *Store) LoadOrCreate(ctx context.Context, target Target) (LoadOrCreateResult, error) {
	repoID := RepoID(target.RootPath)
	git := gitutil.Collect(ctx, target.RootPath)

	fp := Fingerprint(target, git)

	st, err := s.load(target.RootPath, repoID)
	if err != nil {
		return LoadOrCreateResult{}, err
	}

	if vid, ok := st.ByFingerprint[fp]; ok {
		for _, v := range st.Versions {
			if v.VersionID == vid {
				return LoadOrCreateResult{Version: v, LoadedFromCache: true}, nil
			}
		}
	}

	summary, err := BuildSummary(target)
	if err != nil {
		return LoadOrCreateResult{}, err
	}

	parentRevision := 0
	var parentVersionID string
	if len(st.Versions) > 0 {
		last := st.Versions[len(st.Versions)-1]
		parentRevision = last.Revision
		parentVersionID = last.VersionID
	}

	v := Version{
		VersionID:     hashutil.Short16(repoID, fp, fmt.Sprint(parentRevision+1)),
		RepoID:        repoID,
		Revision:      parentRevision + 1,
		ParentVersion: parentVersionID,
		SchemaVersion: SchemaVersion,
		Fingerprint:   fp,
		Summary:       summary,
		StoragePath:   s.versionsPath(target.RootPath, repoID),
		CreatedAt:     time.Now().UTC(),
	}

	if st.ByFingerprint == nil {
		st.ByFingerprint = map[string]string{}
	}
	st.SchemaVersion = SchemaVersion
	st.Versions = append(st.Versions, v)
	st.ByFingerprint[fp] = v.VersionID
	st.LatestVersion = v.VersionID

	if err := s.persist(target.RootPath, repoID, st); err != nil {
		return LoadOrCreateResult{}, err
	}
	return LoadOrCreateResult{Version: v, LoadedFromCache: false}, nil
}

// Fingerprint computes digest(mode, git_commit?, git_tree?, dirty_flag,
// base_ref?, head_ref?, hash(sorted relative changed files)).
func Fingerprint(target Target, git gitutil.Context) string {
	changedDigest := hashutil.SortedJoin(target.ChangedFiles)
	dirty := "0"
	if git.Dirty {
		dirty = "1"
	}
	return hashutil.Digest(
		target.Mode,
		git.Commit,
		git.Tree,
		dirty,
		target.BaseRef,
		target.HeadRef,
		hashutil.Digest(changedDigest),
	)
}

// load reads a repo's versions.json, treating a missing file or a schema
// version mismatch as an empty store (no partial migration), matching the
// scan cache's analogous invariant.
func (s *Store) load(rootPath, repoID string) (store, error) {
	path := s.versionsPath(rootPath, repoID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{SchemaVersion: SchemaVersion, ByFingerprint: map[string]string{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(data, &st); err != nil || st.SchemaVersion != SchemaVersion {
		return store{SchemaVersion: SchemaVersion, ByFingerprint: map[string]string{}}, nil
	}
	return st, nil
}

// persist writes the versions file atomically: write to a tempfile in the
// same directory, then rename, so concurrent readers never see a partial
// write.
func (s *Store) persist(rootPath, repoID string, st store) error {
	path := s.versionsPath(rootPath, repoID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var entryPointNames = map[string]bool{
	"main.rs": true, "lib.rs": true, "main.go": true, "index.js": true,
	"index.ts": true, "app.py": true, "main.py": true, "server.go": true,
}

var rustPubFn = regexp.MustCompile(`\bpub\s+fn\s+(\w+)`)

// BuildSummary walks target.RootPath, bounded by the traversal caps above,
// and produces a pure function of (root_path, mode, changed_files).
func BuildSummary(target Target) (Summary, error) {
	langCounts := map[string]int{}
	var sourceFiles []string
	var entryPoints []string

	err := filepath.Walk(target.RootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if ignoreDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(sourceFiles) >= MaxSourceFiles {
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if ext == "" {
			return nil
		}
		langCounts[ext]++
		sourceFiles = append(sourceFiles, path)

		base := strings.ToLower(filepath.Base(path))
		if entryPointNames[base] && len(entryPoints) < MaxEntryPointCand {
			entryPoints = append(entryPoints, path)
		}
		if ext == "rs" && len(entryPoints) < MaxEntryPointCand {
			if data, err := os.ReadFile(path); err == nil {
				for _, m := range rustPubFn.FindAllStringSubmatch(string(data), -1) {
					if len(entryPoints) >= MaxEntryPointCand {
						break
					}
					entryPoints = append(entryPoints, fmt.Sprintf("%s::%s", path, m[1]))
				}
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	primary := primaryLanguage(langCounts)
	frameworks := detectFrameworks(target.RootPath, langCounts)

	sort.Strings(sourceFiles)

	scope := target.ChangedFiles
	if len(scope) == 0 {
		scope = append([]string(nil), sourceFiles...)
	}
	sort.Strings(scope)
	if len(scope) > MaxScopeFiles {
		scope = scope[:MaxScopeFiles]
	}

	return Summary{
		PrimaryLanguage:    primary,
		LanguageBreakdown:  langCounts,
		DetectedFrameworks: frameworks,
		Assets:             assetsFrom(langCounts),
		TrustBoundaries:    trustBoundariesFrom(frameworks),
		EntryPoints:        entryPoints,
		AttackSurface:      attackSurfaceFrom(primary, frameworks),
		ScanScopeFiles:     scope,
		SourceFiles:        sourceFiles,
	}, nil
}

func primaryLanguage(counts map[string]int) string {
	best, bestCount := "", -1
	for ext, n := range counts {
		if n > bestCount || (n == bestCount && ext < best) {
			best, bestCount = ext, n
		}
	}
	return best
}

func detectFrameworks(root string, counts map[string]int) []string {
	var out []string
	if counts["rs"] > 0 {
		if _, err := os.Stat(filepath.Join(root, "Anchor.toml")); err == nil {
			out = append(out, "anchor")
		} else {
			out = append(out, "solana-sdk")
		}
	}
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
		out = append(out, "go-modules")
	}
	if _, err := os.Stat(filepath.Join(root, "package.json")); err == nil {
		out = append(out, "node")
	}
	sort.Strings(out)
	return out
}

func assetsFrom(counts map[string]int) []string {
	var out []string
	if counts["rs"] > 0 {
		out = append(out, "on-chain-program-accounts", "program-derived-addresses")
	}
	if counts["sql"] > 0 || counts["go"] > 0 || counts["py"] > 0 || counts["js"] > 0 || counts["ts"] > 0 {
		out = append(out, "application-database", "network-endpoints")
	}
	return out
}

func trustBoundariesFrom(frameworks []string) []string {
	var out []string
	for _, f := range frameworks {
		switch f {
		case "anchor", "solana-sdk":
			out = append(out, "client-to-program-instruction-boundary")
		case "go-modules", "node":
			out = append(out, "http-request-boundary")
		}
	}
	return out
}

func attackSurfaceFrom(primary string, frameworks []string) []string {
	surface := []string{"public-entry-points"}
	for _, f := range frameworks {
		if f == "anchor" || f == "solana-sdk" {
			surface = append(surface, "instruction-handlers", "cross-program-invocations")
		}
	}
	return surface
}
