package threatmodel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadOrCreateIsCachedByFingerprint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "pub fn transfer() {}\n")

	s := New()
	target := Target{RootPath: dir, Mode: "full"}

	first, err := s.LoadOrCreate(context.Background(), target)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first.LoadedFromCache {
		t.Fatalf("expected first call to create a version, not load from cache")
	}
	if first.Version.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", first.Version.Revision)
	}

	second, err := s.LoadOrCreate(context.Background(), target)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !second.LoadedFromCache {
		t.Fatalf("expected second identical-fingerprint call to hit the cache")
	}
	if second.Version.VersionID != first.Version.VersionID {
		t.Fatalf("expected identical fingerprint to return the same version id")
	}
}

func TestLoadOrCreateRevisionIncreasesOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.rs", "pub fn transfer() {}\n")

	s := New()
	first, err := s.LoadOrCreate(context.Background(), Target{RootPath: dir, Mode: "full"})
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	second, err := s.LoadOrCreate(context.Background(), Target{RootPath: dir, Mode: "diff", BaseRef: "a", HeadRef: "b"})
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.Version.Revision <= first.Version.Revision {
		t.Fatalf("expected revision to strictly increase, got %d then %d", first.Version.Revision, second.Version.Revision)
	}
}

func TestBuildSummaryDetectsAnchor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Anchor.toml", "[programs.localnet]\n")
	writeFile(t, dir, "lib.rs", "pub fn initialize() {}\npub fn transfer() {}\n")

	summary, err := BuildSummary(Target{RootPath: dir, Mode: "full"})
	if err != nil {
		t.Fatalf("build summary: %v", err)
	}
	if summary.PrimaryLanguage != "rs" && summary.PrimaryLanguage != "toml" {
		t.Fatalf("unexpected primary language %q", summary.PrimaryLanguage)
	}
	found := false
	for _, f := range summary.DetectedFrameworks {
		if f == "anchor" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected anchor framework to be detected, got %v", summary.DetectedFrameworks)
	}
	if len(summary.EntryPoints) == 0 {
		t.Fatalf("expected at least one entry point candidate")
	}
}

func TestBuildSummaryScopeFilesUsesChangedFilesInDiffMode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.rs", "pub fn a() {}\n")
	writeFile(t, dir, "b.rs", "pub fn b() {}\n")

	summary, err := BuildSummary(Target{RootPath: dir, Mode: "diff", ChangedFiles: []string{"a.rs"}})
	if err != nil {
		t.Fatalf("build summary: %v", err)
	}
	if len(summary.ScanScopeFiles) != 1 || summary.ScanScopeFiles[0] != "a.rs" {
		t.Fatalf("expected scope to be exactly the changed files, got %v", summary.ScanScopeFiles)
	}
}
