package diffresolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hydra-audit/hydra/internal/core"
)

func TestResolveFullModeReturnsNil(t *testing.T) {
	files, err := Resolve(context.Background(), core.ScanTarget{Mode: core.ModeFull, RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if files != nil {
		t.Fatalf("expected nil in full mode, got %v", files)
	}
}

func TestResolveExplicitChangedFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.rs")
	if err := os.WriteFile(a, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	target := core.ScanTarget{
		Mode:     core.ModeDiff,
		RootPath: dir,
		Diff:     &core.DiffScope{ChangedFiles: []string{"a.rs", "missing.rs"}},
	}
	files, err := Resolve(context.Background(), target)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(files) != 1 || files[0] != a {
		t.Fatalf("expected only existing file to survive, got %v", files)
	}
}

func TestResolveHeadWithoutBaseIsError(t *testing.T) {
	target := core.ScanTarget{
		Mode:     core.ModeDiff,
		RootPath: t.TempDir(),
		Diff:     &core.DiffScope{HeadRef: "HEAD"},
	}
	_, err := Resolve(context.Background(), target)
	if err != core.ErrHeadWithoutBase {
		t.Fatalf("expected ErrHeadWithoutBase, got %v", err)
	}
}

func TestResolveNoDiffScopeIsEmpty(t *testing.T) {
	files, err := Resolve(context.Background(), core.ScanTarget{Mode: core.ModeDiff, RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if files != nil {
		t.Fatalf("expected nil, got %v", files)
	}
}
