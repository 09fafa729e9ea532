// Package diffresolver derives the absolute changed-file set for a diff
// scan, from either an explicit file list or two git refs plus untracked
// working-tree files.
package diffresolver

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/gitutil"
)

// Resolve normalizes target.Diff.ChangedFiles when the caller supplied one
// explicitly, or derives it from git otherwise. Every returned path is
// absolute and confirmed to exist under target.RootPath at call time;
// paths that no longer exist are dropped rather than erroring, tolerating
// a working tree that has moved since scope was requested.
func Resolve(ctx context.Context, target core.ScanTarget) ([]string, error) {
	if target.Mode != core.ModeDiff {
		return nil, nil
	}
	if target.Diff == nil {
		return nil, nil
	}
	if target.Diff.HeadRef != "" && target.Diff.BaseRef == "" && len(target.Diff.ChangedFiles) == 0 {
		return nil, core.ErrHeadWithoutBase
	}

	var rel []string
	if len(target.Diff.ChangedFiles) > 0 {
		rel = target.Diff.ChangedFiles
	} else {
		rel = gitutil.ChangedFiles(ctx, target.RootPath, target.Diff.BaseRef, target.Diff.HeadRef)
	}

	seen := map[string]bool{}
	abs := make([]string, 0, len(rel))
	for _, r := range rel {
		p := r
		if !filepath.IsAbs(p) {
			p = filepath.Join(target.RootPath, r)
		}
		p = filepath.Clean(p)
		if rp, err := filepath.Rel(target.RootPath, p); err != nil || rp == ".." || strings.HasPrefix(rp, ".."+string(filepath.Separator)) {
			continue
		}
		if seen[p] {
			continue
		}
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		seen[p] = true
		abs = append(abs, p)
	}
	sort.Strings(abs)
	return abs, nil
}
