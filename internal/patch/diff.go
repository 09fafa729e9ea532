package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// ApplyUnifiedDiff applies a unified diff to source line-by-line, refusing
// (rather than fuzzy-matching) any hunk whose context/removed lines do not
// match the source exactly at the header-declared offset: locate each
// hunk by header, verify that its context/removed lines match source at
// N-1+offset, replace that slice with the sequence of + lines, and track
// the running offset. Returns the patched source and whether every hunk
// applied cleanly.
func ApplyUnifiedDiff(source, diff string) (string, bool) {
	lines := strings.Split(source, "\n")
	offset := 0

	hunks := splitHunks(diff)
	if len(hunks) == 0 {
		return source, false
	}
	for _, hunk := range hunks {
		start, oldLines, newLines, ok := parseHunk(hunk)
		if !ok {
			return source, false
		}
		idx := start - 1 + offset
		if idx < 0 || idx+len(oldLines) > len(lines) {
			return source, false
		}
		for i, want := range oldLines {
			if lines[idx+i] != want {
				return source, false
			}
		}
		lines = append(lines[:idx], append(append([]string{}, newLines...), lines[idx+len(oldLines):]...)...)
		offset += len(newLines) - len(oldLines)
	}
	return strings.Join(lines, "\n"), true
}

// splitHunks breaks a unified diff into per-hunk chunks, each starting
// with its "@@ ... @@" header line.
func splitHunks(diff string) []string {
	var hunks []string
	var current []string
	for _, line := range strings.Split(diff, "\n") {
		if hunkHeader.MatchString(line) {
			if len(current) > 0 {
				hunks = append(hunks, strings.Join(current, "\n"))
			}
			current = []string{line}
			continue
		}
		if current != nil {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		hunks = append(hunks, strings.Join(current, "\n"))
	}
	return hunks
}

func parseHunk(hunk string) (start int, oldLines, newLines []string, ok bool) {
	lines := strings.Split(hunk, "\n")
	if len(lines) == 0 {
		return 0, nil, nil, false
	}
	m := hunkHeader.FindStringSubmatch(lines[0])
	if m == nil {
		return 0, nil, nil, false
	}
	oldStart, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, nil, nil, false
	}

	for _, l := range lines[1:] {
		if l == "" {
			continue
		}
		switch l[0] {
		case ' ':
			oldLines = append(oldLines, l[1:])
			newLines = append(newLines, l[1:])
		case '-':
			oldLines = append(oldLines, l[1:])
		case '+':
			newLines = append(newLines, l[1:])
		default:
			return 0, nil, nil, false
		}
	}
	return oldStart, oldLines, newLines, true
}

// ErrEmptyDiff is a sentinel for callers to distinguish "no diff supplied"
// from a diff that failed to apply.
var ErrEmptyDiff = fmt.Errorf("patch: diff is empty")
