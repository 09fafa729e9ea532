// Package hashutil centralizes the SHA-256 based identity and cache-key
// hashing used throughout Hydra: id prefixes are 12 or 16 hex characters,
// truncated from a full SHA-256 digest. Factored into a standalone
// package so core, cache, and threatmodel can all depend on it without
// introducing a cycle through core.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"
	"strings"
)

// Digest returns the full 64-character hex SHA-256 digest of parts joined
// with "|".
func Digest(parts ...string) string {
	h := sha256.New()
	io.WriteString(h, strings.Join(parts, "|"))
	return hex.EncodeToString(h.Sum(nil))
}

// Short12 returns the first 12 hex characters of Digest(parts...).
func Short12(parts ...string) string {
	return Digest(parts...)[:12]
}

// Short16 returns the first 16 hex characters of Digest(parts...).
func Short16(parts ...string) string {
	return Digest(parts...)[:16]
}

// Content hashes raw bytes directly, for file-content addressing.
func Content(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// File streams a file through SHA-256 without loading it fully into memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SortedJoin sorts the given strings and joins them with newlines, giving a
// content-addressed digest input that does not depend on insertion order.
func SortedJoin(items []string) string {
	cp := make([]string, len(items))
	copy(cp, items)
	sort.Strings(cp)
	return strings.Join(cp, "\n")
}
