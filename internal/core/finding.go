package core

import (
	"strconv"

	"github.com/hydra-audit/hydra/internal/hashutil"
)

// Finding is an immutable-after-aggregation vulnerability report addressed
// by (vuln_class, file, line), generalized to repository/Solana findings
// and carrying a stable, content-derived identity hash rather than an
// implicit rule-id identity.
type Finding struct {
	ID          string    `json:"id"`
	ScannerID   string    `json:"scanner_id"`
	VulnClass   VulnClass `json:"vuln_class"`
	Severity    Severity  `json:"severity"`
	Confidence  int       `json:"confidence"` // 0..100
	File        string    `json:"file"`       // absolute path
	Line        int       `json:"line"`       // >= 1
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Evidence    string    `json:"evidence"`
}

// ID computes the deterministic identity hash for a finding coordinate:
// scanner_id | vuln_class | file | line. Two findings from the same
// scanner at the same coordinate always produce the same id, independent
// of run order or wall-clock time.
func ID(scannerID string, vulnClass VulnClass, file string, line int) string {
	return hashutil.Short16(scannerID, string(vulnClass), file, strconv.Itoa(line))
}

// SameLocation reports whether two findings share (vuln_class, file, line),
// the aggregator's grouping key.
func SameLocation(a, b Finding) bool {
	return a.VulnClass == b.VulnClass && a.File == b.File && a.Line == b.Line
}
