// Package scanners provides the narrow Scanner interface consumed by the
// dispatcher and a handful of built-in scanner modules. The full detector
// ecosystem is an out-of-scope external collaborator; the scanners kept
// here are the three domain scanners plus one deterministic signals
// adapter that are always scheduled, a RuleScanner for user-supplied YAML
// rules, and the LLM focus tasks built when a Reasoner is available.
package scanners

import "github.com/hydra-audit/hydra/internal/core"

// Scanner is the pluggable detector contract: given a filesystem root, it
// produces a (possibly empty) list of findings. Implementations must be
// deterministic modulo LLM nondeterminism and side-effect free.
type Scanner interface {
	ID() string
	Scan(rootAbsPath string, files []string) ([]core.Finding, error)
}
