// Package reasoner defines the narrow capability-typed interface Hydra
// uses to consume the external LLM reasoning service, an out-of-scope
// external collaborator referenced only by the shape of the capability
// the core consumes. Dispatcher task composition, the adversarial
// pipeline, and the patch pipeline all depend only on this interface,
// never on a concrete provider.
package reasoner

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by a Reasoner that has no backing service
// configured. Callers must treat it as a degrade-not-abort signal.
var ErrUnavailable = errors.New("reasoner: no backing service configured")

// Reasoner is the narrow interface every LLM-backed component depends on.
// Complete sends a role-scoped prompt (e.g. "red_team", "blue_team",
// "judge", "scanner:reentrancy") and returns the raw text response for the
// caller to validate against its own typed schema; Reasoner never
// interprets its own output.
type Reasoner interface {
	// Available reports whether a backing service is configured, without
	// making a network call.
	Available() bool
	// Complete returns the model's raw text response to prompt under the
	// given role, or an error if the call failed or ctx expired.
	Complete(ctx context.Context, role string, prompt string) (string, error)
}

// Null is a Reasoner with no backing service. Every dispatcher task
// composition rule and every adversarial/patch stage must behave
// correctly (never crash) when given a Null reasoner: scanners skip
// LLM-backed tasks, and the adversarial judge falls back to its
// deterministic inference rule.
type Null struct{}

func (Null) Available() bool { return false }

func (Null) Complete(ctx context.Context, role, prompt string) (string, error) {
	return "", ErrUnavailable
}
