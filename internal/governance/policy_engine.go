// Package governance provides the policy gate, audit log, and RBAC layer
// that sits between aggregated findings and the rest of the pipeline.
// Built on a Policy/Condition/PolicyResult shape with in-memory CRUD over
// a policy slice, retargeted from per-scan verdicts to per-finding
// core.Finding evaluation, and extended with optional CEL expressions
// (google/cel-go) for policies a flat field/operator/value condition
// can't express.
package governance

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/hydra-audit/hydra/internal/core"
)

// PolicyAction is the action taken when a policy matches a finding.
type PolicyAction string

const (
	PolicyActionBlock PolicyAction = "block"
	PolicyActionWarn  PolicyAction = "warn"
	PolicyActionAudit PolicyAction = "audit"
)

// Condition is a single field/operator/value policy condition, ANDed with
// its siblings within a Policy. Used when Policy.Expression is empty.
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// Policy defines a governance policy evaluated against one finding at a
// time. Either Expression (a CEL boolean expression over severity,
// vuln_class, confidence, file, title, scanner_id) or Conditions must be
// set; Expression takes precedence when both are present.
type Policy struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Expression  string       `json:"expression,omitempty" yaml:"expression,omitempty"`
	Conditions  []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Action      PolicyAction `json:"action" yaml:"action"`
	Enabled     bool         `json:"enabled" yaml:"enabled"`
}

// PolicyResult is the outcome of evaluating one policy against one finding.
type PolicyResult struct {
	PolicyID  string       `json:"policy_id"`
	Name      string       `json:"name"`
	Action    PolicyAction `json:"action"`
	FindingID string       `json:"finding_id"`
	Matched   bool         `json:"matched"`
	Message   string       `json:"message"`
}

// PolicyEngine manages and evaluates governance policies over findings.
// CEL programs are compiled once per policy and cached; a policy with a
// malformed expression never matches rather than panicking the gate.
type PolicyEngine struct {
	mu       sync.RWMutex
	policies []Policy
	programs map[string]cel.Program
	env      *cel.Env
}

func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("severity", cel.StringType),
		cel.Variable("vuln_class", cel.StringType),
		cel.Variable("confidence", cel.IntType),
		cel.Variable("file", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("scanner_id", cel.StringType),
	)
}

// NewPolicyEngine creates a PolicyEngine seeded with Hydra's default
// Solana/Anchor-oriented policies.
func NewPolicyEngine() *PolicyEngine {
	env, err := celEnv()
	if err != nil {
		env = nil
	}
	pe := &PolicyEngine{programs: make(map[string]cel.Program), env: env}
	pe.loadDefaults()
	return pe
}

func (pe *PolicyEngine) loadDefaults() {
	pe.policies = []Policy{
		{
			ID:          "default-001",
			Name:        "Block Confirmed Critical",
			Description: "Block findings at critical severity",
			Expression:  `severity == "critical"`,
			Action:      PolicyActionBlock,
			Enabled:     true,
		},
		{
			ID:          "default-002",
			Name:        "Block Missing Signer Check",
			Description: "Block any missing-signer-check finding regardless of severity",
			Conditions:  []Condition{{Field: "vuln_class", Operator: "eq", Value: "missing_signer_check"}},
			Action:      PolicyActionBlock,
			Enabled:     true,
		},
		{
			ID:          "default-003",
			Name:        "Warn High Severity",
			Description: "Warn on high-severity findings",
			Expression:  `severity == "high"`,
			Action:      PolicyActionWarn,
			Enabled:     true,
		},
		{
			ID:          "default-004",
			Name:        "Warn Low Confidence",
			Description: "Warn when a finding's confidence is below 40",
			Conditions:  []Condition{{Field: "confidence", Operator: "lt", Value: 40}},
			Action:      PolicyActionWarn,
			Enabled:     true,
		},
		{
			ID:          "default-005",
			Name:        "Audit All Findings",
			Description: "Audit log every finding regardless of outcome",
			Expression:  `confidence >= 0`,
			Action:      PolicyActionAudit,
			Enabled:     true,
		},
	}
}

// ListPolicies returns all policies.
func (pe *PolicyEngine) ListPolicies() []Policy {
	pe.mu.RLock()
	defer pe.mu.RUnlock()
	result := make([]Policy, len(pe.policies))
	copy(result, pe.policies)
	return result
}

// AddPolicy adds a new policy.
func (pe *PolicyEngine) AddPolicy(p Policy) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.policies = append(pe.policies, p)
}

// RemovePolicy removes a policy by ID, invalidating any cached CEL program.
func (pe *PolicyEngine) RemovePolicy(id string) bool {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	for i, p := range pe.policies {
		if p.ID == id {
			pe.policies = append(pe.policies[:i], pe.policies[i+1:]...)
			delete(pe.programs, id)
			return true
		}
	}
	return false
}

// Evaluate evaluates every enabled policy against every finding.
func (pe *PolicyEngine) Evaluate(findings []core.Finding) []PolicyResult {
	pe.mu.RLock()
	policies := make([]Policy, len(pe.policies))
	copy(policies, pe.policies)
	pe.mu.RUnlock()

	var results []PolicyResult
	for _, policy := range policies {
		if !policy.Enabled {
			continue
		}
		for _, f := range findings {
			matched := pe.evaluatePolicy(policy, f)
			msg := ""
			if matched {
				msg = fmt.Sprintf("policy %q triggered on %s", policy.Name, f.ID)
			}
			results = append(results, PolicyResult{
				PolicyID:  policy.ID,
				Name:      policy.Name,
				Action:    policy.Action,
				FindingID: f.ID,
				Matched:   matched,
				Message:   msg,
			})
		}
	}
	return results
}

// Gate implements orchestrator.PolicyGate: the run is blocked if any
// enabled block-action policy matches any finding.
func (pe *PolicyEngine) Gate(findings []core.Finding) (bool, string) {
	for _, r := range pe.Evaluate(findings) {
		if r.Matched && r.Action == PolicyActionBlock {
			return false, r.Message
		}
	}
	return true, ""
}

func (pe *PolicyEngine) evaluatePolicy(policy Policy, f core.Finding) bool {
	if policy.Expression != "" {
		return pe.evaluateExpression(policy, f)
	}
	return pe.evaluateConditions(policy.Conditions, f)
}

func (pe *PolicyEngine) evaluateExpression(policy Policy, f core.Finding) bool {
	if pe.env == nil {
		return false
	}
	pe.mu.Lock()
	prg, ok := pe.programs[policy.ID]
	if !ok {
		ast, iss := pe.env.Compile(policy.Expression)
		if iss != nil && iss.Err() != nil {
			pe.mu.Unlock()
			return false
		}
		compiled, err := pe.env.Program(ast)
		if err != nil {
			pe.mu.Unlock()
			return false
		}
		prg = compiled
		pe.programs[policy.ID] = prg
	}
	pe.mu.Unlock()

	out, _, err := prg.Eval(map[string]any{
		"severity":   string(f.Severity),
		"vuln_class": string(f.VulnClass),
		"confidence": f.Confidence,
		"file":       f.File,
		"title":      f.Title,
		"scanner_id": f.ScannerID,
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func (pe *PolicyEngine) evaluateConditions(conditions []Condition, f core.Finding) bool {
	for _, cond := range conditions {
		if !evaluateCondition(cond, f) {
			return false
		}
	}
	return len(conditions) > 0
}

func evaluateCondition(cond Condition, f core.Finding) bool {
	switch cond.Field {
	case "severity":
		expected, _ := cond.Value.(string)
		return compareString(string(f.Severity), cond.Operator, expected)
	case "vuln_class":
		expected, _ := cond.Value.(string)
		return compareString(string(f.VulnClass), cond.Operator, expected)
	case "scanner_id":
		expected, _ := cond.Value.(string)
		return compareString(f.ScannerID, cond.Operator, expected)
	case "file":
		expected, _ := cond.Value.(string)
		return compareString(f.File, cond.Operator, expected)
	case "confidence":
		return compareInt(f.Confidence, cond.Operator, toInt(cond.Value))
	case "line":
		return compareInt(f.Line, cond.Operator, toInt(cond.Value))
	}
	return false
}

func compareString(actual, op, expected string) bool {
	switch op {
	case "eq":
		return strings.EqualFold(actual, expected)
	case "neq":
		return !strings.EqualFold(actual, expected)
	case "contains":
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	}
	return false
}

func compareInt(actual int, op string, expected int) bool {
	switch op {
	case "eq":
		return actual == expected
	case "neq":
		return actual != expected
	case "gt":
		return actual > expected
	case "gte":
		return actual >= expected
	case "lt":
		return actual < expected
	case "lte":
		return actual <= expected
	}
	return false
}

func toInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		n := 0
		fmt.Sscanf(val, "%d", &n)
		return n
	}
	return 0
}
