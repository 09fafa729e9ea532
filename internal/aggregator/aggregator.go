// Package aggregator implements the finding aggregator: key-based dedup
// with severity/scanner/evidence fusion and a confidence boost for
// corroboration, followed by an emission gate.
//
// Built on verdict.go's CalculateRiskScore severity-weighted fold and
// AggregateFindingsBySeverity grouping idiom, generalized from "sum points
// across engines" to a dedup-by-coordinate rule.
package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hydra-audit/hydra/internal/core"
)

// DefaultMinUncorroboratedConfidence is the default emission-gate
// threshold.
const DefaultMinUncorroboratedConfidence = 80

// Options configures Aggregate.
type Options struct {
	// MinUncorroboratedConfidence gates emission of single-scanner
	// findings. Zero means DefaultMinUncorroboratedConfidence.
	MinUncorroboratedConfidence int
}

func (o Options) threshold() int {
	if o.MinUncorroboratedConfidence <= 0 {
		return DefaultMinUncorroboratedConfidence
	}
	return o.MinUncorroboratedConfidence
}

// group holds the running fusion state for one (vuln_class, file, line)
// coordinate while findings are folded in.
type group struct {
	winner       core.Finding
	maxConf      int
	scannerIDs   []string
	scannerSet   map[string]bool
	freshScanner map[string]bool // distinct, not-already-fused scanners folded this pass
	descriptions []string
	descSet      map[string]bool
	evidences    []string
	evidenceSet  map[string]bool
}

// multiScanner reports whether the group's fused finding carries evidence
// from more than one scanner, regardless of whether that fusion happened
// on this pass or an earlier one.
func (g *group) multiScanner() bool {
	return len(g.scannerIDs) >= 2
}

// corroborated reports whether at least two distinct scanners contributed
// to this group on this pass. Unlike multiScanner, it ignores findings
// whose ScannerID is itself already a " + "-joined fusion product of a
// prior pass, so re-aggregating an already-fused finding never counts as
// fresh corroboration, and it ignores repeat reports from the same
// scanner at one coordinate (e.g. two rules in the same scanner both
// firing on one line).
func (g *group) corroborated() bool {
	return len(g.freshScanner) >= 2
}

// Aggregate groups findings by (vuln_class, file, line), fuses each group,
// and returns the emitted subset sorted by severity descending then
// confidence descending. Aggregate is pure: calling it
// twice on the same input (in the same order) yields the same output, and
// aggregating its own output is a no-op (idempotence).
func Aggregate(findings []core.Finding, opts Options) ([]core.Finding, error) {
	order := make([]string, 0, len(findings))
	groups := make(map[string]*group, len(findings))

	for _, f := range findings {
		if !f.VulnClass.Known() {
			return nil, fmt.Errorf("aggregator: unknown vuln_class %q for finding from %q", f.VulnClass, f.ScannerID)
		}
		key := coordinateKey(f)
		g, ok := groups[key]
		if !ok {
			g = &group{
				winner:       f,
				scannerSet:   map[string]bool{},
				freshScanner: map[string]bool{},
				descSet:      map[string]bool{},
				evidenceSet:  map[string]bool{},
			}
			groups[key] = g
			order = append(order, key)
		}
		fold(g, f)
	}

	emitted := make([]core.Finding, 0, len(order))
	for _, key := range order {
		g := groups[key]
		finding := finalize(g)
		if finding.Confidence >= opts.threshold() || g.multiScanner() {
			emitted = append(emitted, finding)
		}
	}

	sort.SliceStable(emitted, func(i, j int) bool {
		if emitted[i].Severity != emitted[j].Severity {
			return emitted[i].Severity.Higher(emitted[j].Severity)
		}
		return emitted[i].Confidence > emitted[j].Confidence
	})

	return emitted, nil
}

func coordinateKey(f core.Finding) string {
	return string(f.VulnClass) + "\x00" + f.File + "\x00" + fmt.Sprint(f.Line)
}

// fold incorporates one contributing finding into the group's running
// fusion state. Severity picks a "winner" (ties keep the incumbent);
// confidence tracks the max seen across every contribution regardless of
// which finding won on severity.
func fold(g *group, f core.Finding) {
	if f.Severity.Higher(g.winner.Severity) {
		g.winner = f
	}
	if f.Confidence > g.maxConf {
		g.maxConf = f.Confidence
	}

	// ScannerID may itself already be a " + "-joined fusion (re-aggregating
	// a previously emitted finding, or corroboration across >2 scanners);
	// split it so the recorded scanner set reflects every distinct scanner
	// that ever touched this coordinate, even across passes.
	alreadyFused := strings.Contains(f.ScannerID, " + ")
	for _, id := range strings.Split(f.ScannerID, " + ") {
		if id == "" || g.scannerSet[id] {
			continue
		}
		g.scannerSet[id] = true
		g.scannerIDs = append(g.scannerIDs, id)
	}
	// Only a finding that is not itself already a fused product can add
	// fresh corroboration: it names exactly one scanner, so a distinct id
	// here means a genuinely new scanner contributed this pass.
	if !alreadyFused && f.ScannerID != "" {
		g.freshScanner[f.ScannerID] = true
	}
	if f.Description != "" && !g.descSet[f.Description] {
		g.descSet[f.Description] = true
		g.descriptions = append(g.descriptions, f.Description)
	}
	if f.Evidence != "" && !g.evidenceSet[f.Evidence] {
		g.evidenceSet[f.Evidence] = true
		g.evidences = append(g.evidences, f.Evidence)
	}
}

// finalize computes the group's fused finding. The +5 corroboration boost
// is applied to maxConf only when g.corroborated() — at least two
// distinct scanners contributed this pass. Two rules within the same
// scanner firing on the same coordinate share one ScannerID and never
// corroborate each other. A group fed a single already-fused finding
// (e.g. Aggregate run again over its own prior output) contributes no
// fresh scanner at all, so repeated aggregation is a no-op.
func finalize(g *group) core.Finding {
	f := g.winner
	conf := g.maxConf
	if g.corroborated() {
		conf += 5
	}
	if conf > 99 {
		conf = 99
	}
	f.Confidence = conf

	sort.Strings(g.scannerIDs)
	f.ScannerID = strings.Join(g.scannerIDs, " + ")

	if len(g.evidences) > 0 {
		sort.Strings(g.evidences)
		f.Evidence = strings.Join(g.evidences, "\n")
	}
	if len(g.descriptions) > 0 {
		sort.Strings(g.descriptions)
		f.Description = strings.Join(g.descriptions, " | ")
	}

	if g.multiScanner() && !strings.Contains(f.Title, "(corroborated)") {
		f.Title = strings.TrimSpace(f.Title) + " (corroborated)"
	}

	f.ID = core.ID(f.ScannerID, f.VulnClass, f.File, f.Line)
	return f
}
