package aggregator

import (
	"testing"

	"github.com/hydra-audit/hydra/internal/core"
)

func mkFinding(scanner string, sev core.Severity, conf int, file string, line int) core.Finding {
	return core.Finding{
		ScannerID:   scanner,
		VulnClass:   core.VulnMissingSignerCheck,
		Severity:    sev,
		Confidence:  conf,
		File:        file,
		Line:        line,
		Title:       "Missing signer check",
		Description: "desc-" + scanner,
		Evidence:    "evidence-" + scanner,
	}
}

func TestAggregateCorroborationBoost(t *testing.T) {
	// Two corroborating scanners at confidences 70 and 68 should emit
	// confidence min(99, 70+5) = 75, scanner_id "A + B", title corroborated.
	in := []core.Finding{
		mkFinding("A", core.SeverityHigh, 70, "/repo/lib.rs", 42),
		mkFinding("B", core.SeverityHigh, 68, "/repo/lib.rs", 42),
	}
	out, err := Aggregate(in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 emitted finding, got %d", len(out))
	}
	f := out[0]
	if f.Confidence != 75 {
		t.Fatalf("expected confidence 75, got %d", f.Confidence)
	}
	if f.ScannerID != "A + B" {
		t.Fatalf("expected scanner_id 'A + B', got %q", f.ScannerID)
	}
	if !containsSuffix(f.Title, "(corroborated)") {
		t.Fatalf("expected corroborated title, got %q", f.Title)
	}
}

func TestAggregateSameScannerTwiceDoesNotCorroborate(t *testing.T) {
	// Two findings from the same scanner at one coordinate (e.g. two
	// distinct detection rules both firing on the same line) must not
	// be treated as corroboration: no boost, no "(corroborated)" title,
	// and the emission gate still applies.
	in := []core.Finding{
		mkFinding("A", core.SeverityHigh, 76, "/repo/lib.rs", 42),
		mkFinding("A", core.SeverityHigh, 60, "/repo/lib.rs", 42),
	}
	out, err := Aggregate(in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected the uncorroborated same-scanner finding to be gated out, got %d: %+v", len(out), out)
	}

	high := []core.Finding{
		mkFinding("A", core.SeverityHigh, 90, "/repo/lib.rs", 42),
		mkFinding("A", core.SeverityHigh, 60, "/repo/lib.rs", 42),
	}
	out, err = Aggregate(high, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 emitted finding, got %d", len(out))
	}
	if out[0].Confidence != 90 {
		t.Fatalf("expected confidence unchanged at 90 (no corroboration boost), got %d", out[0].Confidence)
	}
	if containsSuffix(out[0].Title, "(corroborated)") {
		t.Fatalf("expected no corroborated title for a single-scanner group, got %q", out[0].Title)
	}
	if out[0].ScannerID != "A" {
		t.Fatalf("expected scanner_id 'A', got %q", out[0].ScannerID)
	}
}

func TestAggregateEmissionGate(t *testing.T) {
	low := []core.Finding{mkFinding("A", core.SeverityLow, 50, "/repo/x.rs", 1)}
	out, err := Aggregate(low, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected uncorroborated low-confidence finding to be gated out, got %d", len(out))
	}

	high := []core.Finding{mkFinding("A", core.SeverityLow, 85, "/repo/x.rs", 1)}
	out, err = Aggregate(high, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected uncorroborated high-confidence finding to pass the gate, got %d", len(out))
	}
}

func TestAggregateIdempotent(t *testing.T) {
	in := []core.Finding{
		mkFinding("A", core.SeverityHigh, 70, "/repo/lib.rs", 42),
		mkFinding("B", core.SeverityHigh, 68, "/repo/lib.rs", 42),
		mkFinding("C", core.SeverityMedium, 90, "/repo/other.rs", 7),
	}
	once, err := Aggregate(in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Aggregate(once, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(once) != len(twice) {
		t.Fatalf("idempotence violated: %d vs %d findings", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID || once[i].Confidence != twice[i].Confidence || once[i].Severity != twice[i].Severity {
			t.Fatalf("idempotence violated at %d: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestAggregateMonotonicity(t *testing.T) {
	before := []core.Finding{mkFinding("A", core.SeverityMedium, 60, "/repo/lib.rs", 5)}
	beforeOut, err := Aggregate(before, Options{MinUncorroboratedConfidence: 0})
	if err != nil {
		t.Fatal(err)
	}

	after := append(before, mkFinding("B", core.SeverityLow, 55, "/repo/lib.rs", 5))
	afterOut, err := Aggregate(after, Options{})
	if err != nil {
		t.Fatal(err)
	}

	// beforeOut may be empty (gated) but afterOut must not regress
	// confidence or severity relative to any coordinate present in
	// beforeOut.
	if len(beforeOut) == 1 && len(afterOut) == 1 {
		if afterOut[0].Confidence < beforeOut[0].Confidence {
			t.Fatalf("confidence decreased after adding a corroborating scanner: %d -> %d", beforeOut[0].Confidence, afterOut[0].Confidence)
		}
		if beforeOut[0].Severity.Higher(afterOut[0].Severity) {
			t.Fatalf("severity downgraded after adding a corroborating scanner: %s -> %s", beforeOut[0].Severity, afterOut[0].Severity)
		}
	}
}

func TestAggregateRejectsUnknownVulnClass(t *testing.T) {
	bad := core.Finding{ScannerID: "A", VulnClass: core.VulnClass("not_a_real_class"), Severity: core.SeverityHigh, Confidence: 90, File: "/repo/x", Line: 1}
	if _, err := Aggregate([]core.Finding{bad}, Options{}); err == nil {
		t.Fatal("expected error for unknown vuln_class")
	}
}

func containsSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
