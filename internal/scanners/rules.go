package scanners

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hydra-audit/hydra/internal/core"
)

// Rule is a user-supplied detection pattern loaded from YAML, built on a
// DetectionRule/LoadRules idiom and narrowed to what a regex-based Hydra
// scanner needs.
type Rule struct {
	ID          string         `yaml:"id"`
	VulnClass   core.VulnClass `yaml:"vuln_class"`
	Severity    core.Severity  `yaml:"severity"`
	Confidence  int            `yaml:"confidence"`
	Pattern     string         `yaml:"pattern"`
	FileGlob    string         `yaml:"file_glob"`
	Description string         `yaml:"description"`
	Enabled     bool           `yaml:"enabled"`

	compiled *regexp.Regexp
}

// LoadRules reads every *.yml/*.yaml file under rulesDir and compiles each
// rule's pattern. A missing or empty rulesDir is not an error: rule-based
// scanning is additive on top of the built-in scanners.
func LoadRules(rulesDir string) ([]Rule, error) {
	if rulesDir == "" {
		return nil, nil
	}
	info, err := os.Stat(rulesDir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	var paths []string
	err = filepath.Walk(rulesDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return nil
		}
		lower := strings.ToLower(path)
		if strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var rules []Rule
	for _, p := range paths {
		fileRules, err := loadRuleFile(p)
		if err != nil {
			return nil, fmt.Errorf("scanners: loading rules from %s: %w", p, err)
		}
		rules = append(rules, fileRules...)
	}
	return rules, nil
}

func loadRuleFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var out []Rule
	for _, r := range doc.Rules {
		if r.ID == "" || r.Pattern == "" {
			continue
		}
		if !r.VulnClass.Known() {
			return nil, fmt.Errorf("rule %q: unknown vuln_class %q", r.ID, r.VulnClass)
		}
		if !r.Severity.Valid() {
			r.Severity = core.SeverityMedium
		}
		if r.Confidence <= 0 {
			r.Confidence = 60
		}
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid pattern: %w", r.ID, err)
		}
		r.compiled = compiled
		if r.FileGlob == "" {
			r.FileGlob = "*"
		}
		out = append(out, r)
	}
	return out, nil
}

// RuleScanner evaluates a set of user-supplied Rules against every scanned
// file, in addition to the built-in domain scanners.
type RuleScanner struct {
	Rules []Rule
}

func NewRuleScanner(rules []Rule) *RuleScanner {
	enabled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return &RuleScanner{Rules: enabled}
}

func (s *RuleScanner) ID() string { return "rule_scanner" }

func (s *RuleScanner) Scan(rootAbsPath string, files []string) ([]core.Finding, error) {
	if len(s.Rules) == 0 {
		return nil, nil
	}
	var findings []core.Finding
	for _, path := range files {
		var lines []string
		for _, r := range s.Rules {
			if match, _ := filepath.Match(r.FileGlob, filepath.Base(path)); r.FileGlob != "*" && !match {
				continue
			}
			if lines == nil {
				var err error
				lines, err = readLines(path)
				if err != nil {
					break
				}
			}
			for i, line := range lines {
				if r.compiled.MatchString(line) {
					findings = append(findings, core.Finding{
						ScannerID:   s.ID(),
						VulnClass:   r.VulnClass,
						Severity:    r.Severity,
						Confidence:  r.Confidence,
						File:        path,
						Line:        i + 1,
						Title:       r.ID,
						Description: r.Description,
						Evidence:    snippetAround(lines, i+1, 1),
					})
				}
			}
		}
	}
	return findings, nil
}
