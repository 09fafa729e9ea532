// AuditLog records hash-chained entries for daemon run lifecycle events,
// so a tampered or truncated log is detectable and a run's full
// scan-request shape (target, mode, ref range, result) survives after the
// in-memory Run record it was logged against ages out.
package governance

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hydra-audit/hydra/internal/core"
)

// Action is the closed set of events the audit chain records.
type Action string

const (
	ActionRunTriggered Action = "run_triggered"
	ActionRunCompleted Action = "run_completed"
	ActionRunFailed    Action = "run_failed"
)

// RunEvent is the Hydra-specific payload of a run lifecycle audit entry:
// enough of the triggering request and outcome to reconstruct what ran
// and what it found without re-reading the run store.
type RunEvent struct {
	RunID         string        `json:"run_id"`
	TargetPath    string        `json:"target_path,omitempty"`
	Mode          core.ScanMode `json:"mode,omitempty"`
	BaseRef       string        `json:"base_ref,omitempty"`
	HeadRef       string        `json:"head_ref,omitempty"`
	FindingsCount int           `json:"findings_count,omitempty"`
	PolicyBlocked bool          `json:"policy_blocked,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Action       Action    `json:"action"`
	Actor        string    `json:"actor"`
	Run          RunEvent  `json:"run"`
	PreviousHash string    `json:"previous_hash"`
	EntryHash    string    `json:"entry_hash"`
}

// AuditLog maintains an integrity-chained audit log.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewAuditLog creates a new AuditLog.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// LogRun appends a run lifecycle entry, chaining its hash off the prior
// entry's. actor is the trigger source recorded on the Run (the daemon's
// "api", "webhook:<event>" such as "webhook:push", or a CLI-supplied
// trigger label).
func (a *AuditLog) LogRun(action Action, actor string, event RunEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prevHash := ""
	if len(a.entries) > 0 {
		prevHash = a.entries[len(a.entries)-1].EntryHash
	}

	entry := AuditEntry{
		Timestamp:    time.Now().UTC(),
		Action:       action,
		Actor:        actor,
		Run:          event,
		PreviousHash: prevHash,
	}
	entry.EntryHash = hashEntry(entry)
	a.entries = append(a.entries, entry)
}

func hashEntry(entry AuditEntry) string {
	data, _ := json.Marshal(map[string]any{
		"timestamp":     entry.Timestamp.Format(time.RFC3339Nano),
		"action":        entry.Action,
		"actor":         entry.Actor,
		"run":           entry.Run,
		"previous_hash": entry.PreviousHash,
	})
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

// Entries returns all audit entries.
func (a *AuditLog) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	result := make([]AuditEntry, len(a.entries))
	copy(result, a.entries)
	return result
}

// VerifyIntegrity checks the integrity chain of the audit log, returning
// the index of the first broken link, or -1 if the chain is intact.
func (a *AuditLog) VerifyIntegrity() (bool, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, entry := range a.entries {
		if i == 0 {
			if entry.PreviousHash != "" {
				return false, i
			}
		} else if entry.PreviousHash != a.entries[i-1].EntryHash {
			return false, i
		}
		if entry.EntryHash != hashEntry(entry) {
			return false, i
		}
	}
	return true, -1
}

// Query returns entries matching action and/or actor filters in the order
// they were logged (oldest first); a positive limit keeps only the first
// limit matches.
func (a *AuditLog) Query(action, actor string, limit int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var results []AuditEntry
	for _, entry := range a.entries {
		if action != "" && string(entry.Action) != action {
			continue
		}
		if actor != "" && entry.Actor != actor {
			continue
		}
		results = append(results, entry)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// FindingsBlockedByPolicy sums PolicyBlocked run_completed entries,
// giving the daemon operator a running count of how often the policy
// gate has vetoed a run's findings without walking the run store.
func (a *AuditLog) FindingsBlockedByPolicy() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, entry := range a.entries {
		if entry.Action == ActionRunCompleted && entry.Run.PolicyBlocked {
			n++
		}
	}
	return n
}

// Export exports the audit log as JSON.
func (a *AuditLog) Export() ([]byte, error) {
	entries := a.Entries()
	return json.MarshalIndent(map[string]any{
		"entries": entries,
		"total":   len(entries),
	}, "", "  ")
}
