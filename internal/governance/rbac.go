// Package governance's RBAC layer gates the daemon's HTTP surface (the
// trigger/runs/audit endpoints) via an API-key-to-role map; the CLI does
// not consult it. Authorization is two-tiered: a
// flat permission table for the endpoint being hit, plus a scan-mode
// ceiling for the trigger endpoint specifically, since a full-repository
// scan reads and hashes every file under a target while a diff scan only
// touches the changed set.
package governance

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/hydra-audit/hydra/internal/core"
)

// Role defines RBAC roles.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleAnalyst   Role = "analyst"
	RoleDeveloper Role = "developer"
	RoleViewer    Role = "viewer"
)

// RolePermissions maps roles to their allowed daemon/CLI actions.
var RolePermissions = map[Role]map[string]bool{
	RoleAdmin: {
		"scan": true, "diff": true,
		"policy:read": true, "policy:write": true,
		"audit:read": true, "audit:export": true,
		"daemon:trigger": true, "daemon:runs:read": true,
		"patch:apply": true, "config:write": true,
	},
	RoleAnalyst: {
		"scan": true, "diff": true,
		"policy:read": true,
		"audit:read": true, "audit:export": true,
		"daemon:trigger": true, "daemon:runs:read": true,
		"patch:apply": true,
	},
	RoleDeveloper: {
		"scan": true, "diff": true,
		"policy:read": true,
		"daemon:trigger": true, "daemon:runs:read": true,
	},
	RoleViewer: {
		"scan": true, "diff": true,
		"policy:read":      true,
		"daemon:runs:read": true,
	},
}

// maxTriggerMode caps the scan.Mode a role's key can request of
// POST /trigger, independent of the flat "daemon:trigger" permission
// above. A full scan walks and re-hashes the whole target tree
// (internal/threatmodel's MaxSourceFiles ceiling), so it is reserved for
// roles trusted to run expensive, repo-wide audits; developer keys may
// only ever request bounded diff scans against their own changes.
var maxTriggerMode = map[Role]core.ScanMode{
	RoleAdmin:     core.ModeFull,
	RoleAnalyst:   core.ModeFull,
	RoleDeveloper: core.ModeDiff,
}

// APIKey represents an API key with an associated role.
type APIKey struct {
	Key  string `json:"key"`
	Role Role   `json:"role"`
	Name string `json:"name"`
}

// RBACManager manages role-based access control.
type RBACManager struct {
	mu   sync.RWMutex
	keys map[string]APIKey // key -> APIKey
}

// NewRBACManager creates a new RBACManager.
func NewRBACManager() *RBACManager {
	return &RBACManager{
		keys: make(map[string]APIKey),
	}
}

// GenerateKey creates a new API key with the given role and name.
func (r *RBACManager) GenerateKey(role Role, name string) APIKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := make([]byte, 24)
	rand.Read(b)
	key := "hydra_" + hex.EncodeToString(b)

	apiKey := APIKey{Key: key, Role: role, Name: name}
	r.keys[key] = apiKey
	return apiKey
}

// RevokeKey removes an API key, returning whether it existed.
func (r *RBACManager) RevokeKey(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; !ok {
		return false
	}
	delete(r.keys, key)
	return true
}

// ValidateKey checks if an API key is valid and returns the associated role.
func (r *RBACManager) ValidateKey(key string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ak, ok := r.keys[key]
	if !ok {
		return "", false
	}
	return ak.Role, true
}

// HasPermission checks if a role has the given permission.
func HasPermission(role Role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	return perms[permission]
}

// Authorize checks if an API key has the given permission.
func (r *RBACManager) Authorize(key, permission string) bool {
	role, valid := r.ValidateKey(key)
	if !valid {
		return false
	}
	return HasPermission(role, permission)
}

// AuthorizeScan reports whether the given API key may trigger a scan in
// mode, folding both the flat "daemon:trigger" permission and the
// per-role mode ceiling into a single check. Viewer keys hold no trigger
// permission at all and fail here regardless of mode.
func (r *RBACManager) AuthorizeScan(key string, mode core.ScanMode) bool {
	role, valid := r.ValidateKey(key)
	if !valid || !HasPermission(role, "daemon:trigger") {
		return false
	}
	ceiling, ok := maxTriggerMode[role]
	if !ok {
		return false
	}
	if mode == core.ModeDiff {
		return true
	}
	return ceiling == core.ModeFull
}
