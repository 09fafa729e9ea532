package core

// VulnClass is a closed enumeration of vulnerability tags. Unknown tags are
// rejected at the aggregator's ingress (see aggregator.Aggregate).
type VulnClass string

const (
	// Solana/Anchor-specific classes.
	VulnMissingSignerCheck VulnClass = "missing_signer_check"
	VulnArbitraryCPI       VulnClass = "arbitrary_cpi"
	VulnNonCanonicalBump   VulnClass = "non_canonical_bump"
	VulnMissingOwnerCheck  VulnClass = "missing_owner_check"
	VulnUncheckedAccount   VulnClass = "unchecked_account"
	VulnIntegerOverflow    VulnClass = "integer_overflow"
	VulnReinitAttack       VulnClass = "reinitialization"
	VulnPDASeedCollision   VulnClass = "pda_seed_collision"

	// General-purpose classes.
	VulnSQLInjection     VulnClass = "sql_injection"
	VulnCommandInjection VulnClass = "command_injection"
	VulnHardcodedSecret  VulnClass = "hardcoded_secret"
	VulnUnsafeDeserial   VulnClass = "unsafe_deserialization"
	VulnPathTraversal    VulnClass = "path_traversal"
)

// knownVulnClasses is the closed set used to validate incoming findings.
var knownVulnClasses = map[VulnClass]bool{
	VulnMissingSignerCheck: true,
	VulnArbitraryCPI:       true,
	VulnNonCanonicalBump:   true,
	VulnMissingOwnerCheck:  true,
	VulnUncheckedAccount:   true,
	VulnIntegerOverflow:    true,
	VulnReinitAttack:       true,
	VulnPDASeedCollision:   true,
	VulnSQLInjection:       true,
	VulnCommandInjection:   true,
	VulnHardcodedSecret:    true,
	VulnUnsafeDeserial:     true,
	VulnPathTraversal:      true,
}

// Known reports whether v is a recognized vulnerability class.
func (v VulnClass) Known() bool {
	return knownVulnClasses[v]
}
