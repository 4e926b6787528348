package authc

import (
	"strings"

	"github.com/goliatone/hashid/pkg/hashid"
)

// Actor kinds. Every actor key lives in exactly one of these namespaces.
const (
	KindTenant     = "tenant"
	KindIdentity   = "identity"
	KindTokenIndex = "token"
	KindActivity   = "activity"
)

// NormalizeEmail lowercases and trims an email address so the same mailbox
// always derives the same identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IdentityKeyFor derives the identity actor key for a (tenant, provider,
// email) triple. Routing every lookup and creation through this key is what
// enforces the one-identity-per-triple invariant: collisions always land on
// the same shard and are resolved in-process.
func IdentityKeyFor(tenantID, provider, email string) string {
	seed := tenantID + ":" + provider + ":" + NormalizeEmail(email)
	if id, err := hashid.NewUUID(seed); err == nil {
		return id.String()
	}
	// hashid only fails on impossible encoder states; the raw seed is still
	// deterministic and keeps the shard routing correct.
	return seed
}
