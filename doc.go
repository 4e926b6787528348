// Package authc implements a multi-tenant identity provider built on
// durably-backed, single-writer actors.
//
// Every stateful entity (tenant configuration, user identity, refresh-token
// index, activity log) lives behind an actor keyed by a deterministic string.
// Operations against one key are strictly serialized; operations against
// different keys run in parallel with no shared mutable state. The
// Authenticator composes those actors into the registration, login, refresh
// and provider-linking protocols, and is the only layer allowed to touch more
// than one actor per logical operation.
package authc
