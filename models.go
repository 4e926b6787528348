package authc

import "time"

// GrantRole is the role an access grant confers on a tenant.
type GrantRole = string

const (
	// RoleOwner may read and administer the tenant configuration.
	RoleOwner GrantRole = "owner"
	// RoleMember belongs to the tenant without admin rights.
	RoleMember GrantRole = "member"
)

// ProviderEmail is the built-in email/password provider name.
const ProviderEmail = "email"

// Settings is the per-tenant token and session policy.
type Settings struct {
	AccessTokenTTL        int64  `json:"expires_in,omitempty"`
	RefreshSessionTTL     int64  `json:"session_expiration_time,omitempty"`
	SigningSecret         string `json:"secret,omitempty"`
	SigningAlgorithm      string `json:"algorithm,omitempty"`
	RedirectURI           string `json:"redirect_uri,omitempty"`
	AllowMultipleAccounts bool   `json:"allow_multiple_accounts,omitempty"`
	MaxConcurrentSessions int    `json:"max_concurrent_sessions,omitempty"`
	FailedLoginLimit      int    `json:"failed_login_attempts,omitempty"`
	PasswordPattern       string `json:"password_regex,omitempty"`
}

// TenantConfig holds one tenant's configuration. It is owned by the tenant
// actor; everyone else sees copies.
type TenantConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Owner is a tenant administrator entry.
type Owner struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Invited bool   `json:"invited"`
}

// SettingsPatch is a field-level overlay for tenant settings: only non-nil
// fields change the stored value.
type SettingsPatch struct {
	AccessTokenTTL        *int64  `json:"expires_in,omitempty"`
	RefreshSessionTTL     *int64  `json:"session_expiration_time,omitempty"`
	SigningSecret         *string `json:"secret,omitempty"`
	SigningAlgorithm      *string `json:"algorithm,omitempty"`
	RedirectURI           *string `json:"redirect_uri,omitempty"`
	AllowMultipleAccounts *bool   `json:"allow_multiple_accounts,omitempty"`
	MaxConcurrentSessions *int    `json:"max_concurrent_sessions,omitempty"`
	FailedLoginLimit      *int    `json:"failed_login_attempts,omitempty"`
	PasswordPattern       *string `json:"password_regex,omitempty"`
}

// TenantPatch is a partial tenant update. Settings merge field by field; the
// remaining fields overwrite when supplied.
type TenantPatch struct {
	Name     *string        `json:"name,omitempty"`
	Settings *SettingsPatch `json:"settings,omitempty"`
}

// Apply overlays the patch on cfg and stamps UpdatedAt.
func (p TenantPatch) Apply(cfg TenantConfig, now time.Time) TenantConfig {
	if p.Name != nil {
		cfg.Name = *p.Name
	}
	if p.Settings != nil {
		cfg.Settings = p.Settings.Apply(cfg.Settings)
	}
	cfg.UpdatedAt = now
	return cfg
}

// Apply overlays the patch on s, leaving unset fields untouched.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.AccessTokenTTL != nil {
		s.AccessTokenTTL = *p.AccessTokenTTL
	}
	if p.RefreshSessionTTL != nil {
		s.RefreshSessionTTL = *p.RefreshSessionTTL
	}
	if p.SigningSecret != nil {
		s.SigningSecret = *p.SigningSecret
	}
	if p.SigningAlgorithm != nil {
		s.SigningAlgorithm = *p.SigningAlgorithm
	}
	if p.RedirectURI != nil {
		s.RedirectURI = *p.RedirectURI
	}
	if p.AllowMultipleAccounts != nil {
		s.AllowMultipleAccounts = *p.AllowMultipleAccounts
	}
	if p.MaxConcurrentSessions != nil {
		s.MaxConcurrentSessions = *p.MaxConcurrentSessions
	}
	if p.FailedLoginLimit != nil {
		s.FailedLoginLimit = *p.FailedLoginLimit
	}
	if p.PasswordPattern != nil {
		s.PasswordPattern = *p.PasswordPattern
	}
	return s
}

// Identity is a user record scoped to one tenant and one provider. Exactly
// one identity exists per (tenant, provider, normalized email); the actor key
// derivation enforces it by construction.
type Identity struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	Name              string     `json:"name,omitempty"`
	Email             string     `json:"email"`
	Provider          string     `json:"provider"`
	ProviderSubjectID string     `json:"provider_subject_id,omitempty"`
	AvatarURL         string     `json:"avatar_url,omitempty"`
	PasswordHash      string     `json:"password_hash,omitempty"`
	Salt              string     `json:"salt,omitempty"`
	EmailVerified     bool       `json:"email_verified"`
	LoginAttempts     int        `json:"login_attempts,omitempty"`
	LoginAttemptAt    *time.Time `json:"login_attempt_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at,omitempty"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
}

// AccessGrant lets one identity administer or belong to a tenant. Grant
// existence is the sole authority for tenant-admin access.
type AccessGrant struct {
	IdentityID string    `json:"identity_id"`
	TenantID   string    `json:"tenant_id"`
	Role       GrantRole `json:"role"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Session is one authenticated login instance. An identity may hold many
// concurrent sessions unless tenant policy caps them.
type Session struct {
	ID         string    `json:"session_id"`
	IdentityID string    `json:"identity_id"`
	TenantID   string    `json:"tenant_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// RefreshTokenRecord is the authoritative pointer from a refresh-token value
// to the session it anchors. IdentityKey carries the identity actor key so a
// refresh never needs a secondary lookup to find the shard.
type RefreshTokenRecord struct {
	Token       string    `json:"token"`
	TenantID    string    `json:"tenant_id"`
	IdentityID  string    `json:"identity_id"`
	IdentityKey string    `json:"identity_key"`
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// TokenPatch merges fields into a stored refresh-token record. The token
// value itself is the actor key and cannot be patched; rotation is a delete
// plus a fresh Put under the new key.
type TokenPatch struct {
	IdentityID  *string `json:"identity_id,omitempty"`
	IdentityKey *string `json:"identity_key,omitempty"`
	SessionID   *string `json:"session_id,omitempty"`
}

// Apply overlays the patch on rec.
func (p TokenPatch) Apply(rec RefreshTokenRecord) RefreshTokenRecord {
	if p.IdentityID != nil {
		rec.IdentityID = *p.IdentityID
	}
	if p.IdentityKey != nil {
		rec.IdentityKey = *p.IdentityKey
	}
	if p.SessionID != nil {
		rec.SessionID = *p.SessionID
	}
	return rec
}

// AuthResult is what a successful register/login/link returns.
type AuthResult struct {
	Identity     Identity `json:"identity"`
	Session      Session  `json:"session"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
}
