package authc

import (
	"context"
	"time"

	"github.com/shardkit/authc/actor"
)

const (
	slotTenantConfig = "config"
	slotTenantOwners = "owners"
)

// TenantActor owns one tenant's configuration and owner list. All its
// operations are serialized by the underlying actor handle; no two mutations
// on the same tenant ever interleave.
type TenantActor struct {
	handle *actor.Handle
	now    func() time.Time
	logger Logger
}

func newTenantActor(handle *actor.Handle, now func() time.Time, logger Logger) *TenantActor {
	return &TenantActor{handle: handle, now: now, logger: normalizeLogger(logger)}
}

// ID returns the tenant id this actor serves.
func (t *TenantActor) ID() string { return t.handle.Key() }

// Create persists the tenant configuration and seeds the owner map.
//
// First writer wins in the sense that the earliest Create establishes the
// record, but a second Create on the same key is NOT rejected: fields
// present in its payload overwrite the stored ones, mirroring a deliberate
// (and documented) overwrite hazard in the protocol. Callers wanting
// create-only semantics must Get first.
func (t *TenantActor) Create(ctx context.Context, cfg TenantConfig, owner Owner) (TenantConfig, error) {
	var out TenantConfig
	err := t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		existing := TenantConfig{}
		found, err := st.Get(ctx, slotTenantConfig, &existing)
		if err != nil {
			return storageErr(err, "tenant config load failed")
		}

		now := t.now()
		merged := cfg
		if found {
			merged = overlayTenantConfig(existing, cfg)
		} else {
			merged.CreatedAt = now
		}
		merged.UpdatedAt = now
		merged.Settings = withSettingsDefaults(merged.Settings)

		if err := st.Put(ctx, slotTenantConfig, merged); err != nil {
			return storageErr(err, "tenant config save failed")
		}

		owners := map[string]Owner{owner.ID: owner}
		if err := st.Put(ctx, slotTenantOwners, owners); err != nil {
			return storageErr(err, "tenant owners save failed")
		}

		out = merged
		return nil
	})
	return out, err
}

// Get returns the stored tenant configuration.
func (t *TenantActor) Get(ctx context.Context) (TenantConfig, error) {
	var out TenantConfig
	err := t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		found, err := st.Get(ctx, slotTenantConfig, &out)
		if err != nil {
			return storageErr(err, "tenant config load failed")
		}
		if !found {
			return ErrUnauthorized
		}
		return nil
	})
	return out, err
}

// Update applies a typed patch: settings merge field by field, other fields
// overwrite when supplied. The write is persisted before Update returns.
func (t *TenantActor) Update(ctx context.Context, patch TenantPatch) (TenantConfig, error) {
	var out TenantConfig
	err := t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		cfg := TenantConfig{}
		found, err := st.Get(ctx, slotTenantConfig, &cfg)
		if err != nil {
			return storageErr(err, "tenant config load failed")
		}
		if !found {
			return ErrUnauthorized
		}

		cfg = patch.Apply(cfg, t.now())
		if err := st.Put(ctx, slotTenantConfig, cfg); err != nil {
			return storageErr(err, "tenant config save failed")
		}

		out = cfg
		return nil
	})
	return out, err
}

// SetOwner upserts an owner entry.
func (t *TenantActor) SetOwner(ctx context.Context, owner Owner) error {
	return t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		owners := map[string]Owner{}
		if _, err := st.Get(ctx, slotTenantOwners, &owners); err != nil {
			return storageErr(err, "tenant owners load failed")
		}

		owners[owner.ID] = owner
		if err := st.Put(ctx, slotTenantOwners, owners); err != nil {
			return storageErr(err, "tenant owners save failed")
		}
		return nil
	})
}

// Owners returns the owner map.
func (t *TenantActor) Owners(ctx context.Context) (map[string]Owner, error) {
	owners := map[string]Owner{}
	err := t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		if _, err := st.Get(ctx, slotTenantOwners, &owners); err != nil {
			return storageErr(err, "tenant owners load failed")
		}
		return nil
	})
	return owners, err
}

// overlayTenantConfig merges an incoming Create payload over the existing
// record: supplied fields win, settings overlay field-wise based on zero
// values.
func overlayTenantConfig(existing, incoming TenantConfig) TenantConfig {
	out := existing
	if incoming.ID != "" {
		out.ID = incoming.ID
	}
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	out.Settings = overlaySettings(existing.Settings, incoming.Settings)
	return out
}

func overlaySettings(existing, incoming Settings) Settings {
	out := existing
	if incoming.AccessTokenTTL != 0 {
		out.AccessTokenTTL = incoming.AccessTokenTTL
	}
	if incoming.RefreshSessionTTL != 0 {
		out.RefreshSessionTTL = incoming.RefreshSessionTTL
	}
	if incoming.SigningSecret != "" {
		out.SigningSecret = incoming.SigningSecret
	}
	if incoming.SigningAlgorithm != "" {
		out.SigningAlgorithm = incoming.SigningAlgorithm
	}
	if incoming.RedirectURI != "" {
		out.RedirectURI = incoming.RedirectURI
	}
	if incoming.AllowMultipleAccounts {
		out.AllowMultipleAccounts = true
	}
	if incoming.MaxConcurrentSessions != 0 {
		out.MaxConcurrentSessions = incoming.MaxConcurrentSessions
	}
	if incoming.FailedLoginLimit != 0 {
		out.FailedLoginLimit = incoming.FailedLoginLimit
	}
	if incoming.PasswordPattern != "" {
		out.PasswordPattern = incoming.PasswordPattern
	}
	return out
}

// withSettingsDefaults fills the fields a tenant cannot operate without.
func withSettingsDefaults(s Settings) Settings {
	if s.AccessTokenTTL <= 0 {
		s.AccessTokenTTL = 86400
	}
	if s.RefreshSessionTTL <= 0 {
		s.RefreshSessionTTL = 3600
	}
	if s.SigningAlgorithm == "" {
		s.SigningAlgorithm = "HS256"
	}
	if s.SigningSecret == "" {
		s.SigningSecret = NewSigningSecret()
	}
	return s
}
