package authc

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/shardkit/authc/actor"
)

const (
	slotIdentity = "identity"
	slotSessions = "sessions"
	slotGrants   = "grants"
)

// loginCooldown is the window inside which failed attempts count against
// the tenant's failed-login limit.
var loginCooldown = 24 * time.Hour

// RegisterInput carries everything the identity actor needs to create an
// email/password identity. The tenant config travels with the request so the
// actor never has to call back into the tenant shard.
type RegisterInput struct {
	Tenant   TenantConfig
	Name     string
	Email    string
	Password string
}

// LoginInput carries a password login attempt.
type LoginInput struct {
	Tenant   TenantConfig
	Password string
}

// ProviderProfile is what an OAuth exchange yields about the remote user.
type ProviderProfile struct {
	Provider      string `json:"provider"`
	SubjectID     string `json:"subject_id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// IdentityActor owns one user's credential, sessions and tenant access
// grants. One instance exists per (tenant, provider, normalized email) key;
// serialization on that key is what resolves concurrent registrations
// without a distributed lock.
type IdentityActor struct {
	handle *actor.Handle
	tokens *TokenService
	sink   ActivitySink
	now    func() time.Time
	logger Logger
}

func newIdentityActor(handle *actor.Handle, tokens *TokenService, sink ActivitySink, now func() time.Time, logger Logger) *IdentityActor {
	return &IdentityActor{
		handle: handle,
		tokens: tokens,
		sink:   normalizeActivitySink(sink),
		now:    now,
		logger: normalizeLogger(logger),
	}
}

// Key returns the identity actor key.
func (a *IdentityActor) Key() string { return a.handle.Key() }

// Register creates the identity on this shard, hashes the credential, opens
// the initial session and returns tokens. A shard that already holds an
// identity fails with ErrDuplicateIdentity — concurrent registrations on the
// same key yield exactly one success.
func (a *IdentityActor) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	var out *AuthResult
	err := a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		existing := Identity{}
		found, err := st.Get(ctx, slotIdentity, &existing)
		if err != nil {
			return storageErr(err, "identity load failed")
		}
		if found {
			return ErrDuplicateIdentity
		}

		if pattern := in.Tenant.Settings.PasswordPattern; pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				a.logger.Warn("tenant %s has an invalid password pattern: %v", in.Tenant.ID, err)
			} else if !re.MatchString(in.Password) {
				return ErrPolicyViolation
			}
		}

		salt, hash, err := HashPassword(in.Password)
		if err != nil {
			return err
		}

		now := a.now()
		identity := Identity{
			ID:           NewLocalID(),
			TenantID:     in.Tenant.ID,
			Name:         in.Name,
			Email:        NormalizeEmail(in.Email),
			Provider:     ProviderEmail,
			PasswordHash: hash,
			Salt:         salt,
			CreatedAt:    now,
		}

		if err := st.Put(ctx, slotIdentity, identity); err != nil {
			return storageErr(err, "identity save failed")
		}

		result, err := a.openSession(ctx, st, identity, in.Tenant, map[string]Session{})
		if err != nil {
			return err
		}

		a.emit(ctx, ActivityEvent{
			TenantID:   in.Tenant.ID,
			IdentityID: identity.ID,
			Kind:       ActivityRegistered,
			Payload:    map[string]any{"email": identity.Email},
			OccurredAt: now,
		})

		out = result
		return nil
	})
	return out, err
}

// Login verifies the credential and opens a new session. Tenant policy may
// cap concurrent sessions, in which case the oldest is evicted first.
func (a *IdentityActor) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	var out *AuthResult
	err := a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		identity := Identity{}
		found, err := st.Get(ctx, slotIdentity, &identity)
		if err != nil {
			return storageErr(err, "identity load failed")
		}
		if !found {
			return ErrIdentityNotFound
		}

		now := a.now()
		if identity.LoginAttemptAt != nil && now.Sub(*identity.LoginAttemptAt) > loginCooldown {
			identity.LoginAttempts = 0
			identity.LoginAttemptAt = nil
		}

		if limit := in.Tenant.Settings.FailedLoginLimit; limit > 0 && identity.LoginAttempts >= limit {
			return ErrTooManyLoginAttempts
		}

		if !VerifyPassword(in.Password, identity.Salt, identity.PasswordHash) {
			identity.LoginAttempts++
			identity.LoginAttemptAt = &now
			if err := st.Put(ctx, slotIdentity, identity); err != nil {
				return storageErr(err, "identity save failed")
			}
			a.emit(ctx, ActivityEvent{
				TenantID:   in.Tenant.ID,
				IdentityID: identity.ID,
				Kind:       ActivityLoginFailed,
				OccurredAt: now,
			})
			return ErrInvalidCredential
		}

		identity.LoginAttempts = 0
		identity.LoginAttemptAt = nil
		identity.LastLoginAt = &now
		if err := st.Put(ctx, slotIdentity, identity); err != nil {
			return storageErr(err, "identity save failed")
		}

		sessions, err := a.loadSessions(ctx, st)
		if err != nil {
			return err
		}

		result, err := a.openSession(ctx, st, identity, in.Tenant, sessions)
		if err != nil {
			return err
		}

		a.emit(ctx, ActivityEvent{
			TenantID:   in.Tenant.ID,
			IdentityID: identity.ID,
			Kind:       ActivityLoggedIn,
			Payload:    map[string]any{"email": identity.Email},
			OccurredAt: now,
		})

		out = result
		return nil
	})
	return out, err
}

// LinkOrCreateFromProvider reuses the identity when the shard already holds
// one for this provider subject, otherwise creates it without a password.
// Either way a fresh session is opened.
func (a *IdentityActor) LinkOrCreateFromProvider(ctx context.Context, tenant TenantConfig, profile ProviderProfile) (*AuthResult, error) {
	var out *AuthResult
	err := a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		identity := Identity{}
		found, err := st.Get(ctx, slotIdentity, &identity)
		if err != nil {
			return storageErr(err, "identity load failed")
		}

		now := a.now()
		if !found {
			identity = Identity{
				ID:                NewLocalID(),
				TenantID:          tenant.ID,
				Name:              profile.Name,
				Email:             NormalizeEmail(profile.Email),
				Provider:          profile.Provider,
				ProviderSubjectID: profile.SubjectID,
				AvatarURL:         profile.AvatarURL,
				EmailVerified:     profile.EmailVerified,
				CreatedAt:         now,
			}
		} else if identity.ProviderSubjectID == "" {
			identity.ProviderSubjectID = profile.SubjectID
		}
		identity.LastLoginAt = &now

		if err := st.Put(ctx, slotIdentity, identity); err != nil {
			return storageErr(err, "identity save failed")
		}

		sessions, err := a.loadSessions(ctx, st)
		if err != nil {
			return err
		}

		result, err := a.openSession(ctx, st, identity, tenant, sessions)
		if err != nil {
			return err
		}

		a.emit(ctx, ActivityEvent{
			TenantID:   tenant.ID,
			IdentityID: identity.ID,
			Kind:       ActivitySocialLinked,
			Payload:    map[string]any{"provider": profile.Provider},
			OccurredAt: now,
		})

		out = result
		return nil
	})
	return out, err
}

// RefreshSession re-issues an access token bound to an existing session,
// using the tenant's current TTL and secret. The refresh token itself is
// not rotated here.
func (a *IdentityActor) RefreshSession(ctx context.Context, sessionID string, tenant TenantConfig) (string, int64, error) {
	var token string
	var expiresIn int64
	err := a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		identity := Identity{}
		found, err := st.Get(ctx, slotIdentity, &identity)
		if err != nil {
			return storageErr(err, "identity load failed")
		}
		if !found {
			return ErrIdentityNotFound
		}

		sessions, err := a.loadSessions(ctx, st)
		if err != nil {
			return err
		}
		if _, ok := sessions[sessionID]; !ok {
			return ErrSessionNotFound
		}

		token, expiresIn, err = a.tokens.Mint(tenant, identity, sessionID)
		return err
	})
	return token, expiresIn, err
}

// Get returns the stored identity.
func (a *IdentityActor) Get(ctx context.Context) (Identity, error) {
	var out Identity
	err := a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		found, err := st.Get(ctx, slotIdentity, &out)
		if err != nil {
			return storageErr(err, "identity load failed")
		}
		if !found {
			return ErrIdentityNotFound
		}
		return nil
	})
	return out, err
}

// AccessGrants returns this identity's tenant grants keyed by tenant id.
func (a *IdentityActor) AccessGrants(ctx context.Context) (map[string]AccessGrant, error) {
	grants := map[string]AccessGrant{}
	err := a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		if _, err := st.Get(ctx, slotGrants, &grants); err != nil {
			return storageErr(err, "grants load failed")
		}
		return nil
	})
	return grants, err
}

// SetAccessGrant upserts a grant.
func (a *IdentityActor) SetAccessGrant(ctx context.Context, grant AccessGrant) error {
	return a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		grants := map[string]AccessGrant{}
		if _, err := st.Get(ctx, slotGrants, &grants); err != nil {
			return storageErr(err, "grants load failed")
		}

		if grant.CreatedAt.IsZero() {
			grant.CreatedAt = a.now()
		}
		grants[grant.TenantID] = grant

		if err := st.Put(ctx, slotGrants, grants); err != nil {
			return storageErr(err, "grants save failed")
		}
		return nil
	})
}

// Sessions returns the live session map.
func (a *IdentityActor) Sessions(ctx context.Context) (map[string]Session, error) {
	var out map[string]Session
	err := a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		sessions, err := a.loadSessions(ctx, st)
		if err != nil {
			return err
		}
		out = sessions
		return nil
	})
	return out, err
}

func (a *IdentityActor) loadSessions(ctx context.Context, st actor.Storage) (map[string]Session, error) {
	sessions := map[string]Session{}
	if _, err := st.Get(ctx, slotSessions, &sessions); err != nil {
		return nil, storageErr(err, "sessions load failed")
	}
	return sessions, nil
}

// openSession creates a session, enforces the tenant's concurrent-session
// cap (oldest evicted first), persists, and mints the token pair. It runs
// inside the actor's serialized operation.
func (a *IdentityActor) openSession(ctx context.Context, st actor.Storage, identity Identity, tenant TenantConfig, sessions map[string]Session) (*AuthResult, error) {
	now := a.now()
	session := Session{
		ID:         NewLocalID(),
		IdentityID: identity.ID,
		TenantID:   tenant.ID,
		CreatedAt:  now,
	}
	sessions[session.ID] = session

	if limit := tenant.Settings.MaxConcurrentSessions; limit > 0 && len(sessions) > limit {
		evictOldestSessions(sessions, len(sessions)-limit, session.ID)
	}

	if err := st.Put(ctx, slotSessions, sessions); err != nil {
		return nil, storageErr(err, "sessions save failed")
	}

	accessToken, expiresIn, err := a.tokens.Mint(tenant, identity, session.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		Identity:     identity,
		Session:      session,
		AccessToken:  accessToken,
		RefreshToken: NewRefreshToken(),
		ExpiresIn:    expiresIn,
	}, nil
}

// evictOldestSessions removes the n oldest sessions. keep is the session
// being handed to the caller and is never a candidate: evicting it would
// return tokens for a session that no longer exists. Ties on CreatedAt
// (wall-clock resolution under load) break on session id so the order is
// deterministic.
func evictOldestSessions(sessions map[string]Session, n int, keep string) {
	ordered := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ID == keep {
			continue
		}
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	for i := 0; i < n && i < len(ordered); i++ {
		delete(sessions, ordered[i].ID)
	}
}

// emit sends an activity event fire-and-forget: sink failures are logged,
// never surfaced to the auth path.
func (a *IdentityActor) emit(ctx context.Context, event ActivityEvent) {
	if err := a.sink.Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error: %v", err)
	}
}
