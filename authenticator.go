package authc

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/shardkit/authc/kvstore"
)

// ProviderExchanger turns an OAuth authorization code into a provider
// profile. Redirect URL construction and the provider HTTP round-trips live
// behind this interface, outside the module.
type ProviderExchanger interface {
	Exchange(ctx context.Context, tenant TenantConfig, provider, code string) (ProviderProfile, error)
}

// RegisterRequest is an email/password registration.
type RegisterRequest struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is an email/password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPair is what a refresh returns: a fresh access token paired with the
// (unrotated) refresh token that produced it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	IdentityID   string `json:"local_id"`
}

// SetupInput bootstraps the very first tenant plus its owner identity.
type SetupInput struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Settings Settings `json:"settings"`
}

// SetupResult reports what the bootstrap created.
type SetupResult struct {
	TenantID   string      `json:"application_id"`
	IdentityID string      `json:"user_id"`
	Auth       *AuthResult `json:"-"`
}

// Caller identifies an authenticated principal for admin operations.
type Caller struct {
	IdentityID  string
	IdentityKey string
	Claims      *AccessClaims
}

// PublicSettings is the sanitized tenant-settings view served to
// unauthenticated clients. It never includes the signing secret.
type PublicSettings struct {
	TenantID         string `json:"tenant_id"`
	Name             string `json:"name"`
	SigningAlgorithm string `json:"algorithm,omitempty"`
	RedirectURI      string `json:"redirect_uri,omitempty"`
	PasswordPattern  string `json:"password_regex,omitempty"`
	AccessTokenTTL   int64  `json:"expires_in,omitempty"`
}

const cacheKeyTenant = "tenant-settings:"

// Authenticator orchestrates the authentication protocols across tenant,
// identity and token-index actors. It holds no durable state of its own;
// the secondary KV store behind it is a cache, never the source of truth.
type Authenticator struct {
	dir       *Directory
	cache     kvstore.Store
	tokens    *TokenService
	sink      ActivitySink
	exchanger ProviderExchanger
	logger    Logger
	now       func() time.Time
}

// NewAuthenticator wires the orchestration layer.
func NewAuthenticator(dir *Directory, tokens *TokenService, cache kvstore.Store) *Authenticator {
	return &Authenticator{
		dir:    dir,
		cache:  cache,
		tokens: tokens,
		sink:   noopActivitySink{},
		logger: defLogger{},
		now:    time.Now,
	}
}

func (s *Authenticator) WithLogger(logger Logger) *Authenticator {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures the sink used for tenant-level events.
func (s *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	s.sink = normalizeActivitySink(sink)
	return s
}

// WithProviderExchanger wires the OAuth code exchange collaborator.
func (s *Authenticator) WithProviderExchanger(exchanger ProviderExchanger) *Authenticator {
	s.exchanger = exchanger
	return s
}

// WithClock overrides the time source, mostly for tests.
func (s *Authenticator) WithClock(now func() time.Time) *Authenticator {
	if now != nil {
		s.now = now
	}
	return s
}

// SetupTenant creates a tenant and its first owner identity in one flow:
// identity registration, tenant creation seeded with the owner, an owner
// access grant, and the refresh-token index entry for the initial session.
func (s *Authenticator) SetupTenant(ctx context.Context, in SetupInput) (*SetupResult, error) {
	cfg := TenantConfig{
		ID:       NewLocalID(),
		Name:     in.Name,
		Settings: withSettingsDefaults(in.Settings),
	}

	idActor := s.dir.IdentityFor(cfg.ID, ProviderEmail, in.Email)
	res, err := idActor.Register(ctx, RegisterInput{
		Tenant:   cfg,
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		return nil, err
	}

	owner := Owner{
		ID:    res.Identity.ID,
		Name:  in.Name,
		Email: NormalizeEmail(in.Email),
	}
	if _, err := s.dir.Tenant(cfg.ID).Create(ctx, cfg, owner); err != nil {
		return nil, err
	}

	if err := idActor.SetAccessGrant(ctx, AccessGrant{
		IdentityID: res.Identity.ID,
		TenantID:   cfg.ID,
		Role:       RoleOwner,
	}); err != nil {
		return nil, err
	}

	if err := s.indexSession(ctx, cfg.ID, idActor.Key(), res); err != nil {
		return nil, err
	}

	s.cacheTenant(ctx, cfg)
	s.emit(ctx, ActivityEvent{
		TenantID:   cfg.ID,
		IdentityID: res.Identity.ID,
		Kind:       ActivityTenantCreated,
		Payload:    map[string]any{"name": cfg.Name},
		OccurredAt: s.now(),
	})

	return &SetupResult{TenantID: cfg.ID, IdentityID: res.Identity.ID, Auth: res}, nil
}

// Register runs the email registration protocol: resolve the identity shard,
// create the identity and initial session, then bind the refresh token in
// the index. A duplicate shard surfaces ErrDuplicateIdentity untouched; an
// index write failure after the identity committed surfaces as
// ErrPartialFailure, never as success.
func (s *Authenticator) Register(ctx context.Context, tenantID string, req RegisterRequest) (*AuthResult, error) {
	cfg, err := s.tenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	idActor := s.dir.IdentityFor(cfg.ID, ProviderEmail, req.Email)
	res, err := idActor.Register(ctx, RegisterInput{
		Tenant:   cfg,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return nil, err
	}

	if err := s.indexSession(ctx, cfg.ID, idActor.Key(), res); err != nil {
		return nil, err
	}

	return res, nil
}

// Login runs the email login protocol.
func (s *Authenticator) Login(ctx context.Context, tenantID string, req LoginRequest) (*AuthResult, error) {
	cfg, err := s.tenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	idActor := s.dir.IdentityFor(cfg.ID, ProviderEmail, req.Email)
	res, err := idActor.Login(ctx, LoginInput{Tenant: cfg, Password: req.Password})
	if err != nil {
		return nil, err
	}

	if err := s.indexSession(ctx, cfg.ID, idActor.Key(), res); err != nil {
		return nil, err
	}

	return res, nil
}

// Refresh exchanges a refresh token for a new access token bound to the same
// session. The refresh token is not rotated: the caller keeps presenting the
// one it has. (Rotation-on-refresh was considered and rejected as a default;
// deployments that need it can rotate explicitly via RotateRefreshToken.)
func (s *Authenticator) Refresh(ctx context.Context, tenantID, refreshToken string) (*TokenPair, error) {
	rec, err := s.dir.TokenIndex(refreshToken).Get(ctx)
	if err != nil {
		return nil, err
	}

	// A token minted for another tenant must behave exactly like an unknown
	// token, leaking nothing about its existence.
	if rec.TenantID != tenantID {
		return nil, ErrTokenNotValid
	}

	cfg, err := s.tenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	accessToken, expiresIn, err := s.dir.Identity(rec.IdentityKey).RefreshSession(ctx, rec.SessionID, cfg)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		IdentityID:   rec.IdentityID,
	}, nil
}

// RotateRefreshToken atomically (from the caller's point of view) replaces
// the refresh-token value anchoring a session: a new index entry is written
// first, then the old one is deleted. A crash between the two leaves both
// valid, which reconciliation can clean up; it never leaves neither.
func (s *Authenticator) RotateRefreshToken(ctx context.Context, tenantID, refreshToken string) (string, error) {
	old := s.dir.TokenIndex(refreshToken)
	rec, err := old.Get(ctx)
	if err != nil {
		return "", err
	}
	if rec.TenantID != tenantID {
		return "", ErrTokenNotValid
	}

	next := NewRefreshToken()
	rec.Token = next
	rec.CreatedAt = s.now()
	if err := s.dir.TokenIndex(next).Put(ctx, rec); err != nil {
		return "", err
	}

	if err := old.Delete(ctx); err != nil {
		s.logger.Warn("stale refresh token %q left behind during rotation: %v", refreshToken, err)
	}
	return next, nil
}

// ProviderCallback finishes an OAuth flow: exchange the authorization code
// for a profile, link or create the identity, and bind the refresh token.
// It returns the auth result plus the tenant's configured redirect URI.
func (s *Authenticator) ProviderCallback(ctx context.Context, tenantID, provider, code string) (*AuthResult, string, error) {
	cfg, err := s.tenantConfig(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}

	if s.exchanger == nil {
		return nil, "", ErrRedirectFailed
	}

	profile, err := s.exchanger.Exchange(ctx, cfg, provider, code)
	if err != nil {
		s.logger.Error("provider code exchange failed: %v", err)
		return nil, "", errors.Wrap(err, ErrRedirectFailed.Category, ErrRedirectFailed.Message).
			WithTextCode(TextCodeRedirectFailed).
			WithCode(errors.CodeUnauthorized)
	}
	profile.Provider = provider

	idActor := s.dir.IdentityFor(cfg.ID, provider, profile.Email)
	res, err := idActor.LinkOrCreateFromProvider(ctx, cfg, profile)
	if err != nil {
		return nil, "", err
	}

	if err := s.indexSession(ctx, cfg.ID, idActor.Key(), res); err != nil {
		return nil, "", err
	}

	return res, cfg.Settings.RedirectURI, nil
}

// CallerFromToken verifies an access token against the tenant's secret and
// resolves the caller's identity shard from its claims.
func (s *Authenticator) CallerFromToken(ctx context.Context, tenantID, accessToken string) (*Caller, error) {
	cfg, err := s.tenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	claims, err := s.tokens.Verify(accessToken, cfg.Settings.SigningSecret)
	if err != nil {
		return nil, err
	}

	provider := claims.SignInProvider
	if provider == "" {
		provider = ProviderEmail
	}

	return &Caller{
		IdentityID:  claims.UserID,
		IdentityKey: IdentityKeyFor(tenantID, provider, claims.Email),
		Claims:      claims,
	}, nil
}

// GetTenant returns the tenant configuration to a caller holding an owner
// grant on it.
func (s *Authenticator) GetTenant(ctx context.Context, caller *Caller, tenantID string) (TenantConfig, error) {
	if err := s.requireOwner(ctx, caller, tenantID); err != nil {
		return TenantConfig{}, err
	}
	return s.dir.Tenant(tenantID).Get(ctx)
}

// CreateTenant creates an additional tenant owned by the caller's identity.
func (s *Authenticator) CreateTenant(ctx context.Context, caller *Caller, cfg TenantConfig) (TenantConfig, error) {
	if caller == nil || caller.IdentityID == "" {
		return TenantConfig{}, ErrUnauthorized
	}

	if cfg.ID == "" {
		cfg.ID = NewLocalID()
	}

	identity, err := s.dir.Identity(caller.IdentityKey).Get(ctx)
	if err != nil {
		return TenantConfig{}, err
	}

	owner := Owner{ID: identity.ID, Name: identity.Name, Email: identity.Email}
	created, err := s.dir.Tenant(cfg.ID).Create(ctx, cfg, owner)
	if err != nil {
		return TenantConfig{}, err
	}

	if err := s.dir.Identity(caller.IdentityKey).SetAccessGrant(ctx, AccessGrant{
		IdentityID: identity.ID,
		TenantID:   created.ID,
		Role:       RoleOwner,
	}); err != nil {
		return TenantConfig{}, err
	}

	s.cacheTenant(ctx, created)
	s.emit(ctx, ActivityEvent{
		TenantID:   created.ID,
		IdentityID: identity.ID,
		Kind:       ActivityTenantCreated,
		Payload:    map[string]any{"name": created.Name},
		OccurredAt: s.now(),
	})
	return created, nil
}

// UpdateTenant patches tenant settings and refreshes the settings cache.
func (s *Authenticator) UpdateTenant(ctx context.Context, caller *Caller, tenantID string, patch TenantPatch) (TenantConfig, error) {
	if err := s.requireOwner(ctx, caller, tenantID); err != nil {
		return TenantConfig{}, err
	}

	updated, err := s.dir.Tenant(tenantID).Update(ctx, patch)
	if err != nil {
		return TenantConfig{}, err
	}

	// The cache must never outlive the authoritative write it mirrors.
	if err := s.cache.Delete(ctx, cacheKeyTenant+tenantID); err != nil {
		s.logger.Warn("tenant cache invalidation failed: %v", err)
	}
	s.cacheTenant(ctx, updated)

	s.emit(ctx, ActivityEvent{
		TenantID:   tenantID,
		IdentityID: caller.IdentityID,
		Kind:       ActivityTenantUpdated,
		OccurredAt: s.now(),
	})
	return updated, nil
}

// SetTenantOwner upserts a tenant owner entry.
func (s *Authenticator) SetTenantOwner(ctx context.Context, caller *Caller, tenantID string, owner Owner) error {
	if err := s.requireOwner(ctx, caller, tenantID); err != nil {
		return err
	}
	return s.dir.Tenant(tenantID).SetOwner(ctx, owner)
}

// TenantActivities returns the tenant's recent activity log.
func (s *Authenticator) TenantActivities(ctx context.Context, caller *Caller, tenantID string, n int) ([]ActivityEvent, error) {
	if err := s.requireOwner(ctx, caller, tenantID); err != nil {
		return nil, err
	}
	return s.dir.Activity(tenantID).Recent(ctx, n)
}

// TenantSettings serves the sanitized settings view used by unauthenticated
// clients (provider widgets, hosted login pages). Reads go through the
// cache; misses fall through to the tenant actor and refill it.
func (s *Authenticator) TenantSettings(ctx context.Context, tenantID string) (PublicSettings, error) {
	cfg, err := s.tenantConfig(ctx, tenantID)
	if err != nil {
		return PublicSettings{}, err
	}

	return PublicSettings{
		TenantID:         cfg.ID,
		Name:             cfg.Name,
		SigningAlgorithm: cfg.Settings.SigningAlgorithm,
		RedirectURI:      cfg.Settings.RedirectURI,
		PasswordPattern:  cfg.Settings.PasswordPattern,
		AccessTokenTTL:   cfg.Settings.AccessTokenTTL,
	}, nil
}

// requireOwner enforces that the caller holds an owner grant on tenantID.
// Grant existence on the caller's identity shard is the sole authority; a
// grant on one tenant confers nothing on any other.
func (s *Authenticator) requireOwner(ctx context.Context, caller *Caller, tenantID string) error {
	if caller == nil || caller.IdentityKey == "" {
		return ErrUnauthorized
	}

	grants, err := s.dir.Identity(caller.IdentityKey).AccessGrants(ctx)
	if err != nil {
		return err
	}

	grant, ok := grants[tenantID]
	if !ok || grant.Role != RoleOwner {
		return ErrUnauthorized
	}
	return nil
}

// tenantConfig loads a tenant's configuration, trying the cache first. The
// actor remains authoritative; cache failures only cost a hop.
func (s *Authenticator) tenantConfig(ctx context.Context, tenantID string) (TenantConfig, error) {
	if tenantID == "" {
		return TenantConfig{}, ErrUnauthorized
	}

	cached := TenantConfig{}
	if found, err := s.cache.Get(ctx, cacheKeyTenant+tenantID, &cached); err == nil && found {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("tenant cache read failed: %v", err)
	}

	cfg, err := s.dir.Tenant(tenantID).Get(ctx)
	if err != nil {
		return TenantConfig{}, err
	}

	s.cacheTenant(ctx, cfg)
	return cfg, nil
}

func (s *Authenticator) cacheTenant(ctx context.Context, cfg TenantConfig) {
	if err := s.cache.Put(ctx, cacheKeyTenant+cfg.ID, cfg); err != nil {
		s.logger.Warn("tenant cache write failed: %v", err)
	}
}

// indexSession binds the refresh token returned by a successful auth to its
// session. The identity write that created the session is the durability
// boundary; if this index write fails the session exists but can never be
// refreshed, so the orphan is reported as a partial failure with enough
// detail to reconcile, never swallowed.
func (s *Authenticator) indexSession(ctx context.Context, tenantID, identityKey string, res *AuthResult) error {
	err := s.dir.TokenIndex(res.RefreshToken).Put(ctx, RefreshTokenRecord{
		Token:       res.RefreshToken,
		TenantID:    tenantID,
		IdentityID:  res.Identity.ID,
		IdentityKey: identityKey,
		SessionID:   res.Session.ID,
	})
	if err == nil {
		return nil
	}

	s.logger.Error("refresh token index write failed after session commit: %v", err)
	return partialFailure(err, map[string]any{
		"tenant_id":   tenantID,
		"identity_id": res.Identity.ID,
		"session_id":  res.Session.ID,
	})
}

// emit records a tenant-level activity event, fire-and-forget.
func (s *Authenticator) emit(ctx context.Context, event ActivityEvent) {
	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}
