package authc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shardkit/authc"
	"github.com/shardkit/authc/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock returns a strictly increasing time source so session ordering
// is deterministic.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func registerInput(tenant authc.TenantConfig, email, password string) authc.RegisterInput {
	return authc.RegisterInput{Tenant: tenant, Name: "Bob", Email: email, Password: password}
}

func TestIdentityActor_Register(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "Bob@X.com")
	res, err := ia.Register(ctx, registerInput(tenant, "Bob@X.com", "pw123"))
	require.NoError(t, err)

	assert.Equal(t, "bob@x.com", res.Identity.Email, "stored email is normalized")
	assert.Equal(t, tenant.ID, res.Identity.TenantID)
	assert.Equal(t, authc.ProviderEmail, res.Identity.Provider)
	assert.NotEmpty(t, res.Identity.PasswordHash)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.NotEmpty(t, res.Session.ID)
	assert.Equal(t, res.Identity.ID, res.Session.IdentityID)

	got, err := ia.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Identity.ID, got.ID)
}

func TestIdentityActor_RegisterDuplicate(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	_, err := ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
	require.NoError(t, err)

	_, err = ia.Register(ctx, registerInput(tenant, "bob@x.com", "other"))
	assert.ErrorIs(t, err, authc.ErrDuplicateIdentity)
}

func TestIdentityActor_ConcurrentRegisterOneWinner(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, authc.ErrDuplicateIdentity)
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent registration succeeds")
}

func TestIdentityActor_RegisterPasswordPolicy(t *testing.T) {
	dir := newTestDirectory()
	tenant := testTenant()
	tenant.Settings.PasswordPattern = `^.{8,}$`

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	_, err := ia.Register(context.Background(), registerInput(tenant, "bob@x.com", "short"))
	assert.ErrorIs(t, err, authc.ErrPolicyViolation)

	_, err = ia.Register(context.Background(), registerInput(tenant, "bob@x.com", "long enough"))
	assert.NoError(t, err)
}

func TestIdentityActor_Login(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	reg, err := ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
	require.NoError(t, err)

	res, err := ia.Login(ctx, authc.LoginInput{Tenant: tenant, Password: "pw123"})
	require.NoError(t, err)
	assert.Equal(t, reg.Identity.ID, res.Identity.ID)
	assert.NotEqual(t, reg.Session.ID, res.Session.ID, "each login opens a fresh session")
	assert.NotEqual(t, reg.RefreshToken, res.RefreshToken)
	assert.NotNil(t, res.Identity.LastLoginAt)
}

func TestIdentityActor_LoginWrongPassword(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	_, err := ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
	require.NoError(t, err)

	_, err = ia.Login(ctx, authc.LoginInput{Tenant: tenant, Password: "nope"})
	assert.ErrorIs(t, err, authc.ErrInvalidCredential)

	// The identity survives the failed attempt.
	_, err = ia.Login(ctx, authc.LoginInput{Tenant: tenant, Password: "pw123"})
	assert.NoError(t, err)
}

func TestIdentityActor_LoginUnknownIdentity(t *testing.T) {
	dir := newTestDirectory()
	tenant := testTenant()

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "ghost@x.com")
	_, err := ia.Login(context.Background(), authc.LoginInput{Tenant: tenant, Password: "pw123"})
	assert.ErrorIs(t, err, authc.ErrIdentityNotFound)
}

func TestIdentityActor_LoginThrottleAfterRepeatedFailures(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()
	tenant.Settings.FailedLoginLimit = 3

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	_, err := ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = ia.Login(ctx, authc.LoginInput{Tenant: tenant, Password: "nope"})
		assert.ErrorIs(t, err, authc.ErrInvalidCredential)
	}

	// Even the correct password is rejected once the limit is hit.
	_, err = ia.Login(ctx, authc.LoginInput{Tenant: tenant, Password: "pw123"})
	assert.ErrorIs(t, err, authc.ErrTooManyLoginAttempts)
}

func TestIdentityActor_SessionCapEvictsOldest(t *testing.T) {
	rt := actor.NewRuntime(actor.NewMemoryStore())
	dir := authc.NewDirectory(rt, authc.NewTokenService("https://auth.test")).
		WithClock(steppingClock(time.Now()))
	ctx := context.Background()

	tenant := testTenant()
	tenant.Settings.MaxConcurrentSessions = 2

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	first, err := ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
	require.NoError(t, err)

	second, err := ia.Login(ctx, authc.LoginInput{Tenant: tenant, Password: "pw123"})
	require.NoError(t, err)
	third, err := ia.Login(ctx, authc.LoginInput{Tenant: tenant, Password: "pw123"})
	require.NoError(t, err)

	sessions, err := ia.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	_, oldestAlive := sessions[first.Session.ID]
	assert.False(t, oldestAlive, "oldest session is evicted first")
	_, ok := sessions[second.Session.ID]
	assert.True(t, ok)
	_, ok = sessions[third.Session.ID]
	assert.True(t, ok)
}

func TestIdentityActor_SessionCapKeepsNewSessionOnClockTies(t *testing.T) {
	// A frozen clock gives every session the same CreatedAt; the session
	// just handed to the caller must still survive the cap.
	frozen := time.Now()
	rt := actor.NewRuntime(actor.NewMemoryStore())
	dir := authc.NewDirectory(rt, authc.NewTokenService("https://auth.test")).
		WithClock(func() time.Time { return frozen })
	ctx := context.Background()

	tenant := testTenant()
	tenant.Settings.MaxConcurrentSessions = 1

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	_, err := ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res, err := ia.Login(ctx, authc.LoginInput{Tenant: tenant, Password: "pw123"})
		require.NoError(t, err)

		sessions, err := ia.Sessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		_, alive := sessions[res.Session.ID]
		assert.True(t, alive, "the session returned to the caller must exist")
	}
}

func TestIdentityActor_RefreshSession(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	res, err := ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
	require.NoError(t, err)

	token, expiresIn, err := ia.RefreshSession(ctx, res.Session.ID, tenant)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, tenant.Settings.AccessTokenTTL, expiresIn)

	_, _, err = ia.RefreshSession(ctx, "0xnotasession", tenant)
	assert.ErrorIs(t, err, authc.ErrSessionNotFound)
}

func TestIdentityActor_LinkOrCreateFromProvider(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()

	profile := authc.ProviderProfile{
		Provider:      "google",
		SubjectID:     "g-123",
		Email:         "Bob@X.com",
		Name:          "Bob",
		EmailVerified: true,
	}

	ia := dir.IdentityFor(tenant.ID, "google", profile.Email)
	first, err := ia.LinkOrCreateFromProvider(ctx, tenant, profile)
	require.NoError(t, err)
	assert.Equal(t, "bob@x.com", first.Identity.Email)
	assert.Equal(t, "google", first.Identity.Provider)
	assert.Equal(t, "g-123", first.Identity.ProviderSubjectID)
	assert.True(t, first.Identity.EmailVerified)
	assert.Empty(t, first.Identity.PasswordHash)

	// A second callback reuses the identity and opens a new session.
	second, err := ia.LinkOrCreateFromProvider(ctx, tenant, profile)
	require.NoError(t, err)
	assert.Equal(t, first.Identity.ID, second.Identity.ID)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
}

func TestIdentityActor_AccessGrants(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	tenant := testTenant()

	ia := dir.IdentityFor(tenant.ID, authc.ProviderEmail, "bob@x.com")
	res, err := ia.Register(ctx, registerInput(tenant, "bob@x.com", "pw123"))
	require.NoError(t, err)

	require.NoError(t, ia.SetAccessGrant(ctx, authc.AccessGrant{
		IdentityID: res.Identity.ID,
		TenantID:   tenant.ID,
		Role:       authc.RoleOwner,
	}))

	grants, err := ia.AccessGrants(ctx)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, authc.RoleOwner, grants[tenant.ID].Role)
	assert.False(t, grants[tenant.ID].CreatedAt.IsZero())
}
