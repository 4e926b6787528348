package authc

import (
	"time"

	"github.com/shardkit/authc/actor"
)

// Directory resolves actors by key and wires their shared collaborators
// (token service, activity sink, clock, logger). It is cheap to copy around;
// the runtime behind it owns the serialized handles.
type Directory struct {
	rt     *actor.Runtime
	tokens *TokenService
	sink   ActivitySink
	now    func() time.Time
	logger Logger
}

// NewDirectory creates a directory over the given runtime and token service.
func NewDirectory(rt *actor.Runtime, tokens *TokenService) *Directory {
	return &Directory{
		rt:     rt,
		tokens: tokens,
		sink:   noopActivitySink{},
		now:    time.Now,
		logger: defLogger{},
	}
}

// WithActivitySink wires the sink identity actors emit into.
func (d *Directory) WithActivitySink(sink ActivitySink) *Directory {
	d.sink = normalizeActivitySink(sink)
	return d
}

func (d *Directory) WithLogger(logger Logger) *Directory {
	d.logger = normalizeLogger(logger)
	return d
}

// WithClock overrides the time source, mostly for tests.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	if now != nil {
		d.now = now
	}
	return d
}

// Tenant resolves the actor owning one tenant's configuration.
func (d *Directory) Tenant(tenantID string) *TenantActor {
	return newTenantActor(d.rt.Resolve(KindTenant, tenantID), d.now, d.logger)
}

// Identity resolves an identity actor by its derived key.
func (d *Directory) Identity(key string) *IdentityActor {
	return newIdentityActor(d.rt.Resolve(KindIdentity, key), d.tokens, d.sink, d.now, d.logger)
}

// IdentityFor resolves the identity actor for a (tenant, provider, email)
// triple.
func (d *Directory) IdentityFor(tenantID, provider, email string) *IdentityActor {
	return d.Identity(IdentityKeyFor(tenantID, provider, email))
}

// TokenIndex resolves the index actor for one refresh-token value.
func (d *Directory) TokenIndex(token string) *TokenIndexActor {
	return newTokenIndexActor(d.rt.Resolve(KindTokenIndex, token), d.now)
}

// Activity resolves a tenant's activity log actor.
func (d *Directory) Activity(tenantID string) *ActivityActor {
	return newActivityActor(d.rt.Resolve(KindActivity, tenantID), d.logger)
}
