package authc

import (
	"context"
	"time"

	"github.com/shardkit/authc/actor"
)

const slotTokenRecord = "record"

// TokenIndexActor maps one opaque refresh-token value to its
// (tenant, identity, session) record. The token value is the actor key, so
// refresh lookups never load full identity state.
type TokenIndexActor struct {
	handle *actor.Handle
	now    func() time.Time
}

func newTokenIndexActor(handle *actor.Handle, now func() time.Time) *TokenIndexActor {
	return &TokenIndexActor{handle: handle, now: now}
}

// Token returns the refresh-token value this actor indexes.
func (t *TokenIndexActor) Token() string { return t.handle.Key() }

// Put persists the record. It must run in the same logical operation as the
// session creation it describes; a failure here after the identity write
// succeeded leaves an orphaned session the caller has to surface.
func (t *TokenIndexActor) Put(ctx context.Context, rec RefreshTokenRecord) error {
	return t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		rec.Token = t.handle.Key()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = t.now()
		}
		if err := st.Put(ctx, slotTokenRecord, rec); err != nil {
			return storageErr(err, "token record save failed")
		}
		return nil
	})
}

// Get returns the stored record, or ErrTokenNotValid when this token was
// never issued (or has been deleted). A partially populated record is never
// returned.
func (t *TokenIndexActor) Get(ctx context.Context) (RefreshTokenRecord, error) {
	var out RefreshTokenRecord
	err := t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		found, err := st.Get(ctx, slotTokenRecord, &out)
		if err != nil {
			return storageErr(err, "token record load failed")
		}
		if !found || out.IdentityID == "" || out.SessionID == "" {
			return ErrTokenNotValid
		}
		return nil
	})
	return out, err
}

// Update merges the patch into the stored record. Rotating the token value
// itself is not an update — the value is the key — it is a Delete here plus
// a Put under the new token.
func (t *TokenIndexActor) Update(ctx context.Context, patch TokenPatch) (RefreshTokenRecord, error) {
	var out RefreshTokenRecord
	err := t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		rec := RefreshTokenRecord{}
		found, err := st.Get(ctx, slotTokenRecord, &rec)
		if err != nil {
			return storageErr(err, "token record load failed")
		}
		if !found {
			return ErrTokenNotValid
		}

		rec = patch.Apply(rec)
		if err := st.Put(ctx, slotTokenRecord, rec); err != nil {
			return storageErr(err, "token record save failed")
		}

		out = rec
		return nil
	})
	return out, err
}

// Delete removes the record, invalidating the token.
func (t *TokenIndexActor) Delete(ctx context.Context) error {
	return t.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		if err := st.Delete(ctx, slotTokenRecord); err != nil {
			return storageErr(err, "token record delete failed")
		}
		return nil
	})
}
