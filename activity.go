package authc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/shardkit/authc/actor"
)

// ActivityKind enumerates audit event categories.
type ActivityKind string

const (
	ActivityRegistered    ActivityKind = "Registered"
	ActivityLoggedIn      ActivityKind = "LoggedIn"
	ActivityLoginFailed   ActivityKind = "LoginFailed"
	ActivitySocialLinked  ActivityKind = "SocialLinked"
	ActivityTenantCreated ActivityKind = "TenantCreated"
	ActivityTenantUpdated ActivityKind = "TenantUpdated"
)

// ActivityEvent is a best-effort audit record of an auth action. Ordering is
// only guaranteed within one tenant's activity shard.
type ActivityEvent struct {
	TenantID   string         `json:"tenant_id"`
	IdentityID string         `json:"identity_id,omitempty"`
	Kind       ActivityKind   `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// dedupKey identifies a delivery so redeliveries append once.
func (e ActivityEvent) dedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", e.TenantID, e.IdentityID, e.Kind, e.OccurredAt.UnixNano())
}

// ActivitySink consumes activity events. Implementations must never block
// the synchronous auth path; failures are observability loss only.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error { return nil }

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// ActivityQueue is the durable, at-least-once transport between the auth
// path and the per-tenant activity actors.
type ActivityQueue interface {
	Send(ctx context.Context, payload []byte) error
}

// QueueSink publishes events onto an ActivityQueue.
type QueueSink struct {
	queue  ActivityQueue
	logger Logger
}

func NewQueueSink(queue ActivityQueue) *QueueSink {
	return &QueueSink{queue: queue, logger: defLogger{}}
}

func (s *QueueSink) WithLogger(logger Logger) *QueueSink {
	s.logger = normalizeLogger(logger)
	return s
}

// Record marshals and enqueues the event. Errors are returned for the
// caller's logs but must be treated as non-fatal.
func (s *QueueSink) Record(ctx context.Context, event ActivityEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode activity event")
	}

	if err := s.queue.Send(ctx, raw); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to enqueue activity event")
	}
	return nil
}

const (
	slotActivityEvents = "events"
	slotActivitySeen   = "seen"

	// activityLogCap bounds the per-tenant ring of retained events.
	activityLogCap = 200
)

// ActivityActor is the per-tenant append-only event log.
type ActivityActor struct {
	handle *actor.Handle
	logger Logger
}

func newActivityActor(handle *actor.Handle, logger Logger) *ActivityActor {
	return &ActivityActor{handle: handle, logger: normalizeLogger(logger)}
}

// Append adds an event, tolerating duplicate delivery: a redelivered event
// with the same dedup key is dropped.
func (a *ActivityActor) Append(ctx context.Context, event ActivityEvent) error {
	return a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		seen := map[string]bool{}
		if _, err := st.Get(ctx, slotActivitySeen, &seen); err != nil {
			return storageErr(err, "activity dedup load failed")
		}

		key := event.dedupKey()
		if seen[key] {
			return nil
		}

		events := []ActivityEvent{}
		if _, err := st.Get(ctx, slotActivityEvents, &events); err != nil {
			return storageErr(err, "activity log load failed")
		}

		events = append(events, event)
		if len(events) > activityLogCap {
			drop := len(events) - activityLogCap
			for _, old := range events[:drop] {
				delete(seen, old.dedupKey())
			}
			events = events[drop:]
		}
		seen[key] = true

		if err := st.Put(ctx, slotActivityEvents, events); err != nil {
			return storageErr(err, "activity log save failed")
		}
		if err := st.Put(ctx, slotActivitySeen, seen); err != nil {
			return storageErr(err, "activity dedup save failed")
		}
		return nil
	})
}

// Recent returns up to n most recent events, newest last.
func (a *ActivityActor) Recent(ctx context.Context, n int) ([]ActivityEvent, error) {
	var out []ActivityEvent
	err := a.handle.Do(ctx, func(ctx context.Context, st actor.Storage) error {
		events := []ActivityEvent{}
		if _, err := st.Get(ctx, slotActivityEvents, &events); err != nil {
			return storageErr(err, "activity log load failed")
		}
		if n > 0 && len(events) > n {
			events = events[len(events)-n:]
		}
		out = events
		return nil
	})
	return out, err
}

// ActivityPump is the queue-side consumer: each delivery resolves the
// tenant's activity actor and appends the event.
type ActivityPump struct {
	dir    *Directory
	logger Logger
}

func NewActivityPump(dir *Directory) *ActivityPump {
	return &ActivityPump{dir: dir, logger: defLogger{}}
}

func (p *ActivityPump) WithLogger(logger Logger) *ActivityPump {
	p.logger = normalizeLogger(logger)
	return p
}

// Handle consumes one delivery. Returning an error asks the queue to
// redeliver; the actor-side dedup makes that safe.
func (p *ActivityPump) Handle(ctx context.Context, payload []byte) error {
	var event ActivityEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// Poison payloads can never succeed; drop them instead of looping.
		p.logger.Warn("activity pump dropping undecodable payload: %v", err)
		return nil
	}

	if event.TenantID == "" {
		p.logger.Warn("activity pump dropping event without tenant id")
		return nil
	}

	return p.dir.Activity(event.TenantID).Append(ctx, event)
}
