package authc_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shardkit/authc"
	"github.com/shardkit/authc/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(tenantID, identityID string, kind authc.ActivityKind, at time.Time) authc.ActivityEvent {
	return authc.ActivityEvent{
		TenantID:   tenantID,
		IdentityID: identityID,
		Kind:       kind,
		OccurredAt: at,
	}
}

func TestActivityActor_AppendAndRecent(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	aa := dir.Activity("t1")

	base := time.Now()
	require.NoError(t, aa.Append(ctx, event("t1", "u1", authc.ActivityRegistered, base)))
	require.NoError(t, aa.Append(ctx, event("t1", "u1", authc.ActivityLoggedIn, base.Add(time.Second))))

	events, err := aa.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, authc.ActivityRegistered, events[0].Kind)
	assert.Equal(t, authc.ActivityLoggedIn, events[1].Kind)

	// Recent caps at n, newest last.
	events, err = aa.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, authc.ActivityLoggedIn, events[0].Kind)
}

func TestActivityActor_AppendIsIdempotent(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	aa := dir.Activity("t1")

	ev := event("t1", "u1", authc.ActivityLoggedIn, time.Now())
	require.NoError(t, aa.Append(ctx, ev))
	require.NoError(t, aa.Append(ctx, ev), "redelivery must not error")

	events, err := aa.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "redelivered event is stored once")
}

func TestActivityActor_RingDropsOldest(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()
	aa := dir.Activity("t1")

	base := time.Now()
	for i := 0; i < 230; i++ {
		ev := event("t1", fmt.Sprintf("u%d", i), authc.ActivityLoggedIn, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, aa.Append(ctx, ev))
	}

	events, err := aa.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 200)
	assert.Equal(t, "u30", events[0].IdentityID, "oldest entries fall off")
	assert.Equal(t, "u229", events[len(events)-1].IdentityID)
}

func TestQueueSink_PumpDeliversToActor(t *testing.T) {
	dir := newTestDirectory()
	q := queue.NewMemory(3)
	defer q.Close()

	pump := authc.NewActivityPump(dir)
	require.NoError(t, q.Consume(pump.Handle))

	sink := authc.NewQueueSink(q)
	ev := event("t1", "u1", authc.ActivityRegistered, time.Now())
	require.NoError(t, sink.Record(context.Background(), ev))

	assert.Eventually(t, func() bool {
		events, err := dir.Activity("t1").Recent(context.Background(), 10)
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActivityPump_DropsPoisonPayloads(t *testing.T) {
	dir := newTestDirectory()
	pump := authc.NewActivityPump(dir)

	// Undecodable and tenant-less payloads are dropped rather than
	// redelivered forever.
	assert.NoError(t, pump.Handle(context.Background(), []byte("{not json")))
	assert.NoError(t, pump.Handle(context.Background(), []byte(`{"kind":"LoggedIn"}`)))

	events, err := dir.Activity("t1").Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryQueue_RetriesFailedDeliveries(t *testing.T) {
	q := queue.NewMemory(5)
	defer q.Close()

	attempts := make(chan int, 16)
	calls := 0
	require.NoError(t, q.Consume(func(ctx context.Context, payload []byte) error {
		calls++
		attempts <- calls
		if calls < 3 {
			return fmt.Errorf("transient failure %d", calls)
		}
		return nil
	}))

	require.NoError(t, q.Send(context.Background(), []byte(`{"kind":"LoggedIn"}`)))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-attempts:
			if n == 3 {
				return
			}
		case <-deadline:
			t.Fatal("handler never reached a successful delivery")
		}
	}
}
