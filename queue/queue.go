// Package queue provides the durable, at-least-once transport feeding the
// activity pipeline. The in-process implementation covers tests and
// single-node deployments; the NATS adapter covers everything else.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// Handler consumes one delivery. Returning an error requests redelivery;
// consumers must tolerate duplicates.
type Handler func(ctx context.Context, payload []byte) error

// Queue is an at-least-once message queue. No ordering is guaranteed across
// senders.
type Queue interface {
	Send(ctx context.Context, payload []byte) error
}

// Memory is an in-process Queue with bounded redelivery.
type Memory struct {
	mu       sync.Mutex
	handler  Handler
	buffer   chan delivery
	retries  int
	backoff  time.Duration
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type delivery struct {
	payload  []byte
	attempts int
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an in-process queue redelivering failed messages up to
// retries additional times.
func NewMemory(retries int) *Memory {
	return &Memory{
		buffer:  make(chan delivery, 256),
		retries: retries,
		backoff: 10 * time.Millisecond,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Consume registers the handler and starts the dispatch loop. Only one
// handler is supported; registering twice is a programming error.
func (m *Memory) Consume(handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler != nil {
		return errors.New("queue consumer already registered", errors.CategoryOperation)
	}
	m.handler = handler
	go m.dispatch()
	return nil
}

// Send enqueues a payload. It never blocks past a full buffer drain.
func (m *Memory) Send(ctx context.Context, payload []byte) error {
	stored := make([]byte, len(payload))
	copy(stored, payload)

	select {
	case m.buffer <- delivery{payload: stored}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryOperation, "queue send cancelled")
	case <-m.stop:
		return errors.New("queue closed", errors.CategoryOperation)
	}
}

// Close stops the dispatch loop after draining in-flight work.
func (m *Memory) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)

		m.mu.Lock()
		started := m.handler != nil
		m.mu.Unlock()
		if started {
			<-m.done
		}
	})
}

func (m *Memory) dispatch() {
	defer close(m.done)
	for {
		select {
		case d := <-m.buffer:
			m.deliver(d)
		case <-m.stop:
			// drain what is already buffered
			for {
				select {
				case d := <-m.buffer:
					m.deliver(d)
				default:
					return
				}
			}
		}
	}
}

func (m *Memory) deliver(d delivery) {
	ctx := context.Background()
	if err := m.handler(ctx, d.payload); err != nil {
		if d.attempts < m.retries {
			d.attempts++
			time.Sleep(m.backoff)
			select {
			case m.buffer <- d:
			default:
				// buffer full: the event is telemetry, dropping beats blocking
			}
		}
	}
}
