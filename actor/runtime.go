// Package actor provides the sharded single-writer runtime backing every
// stateful entity in authc.
//
// A Runtime resolves (kind, key) pairs to handles. Each handle owns a
// mailbox served by at most one worker goroutine, so operations against the
// same key are strictly serialized FIFO while different keys run fully in
// parallel. Workers are started lazily and exit after an idle period,
// dropping their slot cache with them, so the live-goroutine count tracks
// the working set rather than every key ever resolved.
// Durable state lives in per-handle named slots; the first access to a slot
// performs a blocking load from the Store, which gates every queued request
// behind it — the in-memory copy is never served before it reflects the last
// persisted write.
package actor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// Store is the durable substrate beneath the runtime. Implementations must
// persist Save before returning.
type Store interface {
	Load(ctx context.Context, kind, key, name string) ([]byte, bool, error)
	Save(ctx context.Context, kind, key, name string, value []byte) error
	Delete(ctx context.Context, kind, key, name string) error
}

// Storage is the slot view handed to an operation. It is only valid inside
// the operation closure; holding it longer breaks serialization.
type Storage interface {
	// Get unmarshals the named slot into into, reporting whether it exists.
	Get(ctx context.Context, name string, into any) (bool, error)
	// Put marshals value into the named slot, durably, before returning.
	Put(ctx context.Context, name string, value any) error
	// Delete removes the named slot.
	Delete(ctx context.Context, name string) error
}

// Operation runs against one actor's storage with exclusive access.
type Operation func(ctx context.Context, st Storage) error

// defaultIdleTimeout is how long a worker waits for its next operation
// before exiting.
const defaultIdleTimeout = 90 * time.Second

// Runtime maps (kind, key) pairs to single-writer handles.
type Runtime struct {
	store   Store
	idle    time.Duration
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRuntime creates a runtime on top of store.
func NewRuntime(store Store) *Runtime {
	return &Runtime{
		store:   store,
		idle:    defaultIdleTimeout,
		handles: make(map[string]*Handle),
	}
}

// WithIdleTimeout overrides how long a quiescent worker lingers before
// exiting. Mostly for tests.
func (r *Runtime) WithIdleTimeout(d time.Duration) *Runtime {
	if d > 0 {
		r.idle = d
	}
	return r
}

// Resolve returns the handle for (kind, key), creating it on first use.
// Resolution is deterministic: the same pair always yields the same handle.
// The worker behind it starts on the first Do, not here.
func (r *Runtime) Resolve(kind, key string) *Handle {
	id := kind + "/" + key

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[id]; ok {
		return h
	}

	h := &Handle{
		kind:    kind,
		key:     key,
		store:   r.store,
		idle:    r.idle,
		mailbox: make(chan job, 16),
		cache:   make(map[string]json.RawMessage),
	}
	r.handles[id] = h
	return h
}

type job struct {
	ctx  context.Context
	op   Operation
	done chan error
}

// Handle is one logical actor: a serialized access path over a set of
// durable slots.
type Handle struct {
	kind    string
	key     string
	store   Store
	idle    time.Duration
	mailbox chan job

	mu      sync.Mutex
	serving bool
	cache   map[string]json.RawMessage
}

// Kind returns the actor namespace.
func (h *Handle) Kind() string { return h.kind }

// Key returns the actor key within its namespace.
func (h *Handle) Key() string { return h.key }

// Do enqueues op and waits for it to finish. Operations run one at a time in
// arrival order. The context deadline bounds the wait, not the operation: a
// deadline expiry means the outcome is unknown, not that the mutation did
// not happen.
func (h *Handle) Do(ctx context.Context, op Operation) error {
	j := job{ctx: ctx, op: op, done: make(chan error, 1)}

	h.ensureServing()
	select {
	case h.mailbox <- j:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryOperation, "actor mailbox enqueue cancelled")
	}
	// The worker may have hit its idle deadline between the first check and
	// the enqueue; checking again after the job is in guarantees someone
	// drains it.
	h.ensureServing()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryOperation, "actor operation outcome unknown")
	}
}

func (h *Handle) ensureServing() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.serving {
		return
	}
	h.serving = true
	go h.serve()
}

func (h *Handle) serve() {
	timer := time.NewTimer(h.idle)
	defer timer.Stop()

	for {
		select {
		case j := <-h.mailbox:
			st := &slotStorage{handle: h}
			j.done <- j.op(j.ctx, st)

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(h.idle)

		case <-timer.C:
			h.mu.Lock()
			if len(h.mailbox) > 0 {
				h.mu.Unlock()
				timer.Reset(h.idle)
				continue
			}
			// Exit and drop the slot cache with the worker; the next Do
			// respawns one and reloads from the durable store. Handing the
			// serving flag off under the lock keeps cache writes ordered
			// between successive workers.
			h.cache = make(map[string]json.RawMessage)
			h.serving = false
			h.mu.Unlock()
			return
		}
	}
}

// slotStorage reads through the handle cache. Cache access needs no lock
// while serving: at most one worker exists per handle, and the serving-flag
// handoff orders cache writes between successive workers.
type slotStorage struct {
	handle *Handle
}

func (s *slotStorage) Get(ctx context.Context, name string, into any) (bool, error) {
	h := s.handle

	raw, ok := h.cache[name]
	if !ok {
		loaded, found, err := h.store.Load(ctx, h.kind, h.key, name)
		if err != nil {
			return false, errors.Wrap(err, errors.CategoryInternal, "actor slot load failed")
		}
		if !found {
			return false, nil
		}
		h.cache[name] = loaded
		raw = loaded
	}

	if err := json.Unmarshal(raw, into); err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "actor slot decode failed")
	}
	return true, nil
}

func (s *slotStorage) Put(ctx context.Context, name string, value any) error {
	h := s.handle

	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "actor slot encode failed")
	}

	if err := h.store.Save(ctx, h.kind, h.key, name, raw); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "actor slot save failed")
	}

	// Cache only after the durable write: a crash between the two loses
	// nothing, and the next load re-reads the persisted copy.
	h.cache[name] = raw
	return nil
}

func (s *slotStorage) Delete(ctx context.Context, name string) error {
	h := s.handle

	if err := h.store.Delete(ctx, h.kind, h.key, name); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "actor slot delete failed")
	}

	delete(h.cache, name)
	return nil
}
