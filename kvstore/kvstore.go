// Package kvstore provides the secondary key-value store used for
// read-mostly caches (tenant provider settings, email existence checks).
// It is never the source of truth: every value here can be rebuilt from the
// actors that own the underlying state.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Store is a JSON document store keyed by string.
type Store interface {
	// Get unmarshals the value at key into into, reporting presence.
	Get(ctx context.Context, key string, into any) (bool, error)
	// Put stores value at key.
	Put(ctx context.Context, key string, value any) error
	// Delete removes key; absent keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, into any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "kv decode failed")
	}
	return true, nil
}

func (m *Memory) Put(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "kv encode failed")
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// EntryRow is the bun model behind the SQL-backed store.
type EntryRow struct {
	bun.BaseModel `bun:"table:kv_entries,alias:kv"`

	Key       string    `bun:"key,pk"`
	Value     []byte    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Bun is a Store on a relational table, sharing the connection the actor
// slot store already holds.
type Bun struct {
	db *bun.DB
}

var _ Store = (*Bun)(nil)

func NewBun(db *bun.DB) *Bun {
	return &Bun{db: db}
}

// Init creates the backing table when missing.
func (b *Bun) Init(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*EntryRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create kv_entries table")
	}
	return nil
}

func (b *Bun) Get(ctx context.Context, key string, into any) (bool, error) {
	row := new(EntryRow)
	err := b.db.NewSelect().Model(row).Where("key = ?", key).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CategoryInternal, "kv select failed")
	}
	if err := json.Unmarshal(row.Value, into); err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "kv decode failed")
	}
	return true, nil
}

func (b *Bun) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "kv encode failed")
	}

	row := &EntryRow{Key: key, Value: raw, UpdatedAt: time.Now()}
	_, err = b.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "kv upsert failed")
	}
	return nil
}

func (b *Bun) Delete(ctx context.Context, key string) error {
	_, err := b.db.NewDelete().
		Model((*EntryRow)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "kv delete failed")
	}
	return nil
}
