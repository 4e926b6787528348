package actor

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// SlotRow is the durable representation of one actor slot.
type SlotRow struct {
	bun.BaseModel `bun:"table:actor_slots,alias:slot"`

	Kind      string    `bun:"kind,pk"`
	Key       string    `bun:"key,pk"`
	Name      string    `bun:"name,pk"`
	Value     []byte    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// BunStore persists actor slots in a relational table, one row per
// (kind, key, name).
type BunStore struct {
	db *bun.DB
}

var _ Store = (*BunStore)(nil)

// NewBunStore wraps an existing bun DB.
func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

// OpenSQLiteStore opens (or creates) a sqlite-backed store at dsn, e.g.
// "file:authc.db?cache=shared" or "file::memory:?cache=shared".
func OpenSQLiteStore(ctx context.Context, dsn string) (*BunStore, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open sqlite store")
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	store := NewBunStore(db)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Init creates the slot table when missing.
func (s *BunStore) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*SlotRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create actor_slots table")
	}
	return nil
}

// DB exposes the underlying bun handle so callers can share the connection.
func (s *BunStore) DB() *bun.DB { return s.db }

func (s *BunStore) Load(ctx context.Context, kind, key, name string) ([]byte, bool, error) {
	row := new(SlotRow)
	err := s.db.NewSelect().
		Model(row).
		Where("kind = ?", kind).
		Where("key = ?", key).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, errors.CategoryInternal, "slot select failed")
	}
	return row.Value, true, nil
}

func (s *BunStore) Save(ctx context.Context, kind, key, name string, value []byte) error {
	row := &SlotRow{
		Kind:      kind,
		Key:       key,
		Name:      name,
		Value:     value,
		UpdatedAt: time.Now(),
	}

	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (kind, key, name) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "slot upsert failed")
	}
	return nil
}

func (s *BunStore) Delete(ctx context.Context, kind, key, name string) error {
	_, err := s.db.NewDelete().
		Model((*SlotRow)(nil)).
		Where("kind = ?", kind).
		Where("key = ?", key).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "slot delete failed")
	}
	return nil
}
