package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const sqlBackend = "sql"

type slotRecord struct {
	bun.BaseModel `bun:"table:turnkey_slots,alias:ts"`

	Slot      string    `bun:"slot,pk"`
	Value     []byte    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLStore keeps slots in a single bun table.
type SQLStore struct {
	db *bun.DB
}

// NewSQLStore uses db and creates the slot table if needed.
func NewSQLStore(ctx context.Context, db *bun.DB) (*SQLStore, error) {
	if _, err := db.NewCreateTable().Model((*slotRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create slot table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// OpenSQLite opens a SQLite database at dsn and returns a store over it.
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	store, err := NewSQLStore(ctx, bun.NewDB(sqldb, sqlitedialect.New()))
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) Get(ctx context.Context, slot string) ([]byte, error) {
	rec := new(slotRecord)
	err := s.db.NewSelect().Model(rec).Where("slot = ?", slot).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(sqlBackend, "read", slot, err)
	}
	return rec.Value, nil
}

func (s *SQLStore) Set(ctx context.Context, slot string, value []byte) error {
	rec := &slotRecord{Slot: slot, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (slot) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return wrapErr(sqlBackend, "write", slot, err)
}

func (s *SQLStore) Remove(ctx context.Context, slot string) error {
	_, err := s.db.NewDelete().Model((*slotRecord)(nil)).Where("slot = ?", slot).Exec(ctx)
	return wrapErr(sqlBackend, "remove", slot, err)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
