/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sqlite implements a checkpoint store in a single sqlite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/atomic"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
)

const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
	app        TEXT NOT NULL,
	unit_type  TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (app, unit_type, key)
)`

const upsert = `INSERT INTO checkpoints (app, unit_type, key, data, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (app, unit_type, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

type sqliteStore struct {
	db     *sql.DB
	closed *atomic.Bool
}

var _ store.StateStore = (*sqliteStore)(nil)

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(ctx context.Context, path string) (store.StateStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q, %w", path, err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create checkpoints table, %w", err)
	}
	return &sqliteStore{db: db, closed: atomic.NewBool(false)}, nil
}

func (s *sqliteStore) Save(ctx context.Context, id store.ID, data []byte) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, upsert, id.AppID, id.UnitType, id.Key, data, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) Fetch(ctx context.Context, id store.ID) ([]byte, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM checkpoints WHERE app = ? AND unit_type = ? AND key = ?`,
		id.AppID, id.UnitType, id.Key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *sqliteStore) ListKeys(ctx context.Context, appID string) ([]store.ID, error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT unit_type, key FROM checkpoints WHERE app = ?`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []store.ID{}
	for rows.Next() {
		id := store.ID{AppID: appID}
		if err := rows.Scan(&id.UnitType, &id.Key); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	store.SortIDs(ids)
	return ids, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id store.ID) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE app = ? AND unit_type = ? AND key = ?`,
		id.AppID, id.UnitType, id.Key)
	return err
}

func (s *sqliteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
