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

// Package fs implements a checkpoint store on the local file system, one file per instance laid out as
// <root>/<app>/<unit type>/<key>.ckpt with every component url-safe base64 encoded.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	"github.com/numaproj/keyflow/pkg/shared/logging"
)

const (
	fileSuffix = ".ckpt"
	dirPerm    = 0o755
	filePerm   = 0o644
)

type fsStore struct {
	root   string
	lock   sync.RWMutex
	closed bool
	log    *zap.SugaredLogger
}

var _ store.StateStore = (*fsStore)(nil)

// NewFSStore returns a store rooted at dir, which is created if needed.
func NewFSStore(ctx context.Context, dir string) (store.StateStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory can not be empty")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %q, %w", dir, err)
	}
	return &fsStore{
		root: dir,
		log:  logging.FromContext(ctx).With("checkpointDir", dir),
	}, nil
}

func (f *fsStore) path(id store.ID) string {
	return filepath.Join(f.root, store.EncodePart(id.AppID), store.EncodePart(id.UnitType), store.EncodePart(id.Key)+fileSuffix)
}

// Save writes to a temporary file and renames it, so a crash never leaves a partial checkpoint.
func (f *fsStore) Save(_ context.Context, id store.ID, data []byte) error {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.closed {
		return store.ErrStoreClosed
	}
	target := f.path(id)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create %q, %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create a temporary file, %w", err)
	}
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write checkpoint %s, %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync checkpoint %s, %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (f *fsStore) Fetch(_ context.Context, id store.ID) ([]byte, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.closed {
		return nil, store.ErrStoreClosed
	}
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return data, err
}

func (f *fsStore) ListKeys(_ context.Context, appID string) ([]store.ID, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.closed {
		return nil, store.ErrStoreClosed
	}
	ids := []store.ID{}
	appDir := filepath.Join(f.root, store.EncodePart(appID))
	typeDirs, err := os.ReadDir(appDir)
	if errors.Is(err, fs.ErrNotExist) {
		return ids, nil
	}
	if err != nil {
		return nil, err
	}
	for _, td := range typeDirs {
		if !td.IsDir() {
			continue
		}
		unitType, err := store.DecodePart(td.Name())
		if err != nil {
			f.log.Warnw("Skipping unexpected directory", zap.String("name", td.Name()))
			continue
		}
		files, err := os.ReadDir(filepath.Join(appDir, td.Name()))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			name := file.Name()
			if file.IsDir() || !strings.HasSuffix(name, fileSuffix) {
				continue
			}
			key, err := store.DecodePart(strings.TrimSuffix(name, fileSuffix))
			if err != nil {
				f.log.Warnw("Skipping unexpected file", zap.String("name", name))
				continue
			}
			ids = append(ids, store.ID{AppID: appID, UnitType: unitType, Key: key})
		}
	}
	store.SortIDs(ids)
	return ids, nil
}

func (f *fsStore) Delete(_ context.Context, id store.ID) error {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.closed {
		return store.ErrStoreClosed
	}
	err := os.Remove(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *fsStore) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.closed = true
	return nil
}
