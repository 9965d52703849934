// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/kbtasks/internal/util"
)

// FilePersister stores the task list in a JSON file.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the file path.
func (p *FilePersister) Path() string {
	return p.path
}

// Load implements tasks.Persister. A missing file is not an error.
func (p *FilePersister) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	return data, nil
}

// Save implements tasks.Persister.
func (p *FilePersister) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// SECURITY: Task payloads carry operator IDs; keep the file private
	return util.AtomicWriteFile(p.path, data, 0600)
}

// Close implements Backend.
func (p *FilePersister) Close() error {
	return nil
}
