// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileExporter writes profiles into a directory, one file per profile.
type FileExporter struct {
	dir    string
	logger *zap.Logger

	mkdir    sync.Once
	mkdirErr error
}

// NewFileExporter creates a file exporter rooted at dir. The directory
// is created on first export, so constructing the exporter has no
// filesystem side effects.
func NewFileExporter(dir string, logger *zap.Logger) (*FileExporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("file exporter: empty directory")
	}
	return &FileExporter{dir: dir, logger: logger}, nil
}

// Export writes p to <dir>/<service>-<kind>-<start>.pb.gz. Writes go
// through a temp file and rename so readers never see partial output.
func (e *FileExporter) Export(ctx context.Context, p *Profile) error {
	e.mkdir.Do(func() {
		if err := os.MkdirAll(e.dir, 0o755); err != nil {
			e.mkdirErr = fmt.Errorf("create profile dir: %w", err)
		}
	})
	if e.mkdirErr != nil {
		return e.mkdirErr
	}

	name := fmt.Sprintf("%s-%s-%s.pb.gz", p.Service, p.Kind, p.Start.UTC().Format("20060102T150405"))
	dst := filepath.Join(e.dir, name)

	tmp, err := os.CreateTemp(e.dir, name+".tmp")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	if _, err := tmp.Write(p.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename profile: %w", err)
	}

	e.logger.Debug("profile written",
		zap.String("path", dst),
		zap.Int("bytes", len(p.Data)),
	)
	return nil
}

// Shutdown is a no-op for the file exporter.
func (e *FileExporter) Shutdown(ctx context.Context) error {
	return nil
}
