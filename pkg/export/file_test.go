// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestFileExporterCreatesDirLazily(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")

	exp, err := NewFileExporter(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileExporter: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("directory created before first export: %v", err)
	}

	if err := exp.Export(context.Background(), testProfile("a.cpuprofile")); err != nil {
		t.Fatalf("Export: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("profiles written = %d, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("written profile is empty")
	}
}

func TestFileExporterRejectsEmptyDir(t *testing.T) {
	if _, err := NewFileExporter("", zap.NewNop()); err == nil {
		t.Fatal("NewFileExporter accepted an empty directory")
	}
}
