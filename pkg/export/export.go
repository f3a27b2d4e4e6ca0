// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package export delivers serialized profiles to their configured
// destinations: local files, stdout summaries, and Pyroscope-compatible
// HTTP receivers.
package export

import (
	"context"
	"time"
)

// Profile is a serialized profile artifact ready for export.
type Profile struct {
	Service string // sanitized application name
	Kind    string // "wall" or "heap"
	Start   time.Time
	End     time.Time
	Data    []byte // gzip'd pprof protobuf
	Source  string // originating capture file, for diagnostics
	Samples int    // sample count, for summaries
}

// Exporter delivers one profile to one destination.
type Exporter interface {
	Export(ctx context.Context, p *Profile) error
	Shutdown(ctx context.Context) error
}

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)
