// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package agent wires the treeprof pipeline together: it watches the
// capture directory, converts each dropped call-tree file into a
// binary pprof profile, and hands the result to the export manager.
package agent

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	pprofile "github.com/google/pprof/profile"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/mbeema/treeprof/pkg/calltree"
	"github.com/mbeema/treeprof/pkg/config"
	"github.com/mbeema/treeprof/pkg/export"
	"github.com/mbeema/treeprof/pkg/health"
	"github.com/mbeema/treeprof/pkg/pprof"
)

// captureDebounce delays conversion after the last write event so we
// never read a half-written capture.
const captureDebounce = 500 * time.Millisecond

// Version is reported by the health endpoint; the CLI sets it from its
// build information.
var Version = "dev"

// Agent owns the capture-to-profile pipeline.
type Agent struct {
	mu     sync.RWMutex
	cfg    *config.Config
	logger *zap.Logger

	manager *export.Manager
	watcher *fsnotify.Watcher
	stats   *health.Stats
	health  *health.Server

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates an agent from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	manager, err := export.NewManager(&cfg.Exporters, logger)
	if err != nil {
		return nil, fmt.Errorf("create export manager: %w", err)
	}
	stats := health.NewStats()
	manager.SetStats(stats)

	a := &Agent{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		stats:   stats,
		timers:  make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
	}
	if cfg.Health.Enabled {
		a.health = health.NewServer(cfg.Health.Addr, Version, stats, logger)
	}
	return a, nil
}

// Start converts any captures already present, then begins watching the
// input directory for new ones.
func (a *Agent) Start(ctx context.Context) error {
	cfg := a.config()

	if err := os.MkdirAll(cfg.Input.Dir, 0o755); err != nil {
		return fmt.Errorf("create input dir: %w", err)
	}
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create input watcher: %w", err)
	}
	if err := fsw.Add(cfg.Input.Dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch input dir: %w", err)
	}
	a.watcher = fsw

	a.wg.Add(1)
	go a.watchLoop(ctx)

	// Backlog: captures dropped while the agent was down.
	entries, err := os.ReadDir(cfg.Input.Dir)
	if err != nil {
		return fmt.Errorf("scan input dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(cfg.Input.Dir, e.Name())
		if DetectKind(path) == "" {
			continue
		}
		a.processFile(path)
	}

	if a.health != nil {
		a.health.SetReady(true)
	}
	a.logger.Info("agent started", zap.String("input_dir", cfg.Input.Dir))
	return nil
}

// Stop shuts down the watcher and flushes the export pipeline.
func (a *Agent) Stop() error {
	close(a.stopCh)
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.wg.Wait()

	a.timersMu.Lock()
	for _, t := range a.timers {
		t.Stop()
	}
	a.timersMu.Unlock()

	if a.health != nil {
		a.health.SetReady(false)
		if err := a.health.Stop(); err != nil {
			a.logger.Error("health server shutdown error", zap.Error(err))
		}
	}

	return a.manager.Stop()
}

// Reload swaps in a new configuration. Exporter topology changes need a
// restart; labels, periods, depth caps and verification apply to the
// next conversion.
func (a *Agent) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.manager.ResetBreaker()
	a.logger.Info("agent configuration reloaded")
	return nil
}

func (a *Agent) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *Agent) watchLoop(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if DetectKind(event.Name) == "" {
				continue
			}
			a.scheduleProcess(event.Name)

		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("input watcher error", zap.Error(err))

		case <-ctx.Done():
			return

		case <-a.stopCh:
			return
		}
	}
}

// scheduleProcess debounces per path: conversion runs once the file has
// been quiet for captureDebounce.
func (a *Agent) scheduleProcess(path string) {
	a.timersMu.Lock()
	defer a.timersMu.Unlock()

	if t, ok := a.timers[path]; ok {
		t.Stop()
	}
	a.timers[path] = time.AfterFunc(captureDebounce, func() {
		a.timersMu.Lock()
		delete(a.timers, path)
		a.timersMu.Unlock()
		a.processFile(path)
	})
}

func (a *Agent) processFile(path string) {
	a.stats.CapturesSeen.Add(1)
	p, err := a.Convert(path)
	if err != nil {
		a.stats.CapturesFailed.Add(1)
		a.logger.Error("capture conversion failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	a.stats.ProfilesBuilt.Add(1)
	a.stats.SamplesEncoded.Add(int64(p.Samples))
	a.manager.Export(p)
	a.logger.Info("capture converted",
		zap.String("path", path),
		zap.String("kind", p.Kind),
		zap.Int("samples", p.Samples),
		zap.Int("bytes", len(p.Data)),
	)

	if a.config().Input.RemoveAfter {
		if err := os.Remove(path); err != nil {
			a.logger.Warn("failed to remove converted capture",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
}

// DetectKind maps a capture filename to its profile kind, or "" when
// the file is not a capture.
func DetectKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cpuprofile":
		return "wall"
	case ".heapprofile":
		return "heap"
	default:
		return ""
	}
}

// Convert parses one capture file and builds its serialized, gzip'd
// pprof profile. It is also the entry point for one-shot conversion
// from the CLI.
func (a *Agent) Convert(path string) (*export.Profile, error) {
	kind := DetectKind(path)
	if kind == "" {
		return nil, fmt.Errorf("unrecognized capture file %q", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}

	cfg := a.config()
	end := time.Now()
	start := end

	var p *pprof.Profile
	switch kind {
	case "wall":
		tp, err := calltree.ParseCPUProfile(data)
		if err != nil {
			return nil, err
		}
		duration := time.Duration(tp.EndTimeMicros-tp.StartTimeMicros) * time.Microsecond
		if duration > 0 {
			start = end.Add(-duration)
		}
		p, err = tp.Build(calltree.BuildOptions{
			PeriodMicros: cfg.Profile.SamplePeriodMicros,
			TimeNanos:    start.UnixNano(),
			MaxDepth:     cfg.Profile.MaxStackDepth,
			Labels:       cfg.Profile.Labels,
			DropFrames:   cfg.Profile.DropFrames,
			KeepFrames:   cfg.Profile.KeepFrames,
		})
		if err != nil {
			return nil, err
		}

	case "heap":
		hp, err := calltree.ParseHeapProfile(data)
		if err != nil {
			return nil, err
		}
		p, err = hp.Build(calltree.HeapBuildOptions{
			IntervalBytes: cfg.Profile.HeapIntervalBytes,
			TimeNanos:     start.UnixNano(),
			MaxDepth:      cfg.Profile.MaxStackDepth,
			Labels:        cfg.Profile.Labels,
			DropFrames:    cfg.Profile.DropFrames,
			KeepFrames:    cfg.Profile.KeepFrames,
		})
		if err != nil {
			return nil, err
		}
	}

	a.addMetadata(p, path, cfg)

	raw := p.Serialize()
	if cfg.Profile.Verify {
		dec, err := pprofile.ParseData(raw)
		if err != nil {
			return nil, fmt.Errorf("verify serialized profile: %w", err)
		}
		if err := dec.CheckValid(); err != nil {
			return nil, fmt.Errorf("verify serialized profile: %w", err)
		}
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress profile: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress profile: %w", err)
	}

	return &export.Profile{
		Service: cfg.ServiceName,
		Kind:    kind,
		Start:   start,
		End:     end,
		Data:    buf.Bytes(),
		Source:  filepath.Base(path),
		Samples: p.SampleCount(),
	}, nil
}

// addMetadata records capture provenance as profile comments: the
// source file, the host, and, when configured, details of the profiled
// process.
func (a *Agent) addMetadata(p *pprof.Profile, path string, cfg *config.Config) {
	p.AddComment("capture=" + filepath.Base(path))
	if host, err := os.Hostname(); err == nil {
		p.AddComment("host=" + host)
	}

	if cfg.Profile.PID <= 0 {
		return
	}
	proc, err := process.NewProcess(cfg.Profile.PID)
	if err != nil {
		a.logger.Warn("profiled process not found",
			zap.Int32("pid", cfg.Profile.PID),
			zap.Error(err),
		)
		return
	}
	p.AddComment(fmt.Sprintf("pid=%d", cfg.Profile.PID))
	if name, err := proc.Name(); err == nil {
		p.AddComment("process.name=" + name)
	}
	if cmd, err := proc.Cmdline(); err == nil && cmd != "" {
		p.AddComment("process.cmdline=" + cmd)
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		p.AddComment(fmt.Sprintf("process.rss_bytes=%d", mem.RSS))
	}
}
