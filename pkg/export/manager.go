// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/treeprof/pkg/config"
	"github.com/mbeema/treeprof/pkg/health"
	"go.uber.org/zap"
)

const defaultChannelSize = 64

// Manager fans serialized profiles out to the configured exporters.
// The Pyroscope push path sits behind a circuit breaker so a dead
// receiver cannot stall the pipeline.
type Manager struct {
	logger    *zap.Logger
	exporters []Exporter

	profileCh chan *Profile

	exportCount atomic.Int64
	errorCount  atomic.Int64
	dropCount   atomic.Int64

	stats *health.Stats

	pyroscope      *PyroscopeExporter
	circuitBreaker *CircuitBreaker

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewManager creates an export manager from configuration.
func NewManager(cfg *config.ExportersConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger:         logger,
		profileCh:      make(chan *Profile, defaultChannelSize),
		circuitBreaker: NewCircuitBreaker(5, 30*time.Second),
		stopCh:         make(chan struct{}),
	}

	if cfg.File.Enabled {
		exp, err := NewFileExporter(cfg.File.Dir, logger)
		if err != nil {
			return nil, err
		}
		m.exporters = append(m.exporters, exp)
	}

	if cfg.Stdout.Enabled {
		m.exporters = append(m.exporters, NewStdoutExporter(cfg.Stdout.Format, logger))
	}

	if cfg.Pyroscope.Enabled {
		m.pyroscope = NewPyroscopeExporter(&cfg.Pyroscope, logger)
		logger.Info("pyroscope exporter enabled", zap.String("endpoint", cfg.Pyroscope.Endpoint))
	}

	return m, nil
}

// SetStats attaches self-monitoring counters. Call before Start.
func (m *Manager) SetStats(s *health.Stats) {
	m.stats = s
}

// Start begins the export goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.processProfiles(ctx)

	m.logger.Info("export manager started",
		zap.Int("exporters", len(m.exporters)),
		zap.Bool("pyroscope", m.pyroscope != nil),
	)
	return nil
}

// Stop drains queued profiles and shuts down exporters.
func (m *Manager) Stop() error {
	close(m.stopCh)
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, exp := range m.exporters {
		if err := exp.Shutdown(ctx); err != nil {
			m.logger.Error("exporter shutdown error", zap.Error(err))
		}
	}
	if m.pyroscope != nil {
		if err := m.pyroscope.Shutdown(ctx); err != nil {
			m.logger.Error("pyroscope shutdown error", zap.Error(err))
		}
	}

	m.logger.Info("export manager stopped",
		zap.Int64("profiles_exported", m.exportCount.Load()),
		zap.Int64("errors", m.errorCount.Load()),
		zap.Int64("dropped", m.dropCount.Load()),
	)
	return nil
}

// Export queues a profile for delivery.
func (m *Manager) Export(p *Profile) {
	select {
	case m.profileCh <- p:
	default:
		m.dropCount.Add(1)
		if m.stats != nil {
			m.stats.ProfilesDropped.Add(1)
		}
		m.logger.Warn("profile channel full, dropping profile",
			zap.String("source", p.Source),
		)
	}
}

// ResetBreaker reopens the push path, e.g. after a config reload.
func (m *Manager) ResetBreaker() {
	m.circuitBreaker.Reset()
}

func (m *Manager) processProfiles(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case p := <-m.profileCh:
			m.deliver(ctx, p)

		case <-m.stopCh:
			// Drain remaining
			for {
				select {
				case p := <-m.profileCh:
					m.deliver(context.Background(), p)
				default:
					return
				}
			}

		case <-ctx.Done():
			for {
				select {
				case p := <-m.profileCh:
					m.deliver(context.Background(), p)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) deliver(ctx context.Context, p *Profile) {
	delivered := false

	for _, exp := range m.exporters {
		if err := exp.Export(ctx, p); err != nil {
			m.errorCount.Add(1)
			if m.stats != nil {
				m.stats.ExportFailures.Add(1)
			}
			m.logger.Error("profile export failed",
				zap.String("source", p.Source),
				zap.Error(err),
			)
			continue
		}
		delivered = true
	}

	if m.pyroscope != nil {
		if !m.circuitBreaker.Allow() {
			m.dropCount.Add(1)
			if m.stats != nil {
				m.stats.ProfilesDropped.Add(1)
			}
			m.logger.Warn("pyroscope circuit open, skipping push",
				zap.String("source", p.Source),
			)
		} else if err := m.pyroscope.Export(ctx, p); err != nil {
			m.circuitBreaker.RecordFailure()
			m.errorCount.Add(1)
			if m.stats != nil {
				m.stats.ExportFailures.Add(1)
			}
			m.logger.Error("pyroscope push failed",
				zap.String("source", p.Source),
				zap.String("circuit", m.circuitBreaker.State().String()),
				zap.Error(err),
			)
		} else {
			m.circuitBreaker.RecordSuccess()
			delivered = true
		}
	}

	if delivered {
		m.exportCount.Add(1)
		if m.stats != nil {
			m.stats.ProfilesExported.Add(1)
		}
	}
}
