package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// StdoutExporter prints profile summaries to stdout for debugging.
// The binary payload itself is never printed; use the file exporter
// for that.
type StdoutExporter struct {
	format string // "text" or "json"
	logger *zap.Logger
}

// NewStdoutExporter creates a new stdout exporter.
func NewStdoutExporter(format string, logger *zap.Logger) *StdoutExporter {
	if format == "" {
		format = "text"
	}
	return &StdoutExporter{
		format: format,
		logger: logger,
	}
}

// Export prints a one-line summary of the profile.
func (e *StdoutExporter) Export(ctx context.Context, p *Profile) error {
	if e.format == "json" {
		b, _ := json.Marshal(map[string]interface{}{
			"_type":   "profile",
			"service": p.Service,
			"kind":    p.Kind,
			"start":   p.Start.Format(time.RFC3339Nano),
			"end":     p.End.Format(time.RFC3339Nano),
			"samples": p.Samples,
			"bytes":   len(p.Data),
			"source":  p.Source,
		})
		fmt.Fprintf(os.Stdout, "%s\n", b)
		return nil
	}

	fmt.Fprintf(os.Stdout,
		"[PROFILE] service=%s kind=%-4s samples=%-6d bytes=%-8d source=%s\n",
		p.Service, p.Kind, p.Samples, len(p.Data), p.Source,
	)
	return nil
}

// Shutdown is a no-op for stdout.
func (e *StdoutExporter) Shutdown(ctx context.Context) error {
	return nil
}
