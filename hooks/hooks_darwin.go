//go:build darwin

// Stub for development on MacOS: the kernel boundary only exists on Linux,
// but the rest of the program (consumer, database, web UI) still runs.
package hooks

import (
	"context"

	"go.uber.org/zap"

	"github.com/clitap/clitap/probe"
)

type Tracer struct{}

// NewTracer reports that capture is unavailable but does not fail, so the
// program can come up in web-only mode.
func NewTracer(objPath string, p *probe.Probe, log *zap.Logger) (*Tracer, error) {
	log.Warn("kernel hooks not available on this platform, capture disabled")
	return nil, nil
}

func (t *Tracer) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (t *Tracer) Close() error { return nil }
