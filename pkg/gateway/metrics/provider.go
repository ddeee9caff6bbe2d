package metrics

import (
	"context"
	"time"

	"github.com/loftcall/loftcall/pkg/core/engine"
)

// InstrumentProvider wraps an engine provider so completion latency
// lands in the EngineLatency histogram.
func (m *Metrics) InstrumentProvider(p engine.Provider) engine.Provider {
	return &timedProvider{inner: p, metrics: m}
}

type timedProvider struct {
	inner   engine.Provider
	metrics *Metrics
}

func (p *timedProvider) Name() string { return p.inner.Name() }

func (p *timedProvider) Complete(ctx context.Context, req engine.Request) (string, error) {
	start := time.Now()
	reply, err := p.inner.Complete(ctx, req)
	p.metrics.EngineLatency.Observe(time.Since(start).Seconds())
	return reply, err
}
