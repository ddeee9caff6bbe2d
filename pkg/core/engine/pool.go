package engine

import "context"

// Pool bounds how many completions run concurrently across all
// sessions, protecting provider rate limits when call volume spikes.
// Pool itself implements Provider so it drops in transparently.
type Pool struct {
	provider Provider
	sem      chan struct{}
}

// NewPool wraps a provider with a concurrency limit. size <= 0 means 4.
func NewPool(provider Provider, size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{
		provider: provider,
		sem:      make(chan struct{}, size),
	}
}

// Name returns the wrapped provider's identifier.
func (p *Pool) Name() string { return p.provider.Name() }

// Complete waits for a slot, then delegates. Cancellation while queued
// returns ctx.Err() without ever reaching the provider.
func (p *Pool) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.sem }()

	return p.provider.Complete(ctx, req)
}
