package source

import (
	"context"
	"sync/atomic"
	"time"
)

// StaticProvider serves fixed files or a fixed error. It is used offline and
// in tests.
type StaticProvider struct {
	ProviderName string
	ProviderTier Tier
	Files        Files
	Err          error
	// Delay is waited before answering, honoring cancellation.
	Delay time.Duration

	calls atomic.Int32
}

// Name returns ProviderName.
func (s *StaticProvider) Name() string { return s.ProviderName }

// Tier returns ProviderTier.
func (s *StaticProvider) Tier() Tier { return s.ProviderTier }

// Calls returns how many times Fetch ran.
func (s *StaticProvider) Calls() int { return int(s.calls.Load()) }

// Fetch returns the configured files filtered by req.Want.
func (s *StaticProvider) Fetch(ctx context.Context, req Request) (Files, error) {
	s.calls.Add(1)
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(Files, len(s.Files))
	for p, c := range s.Files {
		if req.wants(p) {
			out[p] = c
		}
	}
	return out, nil
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ProviderName string
	ProviderTier Tier
	Func         func(ctx context.Context, req Request) (Files, error)
}

// Name returns ProviderName.
func (f ProviderFunc) Name() string { return f.ProviderName }

// Tier returns ProviderTier.
func (f ProviderFunc) Tier() Tier { return f.ProviderTier }

// Fetch calls Func.
func (f ProviderFunc) Fetch(ctx context.Context, req Request) (Files, error) {
	return f.Func(ctx, req)
}
