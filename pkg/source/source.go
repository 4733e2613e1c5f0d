// Package source acquires auxiliary source text for a package from a
// prioritized list of unreliable upstream providers.
//
// Providers belong to one of two tiers. [TierMain] providers are preferred
// and authoritative (for example the repository at the exact release tag);
// [TierFallback] providers are best-effort and lower fidelity (for example
// the repository's default branch). A [Policy] controls retries per provider
// and whether fallbacks are raced against main providers once those start
// failing repeatedly.
//
// [Acquire] never returns an error and never panics: every failure mode is
// reported through the returned [Outcome], because callers treat missing
// source as a soft degradation.
package source

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/matzehuels/symgraph/pkg/integrations"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

// DefaultMaxBytes caps the total size of acquired files.
const DefaultMaxBytes int64 = 96 << 20

// Tier classifies providers by preference.
type Tier string

const (
	TierMain     Tier = "main"
	TierFallback Tier = "fallback"
)

// Sentinel errors providers use to report terminal conditions. Any other
// error is treated as transient and retried.
var (
	ErrNotFound  = stderrors.New("source not found")
	ErrOverLimit = stderrors.New("source exceeds size limit")
)

// Files maps slash-separated relative paths to file contents.
type Files map[string]string

// Size returns the total content size in bytes.
func (f Files) Size() int64 {
	var n int64
	for _, s := range f {
		n += int64(len(s))
	}
	return n
}

// Request describes what to acquire.
type Request struct {
	Key pkgkey.Key
	// Repository is the source repository URL from package metadata.
	Repository string
	// Want selects the paths worth fetching. Nil accepts every path.
	Want func(path string) bool
	// MaxBytes caps the total size of returned files. Zero means
	// DefaultMaxBytes.
	MaxBytes int64
}

func (r Request) wants(path string) bool {
	return r.Want == nil || r.Want(path)
}

func (r Request) maxBytes() int64 {
	if r.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return r.MaxBytes
}

// Provider fetches source files from one upstream.
type Provider interface {
	Name() string
	Tier() Tier
	// Fetch returns the wanted files. Return an error wrapping ErrNotFound
	// when the upstream has nothing for the request and ErrOverLimit when
	// the request's byte cap would be exceeded.
	Fetch(ctx context.Context, req Request) (Files, error)
}

// Policy governs retries and fallback racing.
type Policy struct {
	// MainRetries and FallbackRetries are attempts per provider, at least 1.
	MainRetries     int
	FallbackRetries int
	// RetryDelay is the pause before the second attempt; it doubles after
	// each further failure.
	RetryDelay time.Duration
	// RaceFallbacks enables racing; RaceAfter is the number of consecutive
	// main failures that triggers it.
	RaceFallbacks bool
	RaceAfter     int
}

// DefaultPolicy returns the policy used by the pipeline.
func DefaultPolicy() Policy {
	return Policy{
		MainRetries:     2,
		FallbackRetries: 1,
		RetryDelay:      500 * time.Millisecond,
		RaceFallbacks:   true,
		RaceAfter:       2,
	}
}

// ShouldRaceFallbacks reports whether fallbacks should start concurrently
// after the given number of consecutive main failures.
func (p Policy) ShouldRaceFallbacks(consecutiveFailures int) bool {
	return p.RaceFallbacks && p.RaceAfter > 0 && consecutiveFailures >= p.RaceAfter
}

func (p Policy) retries(t Tier) int {
	if t == TierMain {
		return max(p.MainRetries, 1)
	}
	return max(p.FallbackRetries, 1)
}

// OutcomeKind enumerates acquisition results.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeOverLimit OutcomeKind = "over-limit"
	OutcomeNotFound  OutcomeKind = "not-found"
	OutcomeError     OutcomeKind = "error"
)

// Outcome is the result of [Acquire].
type Outcome struct {
	Kind OutcomeKind
	// Files is set on success.
	Files Files
	// Provider names the provider that produced the result, if any.
	Provider string
	// Message describes failures.
	Message string
}

// OK reports whether the outcome carries files.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

func isNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound) || stderrors.Is(err, integrations.ErrNotFound)
}

func isOverLimit(err error) bool {
	return stderrors.Is(err, ErrOverLimit) || stderrors.Is(err, integrations.ErrTooLarge)
}
