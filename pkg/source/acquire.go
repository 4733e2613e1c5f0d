package source

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/symgraph/pkg/observability"
)

// Acquirer runs acquisitions with a fixed policy and logger.
type Acquirer struct {
	Policy Policy
	Logger *log.Logger
}

// NewAcquirer creates an Acquirer. A nil logger discards output.
func NewAcquirer(policy Policy, logger *log.Logger) *Acquirer {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Acquirer{Policy: policy, Logger: logger}
}

// Acquire runs providers under policy without logging.
func Acquire(ctx context.Context, req Request, providers []Provider, policy Policy) Outcome {
	return NewAcquirer(policy, nil).Acquire(ctx, req, providers)
}

// result is what one runner goroutine reports back.
type result struct {
	main      bool
	provider  string
	files     Files
	overLimit bool
	failures  []failure
}

type failure struct {
	provider string
	notFound bool
	msg      string
}

// Acquire tries main providers in order, then fallbacks. Once main
// providers accumulate Policy.RaceAfter consecutive failures and racing is
// enabled, every fallback starts concurrently and the first success wins;
// remaining work is cancelled.
func (a *Acquirer) Acquire(ctx context.Context, req Request, providers []Provider) Outcome {
	start := time.Now()
	out := a.acquire(ctx, req, providers)
	observability.Source().OnOutcome(ctx, string(out.Kind), time.Since(start))
	return out
}

func (a *Acquirer) acquire(ctx context.Context, req Request, providers []Provider) Outcome {
	var mains, fallbacks []Provider
	for _, p := range providers {
		if p.Tier() == TierMain {
			mains = append(mains, p)
		} else {
			fallbacks = append(fallbacks, p)
		}
	}
	if len(providers) == 0 {
		return Outcome{Kind: OutcomeNotFound, Message: "no source providers configured"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(fallbacks)+1)
	race := make(chan struct{})
	var raceOnce sync.Once
	trigger := func() { raceOnce.Do(func() { close(race) }) }

	go a.runMain(ctx, req, mains, results, trigger)
	outstanding := 1
	fallbacksStarted := false
	raceCh := race
	var failures []failure

	startFallbacks := func(raced bool) {
		fallbacksStarted = true
		if len(fallbacks) == 0 {
			return
		}
		if !raced {
			outstanding++
			go a.runSequence(ctx, req, fallbacks, false, results, nil)
			return
		}
		a.Logger.Debug("racing fallback sources", "key", req.Key, "providers", len(fallbacks))
		for _, p := range fallbacks {
			outstanding++
			go a.runSequence(ctx, req, []Provider{p}, false, results, nil)
		}
	}

	for outstanding > 0 {
		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeError, Message: ctx.Err().Error()}
		case <-raceCh:
			raceCh = nil
			if !fallbacksStarted {
				startFallbacks(true)
			}
		case r := <-results:
			outstanding--
			switch {
			case r.overLimit:
				return Outcome{Kind: OutcomeOverLimit, Provider: r.provider,
					Message: fmt.Sprintf("%s: source exceeds %d bytes", r.provider, req.maxBytes())}
			case r.files != nil:
				if size := r.files.Size(); size > req.maxBytes() {
					return Outcome{Kind: OutcomeOverLimit, Provider: r.provider,
						Message: fmt.Sprintf("%s: %d bytes exceeds %d", r.provider, size, req.maxBytes())}
				}
				a.Logger.Debug("acquired source", "key", req.Key, "provider", r.provider, "files", len(r.files))
				return Outcome{Kind: OutcomeSuccess, Files: r.files, Provider: r.provider}
			}
			failures = append(failures, r.failures...)
			if r.main && !fallbacksStarted {
				startFallbacks(false)
			}
		}
	}
	return summarize(failures)
}

func (a *Acquirer) runMain(ctx context.Context, req Request, mains []Provider, out chan<- result, trigger func()) {
	consecutive := 0
	a.runSequence(ctx, req, mains, true, out, func() {
		consecutive++
		if a.Policy.ShouldRaceFallbacks(consecutive) {
			trigger()
		}
	})
}

// runSequence tries providers in order and sends exactly one result.
func (a *Acquirer) runSequence(ctx context.Context, req Request, ps []Provider, main bool, out chan<- result, onFailure func()) {
	r := result{main: main}
	defer func() { out <- r }()

	for _, p := range ps {
		files, f, overLimit := a.attempt(ctx, req, p, onFailure)
		switch {
		case overLimit:
			r.provider, r.overLimit = p.Name(), true
			return
		case f == nil:
			r.provider, r.files = p.Name(), files
			return
		}
		r.failures = append(r.failures, *f)
		if ctx.Err() != nil {
			return
		}
	}
}

// attempt runs p up to its tier's retry count. It returns files on success
// or the failure that ended the attempts.
func (a *Acquirer) attempt(ctx context.Context, req Request, p Provider, onFailure func()) (Files, *failure, bool) {
	retries := a.Policy.retries(p.Tier())
	delay := a.Policy.RetryDelay
	var last error

	for i := range retries {
		start := time.Now()
		files, err := safeFetch(ctx, p, req)
		observability.Source().OnAttempt(ctx, p.Name(), string(p.Tier()), time.Since(start), err)
		if err == nil {
			if files == nil {
				files = Files{}
			}
			return files, nil, false
		}
		if ctx.Err() != nil {
			return nil, &failure{provider: p.Name(), msg: ctx.Err().Error()}, false
		}
		last = err
		if onFailure != nil {
			onFailure()
		}
		a.Logger.Debug("source provider failed", "provider", p.Name(), "tier", p.Tier(), "attempt", i+1, "error", err)

		switch {
		case isOverLimit(err):
			return nil, nil, true
		case isNotFound(err):
			return nil, &failure{provider: p.Name(), notFound: true, msg: err.Error()}, false
		}
		if i < retries-1 && delay > 0 {
			select {
			case <-ctx.Done():
				return nil, &failure{provider: p.Name(), msg: ctx.Err().Error()}, false
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return nil, &failure{provider: p.Name(), msg: last.Error()}, false
}

// safeFetch converts provider panics into errors.
func safeFetch(ctx context.Context, p Provider, req Request) (files Files, err error) {
	defer func() {
		if r := recover(); r != nil {
			files, err = nil, fmt.Errorf("provider %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Fetch(ctx, req)
}

func summarize(failures []failure) Outcome {
	if len(failures) == 0 {
		return Outcome{Kind: OutcomeNotFound, Message: "no source available"}
	}
	allNotFound := true
	msgs := make([]string, 0, len(failures))
	for _, f := range failures {
		allNotFound = allNotFound && f.notFound
		msgs = append(msgs, f.provider+": "+f.msg)
	}
	kind := OutcomeError
	if allNotFound {
		kind = OutcomeNotFound
	}
	return Outcome{Kind: kind, Message: strings.Join(msgs, "; ")}
}
