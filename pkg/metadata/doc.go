// Package metadata resolves package identities to downloadable artifacts.
//
// A [Resolver] answers two questions for one ecosystem: where the published
// archive for an exact (name, version) lives, and which version is currently
// the latest. [Router] dispatches by ecosystem and caches latest-version
// lookups, since the processing pipeline asks for the same popular
// dependencies over and over.
//
// Errors are classified with [errors.Code] so callers can tell terminal
// failures from transient ones:
//
//	md, err := router.Resolve(ctx, key)
//	switch {
//	case errors.Is(err, errors.ErrCodePackageNotFound):
//	    // terminal, do not retry
//	case cache.IsRetryable(err):
//	    // transient upstream failure
//	}
//
// [errors.Code]: github.com/matzehuels/symgraph/pkg/errors.Code
package metadata
