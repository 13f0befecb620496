// Package source defines the upstream adapter contract and the HTTP
// adapters that implement it. Adapters are side-effect-free beyond
// the network call; they never touch the store.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gamepulse/gamepulse/internal/models"
)

// FailureKind classifies a fetch failure. All kinds are recoverable;
// the scheduler maps Timeout and Transient to per-kind backoff.
type FailureKind string

const (
	FailRateLimited FailureKind = "rate_limited"
	FailTimeout     FailureKind = "timeout"
	FailNotFound    FailureKind = "not_found"
	FailTransient   FailureKind = "transient"
)

// FetchFailure is a typed per-entity fetch failure.
type FetchFailure struct {
	Kind   FailureKind
	Detail string
}

func (f *FetchFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// FetchResult is the outcome of fetching one entity: either validated
// fields with an observation timestamp, or a typed failure.
type FetchResult struct {
	EntityID   string
	Fields     models.Fields
	ObservedAt time.Time
	Readings   []models.SecondaryReading
	Failure    *FetchFailure
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool { return r.Failure == nil }

// Adapter fetches the current state of entities from one upstream
// source. Implementations self-throttle and signal RateLimited rather
// than blocking the caller.
type Adapter interface {
	Kind() models.Kind
	Fetch(ctx context.Context, entityIDs []string) []FetchResult
}

// Discoverer is implemented by adapters that can list upcoming
// entities. The scheduler uses it while idle to reactivate candidates.
type Discoverer interface {
	Discover(ctx context.Context) ([]models.Entity, error)
}

// classifyErr maps a transport error to a typed failure.
func classifyErr(err error) *FetchFailure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchFailure{Kind: FailTimeout, Detail: err.Error()}
	}
	return &FetchFailure{Kind: FailTransient, Detail: err.Error()}
}

// classifyStatus maps an HTTP status code to a typed failure, or nil
// for success.
func classifyStatus(code int) *FetchFailure {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 404:
		return &FetchFailure{Kind: FailNotFound, Detail: "entity not found upstream"}
	case code == 429:
		return &FetchFailure{Kind: FailRateLimited, Detail: "upstream rate limit"}
	default:
		return &FetchFailure{Kind: FailTransient, Detail: fmt.Sprintf("status %d", code)}
	}
}

// rateLimitedAll marks every requested entity RateLimited, used when
// the self-throttle refuses a fetch.
func rateLimitedAll(entityIDs []string, detail string) []FetchResult {
	results := make([]FetchResult, len(entityIDs))
	for i, id := range entityIDs {
		results[i] = FetchResult{
			EntityID: id,
			Failure:  &FetchFailure{Kind: FailRateLimited, Detail: detail},
		}
	}
	return results
}
