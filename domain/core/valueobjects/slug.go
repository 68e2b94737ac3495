package valueobjects

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// ExistsFunc reports whether a slug candidate is already taken within a
// scope. Implementations may do I/O; the resolver itself never does.
type ExistsFunc func(ctx context.Context, scope, candidate string) (bool, error)

// Slugify derives a URL-safe identifier from a human title. The
// transform is pure: lowercase, drop everything outside [a-z0-9 -],
// collapse whitespace runs into single hyphens and collapse repeated
// hyphens.
func Slugify(title string) string {
	lowered := strings.ToLower(title)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '-':
			b.WriteRune(r)
		}
	}

	fields := strings.Fields(b.String())
	joined := strings.Join(fields, "-")

	for strings.Contains(joined, "--") {
		joined = strings.ReplaceAll(joined, "--", "-")
	}
	return strings.Trim(joined, "-")
}

// UniqueSlugInScope derives a slug for title that does not collide with
// any existing slug in scope, according to exists. Candidates are the
// base slug, then numeric suffixes, then one timestamp suffix as the
// final attempt. The loop is bounded by maxAttempts; exceeding it is a
// fatal resolver error, never retried automatically. Under concurrent
// callers the returned slug can still race; the persistence layer
// re-validates the final insert.
func UniqueSlugInScope(ctx context.Context, scope, title string, exists ExistsFunc, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	base := Slugify(title)
	if base == "" {
		base = "topic"
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", pkgerrors.NewTimeoutError("slug resolution").WithCause(err)
		}

		var candidate string
		switch {
		case attempt == 1:
			candidate = base
		case attempt == maxAttempts:
			// Last try gets a timestamp suffix instead of a counter.
			candidate = fmt.Sprintf("%s-%d", base, time.Now().UnixMilli())
		default:
			candidate = fmt.Sprintf("%s-%d", base, attempt)
		}

		taken, err := exists(ctx, scope, candidate)
		if err != nil {
			return "", pkgerrors.Wrap(err, "slug existence check failed")
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", pkgerrors.NewResolverExhaustedError(scope, base, maxAttempts)
}
