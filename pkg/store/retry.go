package store

import (
	"context"
	"errors"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// DefaultMaxAttempts bounds optimistic-concurrency retries.
const DefaultMaxAttempts = 3

// RetryOnConflict runs fn until it succeeds, fails with an error other than
// model.ErrConflict, or attempts are exhausted. fn must re-read the records
// it writes on every call.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(ctx)
		if !errors.Is(err, model.ErrConflict) {
			return err
		}
	}
	return err
}
