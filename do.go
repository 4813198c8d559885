package vigil

import (
	"context"
	"sync"
)

//nolint:gochecknoglobals // singleton via sync.OnceValue
var defaultExecutor = sync.OnceValue(func() *Executor { return NewExecutor() })

// DefaultExecutor returns the package-level executor, creating it on first
// call.
//
// Pattern: Singleton — lazy initialization via sync.OnceValue ensures
// exactly one shared executor exists and is safe for concurrent access.
// Applications wanting isolated registries construct their own via
// [NewExecutor].
func DefaultExecutor() *Executor {
	return defaultExecutor()
}

// Do is a convenience wrapper running op through [DefaultExecutor] with the
// default retry configuration plus opts.
func Do[T any](ctx context.Context, op Operation[T], opts ...RetryOption) (RetryResult[T], error) {
	return Execute(ctx, DefaultExecutor(), op, DefaultRetryConfig(opts...))
}
