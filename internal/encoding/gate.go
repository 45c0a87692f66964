package encoding

import "context"

// Gate runs fn inside whatever exclusivity window the caller requires.
// The workflow supplies one backed by the GPU lock.
type Gate func(ctx context.Context, stage string, fn func(context.Context) error) error

func (g Gate) run(ctx context.Context, stage string, fn func(context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	return g(ctx, stage, fn)
}
