package document

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareEntry_Matches(t *testing.T) {
	entry := middlewareEntry{uid: "api::a.a", action: ActionCreate}
	assert.True(t, entry.matches("api::a.a", ActionCreate))
	assert.False(t, entry.matches("api::b.b", ActionCreate))
	assert.False(t, entry.matches("api::a.a", ActionDelete))

	wildcard := middlewareEntry{uid: UIDAny, action: ActionAny}
	assert.True(t, wildcard.matches("api::b.b", ActionDelete))
}

func TestRunChain(t *testing.T) {
	mctx := &MiddlewareContext{UID: "api::a.a", Action: ActionCreate, Params: &Params{}}

	t.Run("registration order is execution order", func(t *testing.T) {
		var order []string
		mk := func(name string) Middleware {
			return func(ctx context.Context, mctx *MiddlewareContext, next Next) (any, error) {
				order = append(order, name+":before")
				result, err := next(ctx)
				order = append(order, name+":after")
				return result, err
			}
		}
		entries := []middlewareEntry{
			{uid: UIDAny, action: ActionAny, fn: mk("first")},
			{uid: UIDAny, action: ActionAny, fn: mk("second")},
		}
		result, err := runChain(context.Background(), entries, mctx, func(ctx context.Context) (any, error) {
			order = append(order, "core")
			return "done", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", result)
		assert.Equal(t, []string{"first:before", "second:before", "core", "second:after", "first:after"}, order)
	})

	t.Run("non-matching entries are skipped", func(t *testing.T) {
		called := false
		entries := []middlewareEntry{
			{uid: "api::other.other", action: ActionAny, fn: func(ctx context.Context, mctx *MiddlewareContext, next Next) (any, error) {
				called = true
				return next(ctx)
			}},
		}
		_, err := runChain(context.Background(), entries, mctx, func(ctx context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("middleware can short-circuit", func(t *testing.T) {
		coreRan := false
		entries := []middlewareEntry{
			{uid: UIDAny, action: ActionAny, fn: func(ctx context.Context, mctx *MiddlewareContext, next Next) (any, error) {
				return "cached", nil
			}},
		}
		result, err := runChain(context.Background(), entries, mctx, func(ctx context.Context) (any, error) {
			coreRan = true
			return "fresh", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "cached", result)
		assert.False(t, coreRan)
	})

	t.Run("middleware can rewrite parameters", func(t *testing.T) {
		entries := []middlewareEntry{
			{uid: UIDAny, action: ActionAny, fn: func(ctx context.Context, mctx *MiddlewareContext, next Next) (any, error) {
				mctx.Params.Locale = "fr"
				return next(ctx)
			}},
		}
		_, err := runChain(context.Background(), entries, mctx, func(ctx context.Context) (any, error) {
			return mctx.Params.Locale, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "fr", mctx.Params.Locale)
	})

	t.Run("errors propagate outward", func(t *testing.T) {
		boom := errors.New("boom")
		var sawErr error
		entries := []middlewareEntry{
			{uid: UIDAny, action: ActionAny, fn: func(ctx context.Context, mctx *MiddlewareContext, next Next) (any, error) {
				result, err := next(ctx)
				sawErr = err
				return result, err
			}},
		}
		_, err := runChain(context.Background(), entries, mctx, func(ctx context.Context) (any, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, sawErr, boom)
	})
}
