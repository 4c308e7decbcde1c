package document

import "context"

// Action names one document-engine operation for middleware matching.
type Action string

const (
	ActionFindMany     Action = "findMany"
	ActionFindFirst    Action = "findFirst"
	ActionFindOne      Action = "findOne"
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionDeleteMany   Action = "deleteMany"
	ActionClone        Action = "clone"
	ActionCount        Action = "count"
	ActionPublish      Action = "publish"
	ActionUnpublish    Action = "unpublish"
	ActionDiscardDraft Action = "discardDraft"
)

// ActionAny and UIDAny are the wildcard keys accepted by Use.
const (
	ActionAny Action = "*"
	UIDAny           = "*"
)

// MiddlewareContext is the mutable request state a middleware may inspect
// or rewrite before handing control to the next link.
type MiddlewareContext struct {
	UID        string
	Action     Action
	DocumentID string
	Params     *Params
}

// Next resumes the chain. A middleware that never calls it short-circuits
// the operation and its return value becomes the result.
type Next func(ctx context.Context) (any, error)

// Middleware wraps a document operation. Registration order is execution
// order; the innermost continuation is the core action.
type Middleware func(ctx context.Context, mctx *MiddlewareContext, next Next) (any, error)

type middlewareEntry struct {
	uid    string
	action Action
	fn     Middleware
}

func (m *middlewareEntry) matches(uid string, action Action) bool {
	if m.uid != UIDAny && m.uid != uid {
		return false
	}
	if m.action != ActionAny && m.action != action {
		return false
	}
	return true
}

// runChain composes the matching middlewares around core, outermost first.
func runChain(ctx context.Context, entries []middlewareEntry, mctx *MiddlewareContext, core Next) (any, error) {
	next := core
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !entry.matches(mctx.UID, mctx.Action) {
			continue
		}
		inner := next
		fn := entry.fn
		next = func(ctx context.Context) (any, error) {
			return fn(ctx, mctx, inner)
		}
	}
	return next(ctx)
}
