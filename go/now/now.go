// Package now provides a context-overridable source of the current time so
// that tests can control clocks.
package now

import (
	"context"
	"time"
)

type contextKeyType struct{}

// ContextKey is used to store a time.Time or NowProvider in a context.
var ContextKey contextKeyType

// NowProvider returns the current time.
type NowProvider func() time.Time

// Now returns the time stored in the context, the value of calling a
// NowProvider stored in the context, or time.Now() if neither is present.
func Now(ctx context.Context) time.Time {
	if v := ctx.Value(ContextKey); v != nil {
		switch t := v.(type) {
		case time.Time:
			return t
		case NowProvider:
			return t()
		}
	}
	return time.Now()
}

// TimeTravelingContext returns a context that reports the given time.
func TimeTravelingContext(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKey, t)
}
