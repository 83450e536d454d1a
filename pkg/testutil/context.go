package testutil

import (
	"context"
	"time"

	id "github.com/adverant/nexus-compliance/pkg/domain"
	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

// Context returns a context carrying the identity and provenance values the
// HTTP middleware chain would normally set, for service tests that bypass it.
func Context(userID id.UserID) context.Context {
	ctx := context.Background()
	ctx = requestcontext.WithUserID(ctx, userID)
	ctx = requestcontext.WithRequestID(ctx, "test-request")
	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.7", "test-agent", "test-agent")
	return ctx
}

// ContextAt is Context with a pinned request time, for tests asserting
// timestamps deterministically.
func ContextAt(userID id.UserID, now time.Time) context.Context {
	return requestcontext.WithTime(Context(userID), now)
}
