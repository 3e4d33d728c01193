package testutil

import (
	"context"
	"time"

	"portal/pkg/requestcontext"
)

// AsActor puts the acting reviewer or citizen on ctx, as the metadata
// middleware does for HTTP requests.
func AsActor(ctx context.Context, actor string) context.Context {
	return requestcontext.WithActorID(ctx, actor)
}

// At pins the request clock.
func At(ctx context.Context, now time.Time) context.Context {
	return requestcontext.WithTime(ctx, now)
}
