// Package session owns the per-browser portal sessions and the resolver that
// turns auth state into a signed-in snapshot.
package session

import "context"

type contextKey string

const (
	resolverKey contextKey = "portal_resolver"
	snapshotKey contextKey = "portal_snapshot"
	idKey       contextKey = "portal_session_id"
)

func WithResolver(ctx context.Context, id string, r *Resolver) context.Context {
	ctx = context.WithValue(ctx, idKey, id)
	return context.WithValue(ctx, resolverKey, r)
}

func ResolverFromContext(ctx context.Context) *Resolver {
	r, _ := ctx.Value(resolverKey).(*Resolver)
	return r
}

func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(idKey).(string)
	return id
}

func WithSnapshot(ctx context.Context, s Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey, s)
}

// SignedOutSnapshot is what a request without a portal session sees.
var SignedOutSnapshot = Snapshot{State: SignedOut}

// SnapshotFromContext returns the snapshot attached to the request, or the
// zero (signed out, not loading) snapshot.
func SnapshotFromContext(ctx context.Context) Snapshot {
	s, _ := ctx.Value(snapshotKey).(Snapshot)
	return s
}
