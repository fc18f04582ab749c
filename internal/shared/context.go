package shared

import "context"

type contextKey int

const (
	companyKey contextKey = iota
	actorKey
)

// ContextWithCompany scopes the request to a tenant company.
func ContextWithCompany(ctx context.Context, companyID int64) context.Context {
	return context.WithValue(ctx, companyKey, companyID)
}

// CompanyFromContext returns the tenant company id, zero when unset.
func CompanyFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(companyKey).(int64)
	return id, ok
}

// ContextWithActor records the authenticated actor id supplied by the
// upstream auth collaborator.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext returns the actor id, zero when unset.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey).(int64)
	return id
}
