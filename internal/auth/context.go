package auth

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved caller to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the caller placed by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil || v.IsZero() {
		return Identity{}, false
	}
	return *v, true
}
