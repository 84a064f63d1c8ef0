package auth

import "context"

type memberContextKey struct{}
type tokenContextKey struct{}

// ContextWithMember attaches the authenticated member to the context.
func ContextWithMember(ctx context.Context, member *Member) context.Context {
	if member == nil {
		return ctx
	}
	return context.WithValue(ctx, memberContextKey{}, member)
}

// MemberFromContext extracts the authenticated member from the context.
func MemberFromContext(ctx context.Context) (*Member, bool) {
	if ctx == nil {
		return nil, false
	}
	m, ok := ctx.Value(memberContextKey{}).(*Member)
	if !ok || m == nil {
		return nil, false
	}
	return m, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
