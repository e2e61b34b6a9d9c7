package shared

import "context"

type subjectContextKey struct{}

// ContextWithSubject stores the authenticated user id in context.
func ContextWithSubject(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, userID)
}

// SubjectFromContext returns the authenticated user id, or 0 when the request is anonymous.
func SubjectFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(subjectContextKey{}).(int64)
	return id
}
