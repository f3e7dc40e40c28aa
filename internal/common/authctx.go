package common

import "context"

type ctxKey string

const (
	studentIDKey ctxKey = "auth/student-id"
	roleKey      ctxKey = "auth/role"
)

// WithStudent stores the authenticated student identifier and role on the
// provided context.
func WithStudent(ctx context.Context, id, role string) context.Context {
	ctx = context.WithValue(ctx, studentIDKey, id)
	return context.WithValue(ctx, roleKey, role)
}

// StudentID extracts the authenticated student identifier from the context.
func StudentID(ctx context.Context) (string, bool) {
	v := ctx.Value(studentIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Role extracts the authenticated caller's role from the context.
func Role(ctx context.Context) (string, bool) {
	v := ctx.Value(roleKey)
	if v == nil {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
