package identity

import (
	"context"
	"time"
)

// Session is the authenticated user behind a request.
type Session struct {
	SubjectID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Active reports whether the session names a subject and has not expired at now.
func (s Session) Active(now time.Time) bool {
	if s.SubjectID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

type ctxKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// CurrentSession returns the session resolved for this request, if any.
func CurrentSession(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
