package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/medbook/libs/auth"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionRevoked = errors.New("session revoked")
)

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

type Resolver struct {
	verifier    TokenVerifier
	revocations Revocations
	now         func() time.Time
}

// NewResolver builds a resolver; revocations may be nil.
func NewResolver(verifier TokenVerifier, revocations Revocations) *Resolver {
	return &Resolver{verifier: verifier, revocations: revocations, now: time.Now}
}

func (r *Resolver) Resolve(ctx context.Context, token string) (Session, error) {
	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	sess := Session{SubjectID: claims.Subject, Email: claims.Email}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	if !sess.Active(r.now()) {
		return Session{}, ErrInvalidSession
	}

	if r.revocations != nil {
		at, revoked, err := r.revocations.RevokedAt(ctx, sess.SubjectID)
		if err != nil {
			return Session{}, fmt.Errorf("revocation lookup: %w", err)
		}
		if revoked && (sess.IssuedAt.IsZero() || !sess.IssuedAt.After(at)) {
			return Session{}, ErrSessionRevoked
		}
	}
	return sess, nil
}

// Middleware resolves a bearer token into a Session on the request context.
// Requests without a token pass through anonymously; a bad token is a 401.
func Middleware(resolver *Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			sess, err := resolver.Resolve(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if !errors.Is(err, ErrInvalidSession) && !errors.Is(err, ErrSessionRevoked) {
					logger.Error("session resolution failed", "err", err)
					http.Error(w, "session lookup unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "invalid session", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// RevokeOnSignOut subscribes to hub so that a sign-out invalidates the
// subject's earlier tokens. Call the returned function to stop.
func RevokeOnSignOut(hub *Hub, revocations Revocations, logger *slog.Logger) func() {
	return hub.Subscribe(func(ev Event) {
		if ev.Type != EventSignedOut || ev.SubjectID == "" {
			return
		}
		at := ev.OccurredAt
		if at.IsZero() {
			at = time.Now()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := revocations.Revoke(ctx, ev.SubjectID, at); err != nil {
			logger.Error("revoke session failed", "err", err, "subject_id", ev.SubjectID)
			return
		}
		logger.Info("sessions revoked", "subject_id", ev.SubjectID, "revoked_at", at)
	})
}
