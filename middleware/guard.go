package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/objperm"
	"github.com/MrEthical07/objperm/jwt"
)

type subjectContextKey struct{}
type groupsContextKey struct{}

// WithSubject returns ctx carrying subject as the caller identity.
func WithSubject(ctx context.Context, subject objperm.Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the subject stored by [Authenticate] or
// [WithSubject].
func SubjectFromContext(ctx context.Context) (objperm.Subject, bool) {
	s, ok := ctx.Value(subjectContextKey{}).(objperm.Subject)
	return s, ok
}

// GroupsFromContext returns the grp claim of the verified token. The claim
// is informational, for display or logging: permission checks resolve an
// actor's groups through the engine's record.Membership and never read it.
func GroupsFromContext(ctx context.Context) []string {
	groups, _ := ctx.Value(groupsContextKey{}).([]string)
	return groups
}

// Authenticate verifies the bearer token with verifier and stores the
// token's actor as the request subject. The actor also becomes the
// initiator recorded on permission changes made while serving the request.
// The token's grp claim is kept for [GroupsFromContext] only and grants
// nothing.
func Authenticate(verifier *jwt.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Parse(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithSubject(r.Context(), objperm.Actor(claims.Subject))
			ctx = context.WithValue(ctx, groupsContextKey{}, claims.Groups)
			ctx = objperm.WithInitiator(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
