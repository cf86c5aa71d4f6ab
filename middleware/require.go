package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/objperm"
)

// InstanceFunc extracts the instance ID a request targets. An empty result
// rejects the request with 400.
type InstanceFunc func(*http.Request) string

// PathValue reads the instance ID from the named path wildcard of the
// standard library mux.
func PathValue(name string) InstanceFunc {
	return func(r *http.Request) string {
		return r.PathValue(name)
	}
}

// RequirePermission lets the request through only when the request subject
// holds every one of perms on the targeted instance of entityType.
func RequirePermission(engine *objperm.Engine, entityType string, instance InstanceFunc, perms ...string) func(http.Handler) http.Handler {
	return require(engine, entityType, instance, objperm.CheckAll, perms)
}

// RequireAnyPermission is RequirePermission with any-of semantics.
func RequireAnyPermission(engine *objperm.Engine, entityType string, instance InstanceFunc, perms ...string) func(http.Handler) http.Handler {
	return require(engine, entityType, instance, objperm.CheckAny, perms)
}

func require(engine *objperm.Engine, entityType string, instance InstanceFunc, mode objperm.CheckMode, perms []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			if !ok || engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			id := ""
			if instance != nil {
				id = instance(r)
			}
			if id == "" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}

			allowed, err := engine.Check(r.Context(), subject, objperm.Ref{Type: entityType, ID: id}, mode, perms...)
			switch {
			case errors.Is(err, objperm.ErrStoreUnavailable):
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			case err != nil:
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			case !allowed:
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
