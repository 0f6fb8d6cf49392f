package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"campushub/portalgate/internal/authz"
)

// SourceFunc finds the session state of the client behind r.
type SourceFunc func(r *http.Request) (Source, error)

type resultKey struct{}

// ResultFrom returns the granted result stored by the middleware.
func ResultFrom(ctx context.Context) (Result, bool) {
	r, ok := ctx.Value(resultKey{}).(Result)
	return r, ok
}

func (g *Guards) RequireAuthenticated(source SourceFunc) func(http.Handler) http.Handler {
	return g.middleware(source, g.Authenticated)
}

func (g *Guards) RequireAdmin(source SourceFunc) func(http.Handler) http.Handler {
	return g.middleware(source, g.Admin)
}

type evaluateFunc func(ctx context.Context, src Source, observers ...Observer) Result

func (g *Guards) middleware(source SourceFunc, evaluate evaluateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			src, err := source(r)
			if err != nil {
				g.log.Warn("guard could not resolve client session", zap.String("path", r.URL.Path), zap.Error(err))
				deny(w, r, Result{State: authz.StateDenied, Redirect: g.loginPath, Reason: "client session unavailable"}, g.loginPath)
				return
			}

			res := evaluate(r.Context(), src)
			if !res.Granted() {
				deny(w, r, res, g.loginPath)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), resultKey{}, res)))
		})
	}
}

// deny redirects browsers and answers JSON clients with 401 (go to login)
// or 403 (go to landing).
func deny(w http.ResponseWriter, r *http.Request, res Result, loginPath string) {
	if wantsJSON(r) {
		status := http.StatusForbidden
		if res.Redirect == loginPath {
			status = http.StatusUnauthorized
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":    http.StatusText(status),
			"redirect": res.Redirect,
		})
		return
	}
	http.Redirect(w, r, res.Redirect, http.StatusFound)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.URL.Path, "/v1/")
}
