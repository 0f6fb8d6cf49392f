package portal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"campushub/portalgate/internal/guard"
)

const (
	ClientCookie    = "portal_client"
	clientCookieAge = 365 * 24 * time.Hour
)

type clientIDKey struct{}

// WithClient makes sure every request carries a client id cookie and puts
// the id on the request context.
func WithClient(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(ClientCookie); err == nil {
				if parsed, err := uuid.Parse(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int(clientCookieAge / time.Second),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIDKey{}, id)))
		})
	}
}

func ClientID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey{}).(string)
	return id, ok && id != ""
}

// ForRequest returns the runtime of the client behind r.
func (r *Registry) ForRequest(req *http.Request) (*Runtime, error) {
	id, ok := ClientID(req.Context())
	if !ok {
		return nil, fmt.Errorf("request has no client id")
	}
	return r.Get(req.Context(), id)
}

// GuardSource adapts the registry to guard middleware.
func (r *Registry) GuardSource() guard.SourceFunc {
	return func(req *http.Request) (guard.Source, error) {
		rt, err := r.ForRequest(req)
		if err != nil {
			return nil, err
		}
		return rt.Session, nil
	}
}
