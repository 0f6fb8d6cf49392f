package httpserver

import (
	"errors"
	"net/http"

	"campushub/portalgate/internal/identity"
	"campushub/portalgate/internal/preferences"
	"campushub/portalgate/internal/profile"
)

// identityErrorStatus maps provider errors to a status and a client-safe
// message. Unknown errors become 500 with fallback.
func identityErrorStatus(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, identity.ErrNotSignedIn):
		return http.StatusUnauthorized, "not signed in"
	case errors.Is(err, identity.ErrEmailInUse):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, identity.ErrInvalidEmail):
		return http.StatusBadRequest, "invalid email"
	case errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest, "password does not meet policy"
	case errors.Is(err, identity.ErrInvalidToken):
		return http.StatusBadRequest, "invalid or expired token"
	default:
		return http.StatusInternalServerError, fallback
	}
}

func profileErrorStatus(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound, "profile not found"
	case errors.Is(err, profile.ErrInvalidRole), errors.Is(err, profile.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, profile.ErrNoUniversity), errors.Is(err, profile.ErrAdminCapReached):
		return http.StatusConflict, err.Error()
	case errors.Is(err, preferences.ErrUnknownKey):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, fallback
	}
}
