package httpserver

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"campushub/portalgate/internal/audit"
	"campushub/portalgate/internal/guard"
	"campushub/portalgate/internal/observability"
	"campushub/portalgate/internal/preferences"
	"campushub/portalgate/internal/profile"
)

func (h *handlers) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	prefs, err := preferences.Load(r.Context(), rt.Storage)
	if err != nil {
		observability.From(r.Context()).Error("load preferences failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load preferences failed")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// handlePutPreferences stores toggles on the client and, for a signed-in
// user, mirrors them onto the user document.
func (h *handlers) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	var update preferences.Preferences
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prefs, err := preferences.Save(r.Context(), rt.Storage, update)
	if err != nil {
		status, msg := profileErrorStatus(err, "save preferences failed")
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("save preferences failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}

	if snap := rt.Session.Snapshot(); snap.Authenticated() && snap.UserID != "" && h.Profiles != nil {
		if err := h.Profiles.SavePreferences(r.Context(), snap.UserID, update); err != nil && !errors.Is(err, profile.ErrNotFound) {
			observability.From(r.Context()).Warn("mirror preferences to profile failed", zap.String("uid", snap.UserID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *handlers) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	if h.Profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile service unavailable")
		return
	}
	var req struct {
		UniversityID string `json:"university_id"`
		DepartmentID string `json:"department_id"`
		LevelID      string `json:"level_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap := rt.Session.Snapshot()
	p, err := h.Profiles.CompleteOnboarding(r.Context(), snap.UserID, profile.Onboarding{
		UniversityID: req.UniversityID,
		DepartmentID: req.DepartmentID,
		LevelID:      req.LevelID,
	})
	if err != nil {
		status, msg := profileErrorStatus(err, "onboarding failed")
		h.auditReq(r, actorOf(snap), "profile.onboarding", snap.UserID, audit.OutcomeFailure, msg)
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("complete onboarding failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	if err := rt.Session.RefreshProfile(r.Context()); err != nil {
		observability.From(r.Context()).Warn("refresh session profile failed", zap.Error(err))
	}
	h.auditReq(r, actorOf(snap), "profile.onboarding", snap.UserID, audit.OutcomeSuccess, "")
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	snap := rt.Session.Snapshot()
	res, _ := guard.ResultFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     snap.User,
		"profile":  snap.Profile,
		"is_admin": snap.IsAdmin,
		"guard":    res,
	})
}

func (h *handlers) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	snap := rt.Session.Snapshot()
	res, _ := guard.ResultFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     snap.User,
		"decision": res.Decision,
	})
}
