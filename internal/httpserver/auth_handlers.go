package httpserver

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"campushub/portalgate/internal/audit"
	"campushub/portalgate/internal/observability"
	"campushub/portalgate/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

func (h *handlers) handleLoginPage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "sign in required",
		"login":  "/v1/auth/login",
	})
}

func (h *handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := rt.Session.Register(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		status, msg := identityErrorStatus(err, "registration failed")
		h.auditReq(r, req.Email, "auth.register", "", audit.OutcomeFailure, msg)
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("register failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	h.auditReq(r, req.Email, "auth.register", sess.UserID, audit.OutcomeSuccess, "")
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := rt.Session.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		status, msg := identityErrorStatus(err, "login failed")
		h.auditReq(r, req.Email, "auth.login", "", audit.OutcomeFailure, msg)
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("login failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	h.auditReq(r, req.Email, "auth.login", sess.UserID, audit.OutcomeSuccess, "")
	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	actor := actorOf(rt.Session.Snapshot())
	if err := rt.Session.Logout(r.Context()); err != nil {
		observability.From(r.Context()).Error("logout failed", zap.Error(err))
		h.auditReq(r, actor, "auth.logout", "", audit.OutcomeFailure, err.Error())
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	h.auditReq(r, actor, "auth.logout", "", audit.OutcomeSuccess, "")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rt.Session.Snapshot())
}

func (h *handlers) handleToken(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	token, err := rt.Identity.Token(r.Context())
	if err != nil {
		status, msg := identityErrorStatus(err, "issue token failed")
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("issue id token failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id_token": token})
}

func (h *handlers) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := rt.Identity.SendPasswordReset(r.Context(), req.Email); err != nil {
		observability.From(r.Context()).Error("password reset mail failed", zap.Error(err))
		h.auditReq(r, req.Email, "auth.password_reset", "", audit.OutcomeFailure, err.Error())
		writeError(w, http.StatusInternalServerError, "password reset failed")
		return
	}
	h.auditReq(r, req.Email, "auth.password_reset", "", audit.OutcomeSuccess, "")
	// Same answer whether or not the address has an account.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "if the address is registered, a reset link was sent"})
}

func (h *handlers) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "token and new_password are required")
		return
	}

	if err := rt.Identity.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		status, msg := identityErrorStatus(err, "password reset failed")
		h.auditReq(r, "", "auth.password_reset_confirm", "", audit.OutcomeFailure, msg)
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("confirm password reset failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	h.auditReq(r, "", "auth.password_reset_confirm", "", audit.OutcomeSuccess, "")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	actor := actorOf(rt.Session.Snapshot())
	if err := rt.Identity.UpdatePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		status, msg := identityErrorStatus(err, "change password failed")
		h.auditReq(r, actor, "auth.change_password", "", audit.OutcomeFailure, msg)
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("change password failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	h.auditReq(r, actor, "auth.change_password", "", audit.OutcomeSuccess, "")
	w.WriteHeader(http.StatusNoContent)
}

func actorOf(s session.Snapshot) string {
	if s.User != nil && s.User.Email != "" {
		return s.User.Email
	}
	return s.UserID
}
