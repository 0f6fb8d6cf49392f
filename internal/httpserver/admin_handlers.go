package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"campushub/portalgate/internal/audit"
	"campushub/portalgate/internal/docstore"
	"campushub/portalgate/internal/guard"
	"campushub/portalgate/internal/observability"
	"campushub/portalgate/internal/profile"
)

// adminActor names the signed-in admin for audit records.
func (h *handlers) adminActor(r *http.Request) string {
	rt, err := h.Clients.ForRequest(r)
	if err != nil {
		return ""
	}
	return actorOf(rt.Session.Snapshot())
}

func (h *handlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if h.Profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile service unavailable")
		return
	}
	q := r.URL.Query()
	items, err := h.Profiles.List(r.Context(), profile.ListFilter{
		UniversityID: strings.TrimSpace(q.Get("university_id")),
		Role:         strings.TrimSpace(q.Get("role")),
	})
	if err != nil {
		observability.From(r.Context()).Error("list users failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list users failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
	h.auditReq(r, h.adminActor(r), "admin.users.list", "", audit.OutcomeSuccess, "")
}

func (h *handlers) handleSetRole(w http.ResponseWriter, r *http.Request) {
	if h.Profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile service unavailable")
		return
	}
	uid := chi.URLParam(r, "id")
	actor := h.adminActor(r)
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Only a super admin hands out super admin.
	if strings.EqualFold(strings.TrimSpace(req.Role), profile.RoleSuperAdmin) {
		if res, _ := guard.ResultFrom(r.Context()); res.Decision.Role != profile.RoleSuperAdmin {
			h.auditReq(r, actor, "admin.users.set_role", uid, audit.OutcomeDenied, "super_admin requires super_admin")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	p, err := h.Profiles.SetRole(r.Context(), uid, req.Role)
	if err != nil {
		status, msg := profileErrorStatus(err, "set role failed")
		h.auditReq(r, actor, "admin.users.set_role", uid, audit.OutcomeFailure, msg)
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("set role failed", zap.String("uid", uid), zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	h.auditReq(r, actor, "admin.users.set_role", uid, audit.OutcomeSuccess, "role="+p.Role)
	writeJSON(w, http.StatusOK, p)
}

// loanLimitRequest accepts the legacy spellings of the limit field.
type loanLimitRequest struct {
	LoanLimit       *float64 `json:"loan_limit"`
	LoanLimitCamel  *float64 `json:"loanLimit"`
	LoanLimitLegacy *float64 `json:"limit"`
}

func (req loanLimitRequest) value() (float64, bool) {
	for _, v := range []*float64{req.LoanLimit, req.LoanLimitCamel, req.LoanLimitLegacy} {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

func (h *handlers) handleSetLoanLimit(w http.ResponseWriter, r *http.Request) {
	if h.Profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile service unavailable")
		return
	}
	uid := chi.URLParam(r, "id")
	actor := h.adminActor(r)
	var req loanLimitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	limit, ok := req.value()
	if !ok {
		writeError(w, http.StatusBadRequest, "loan_limit is required")
		return
	}

	p, err := h.Profiles.SetLoanLimit(r.Context(), uid, limit)
	if err != nil {
		status, msg := profileErrorStatus(err, "set loan limit failed")
		h.auditReq(r, actor, "admin.users.set_limit", uid, audit.OutcomeFailure, msg)
		if status == http.StatusInternalServerError {
			observability.From(r.Context()).Error("set loan limit failed", zap.String("uid", uid), zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	h.auditReq(r, actor, "admin.users.set_limit", uid, audit.OutcomeSuccess, fmt.Sprintf("loan_limit=%g", p.LoanLimit))
	writeJSON(w, http.StatusOK, p)
}

const (
	defaultAuditLogLimit = 100
	maxAuditLogLimit     = 500
)

func (h *handlers) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if h.AuditLogs == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	limit := defaultAuditLogLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLogLimit)
	}

	items, err := h.AuditLogs.Recent(r.Context(), limit)
	if err != nil {
		observability.From(r.Context()).Error("list audit logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list audit logs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handlers) handleDeleteAuditLog(w http.ResponseWriter, r *http.Request) {
	if h.AuditLogs == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	actor := h.adminActor(r)

	if err := h.AuditLogs.Delete(r.Context(), id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit log entry not found")
			return
		}
		if errors.Is(err, docstore.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid audit log id")
			return
		}
		observability.From(r.Context()).Error("delete audit log failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete audit log failed")
		return
	}
	h.auditReq(r, actor, "admin.audit_logs.delete", id, audit.OutcomeSuccess, "")
	w.WriteHeader(http.StatusNoContent)
}
