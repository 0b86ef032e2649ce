package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ansersec/anser/internal/domain"
	"github.com/ansersec/anser/internal/infra/auth"

	"github.com/go-chi/chi/v5"
)

type invokeRequest struct {
	Resource string         `json:"resource"`
	Params   map[string]any `json:"params"`
}

type decideRequest struct {
	Reason string `json:"reason"`
}

// Handler — HTTP-фасад Data Plane: вызовы и решения по аттестатам от имени
// аутентифицированного принципала (principal берется из JWT, не из body).
type Handler struct {
	core *Core
}

func NewHandler(core *Core) *Handler {
	return &Handler{core: core}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/invoke", h.handleInvoke)
	r.Get("/attestations", h.handleListAttestations)
	r.Post("/attestations/{id}/approve", h.handleApprove)
	r.Post("/attestations/{id}/deny", h.handleDeny)
	return r
}

func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resource == "" {
		http.Error(w, `{"error": "resource is required"}`, http.StatusBadRequest)
		return
	}

	resp, err := h.core.Invoke(r.Context(), *principal, req.Resource, req.Params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"result": resp})
}

func (h *Handler) handleListAttestations(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status := domain.AttestationStatus(r.URL.Query().Get("status"))
	items := h.core.ListAttestations(r.Context(), *principal, status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": items})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, domain.AttestationApproved)
}

func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, domain.AttestationDenied)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, to domain.AttestationStatus) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	var req decideRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // reason опционален

	var att domain.Attestation
	var err error
	if to == domain.AttestationApproved {
		att, err = h.core.ApproveAttestation(r.Context(), id, *principal, req.Reason)
	} else {
		att, err = h.core.DenyAttestation(r.Context(), id, *principal, req.Reason)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(att)
}

// writeDomainError мапит доменную таксономию ошибок на HTTP статусы.
// Детали внутренних сбоев наружу не отдаем.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)

	status := http.StatusBadGateway
	switch kind {
	case domain.KindDenied, domain.KindAttestationDenied:
		status = http.StatusForbidden
	case domain.KindUnauthorized:
		status = http.StatusUnauthorized
	case domain.KindAttestationTimeout:
		status = http.StatusRequestTimeout
	case domain.KindInvalidState:
		status = http.StatusConflict
	case domain.KindNotBound:
		status = http.StatusGone
	}

	if errors.Is(err, context.Canceled) {
		status = 499 // client closed request
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}
