package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ansersec/anser/internal/domain"
	"github.com/ansersec/anser/internal/infra/auth"

	"github.com/go-chi/chi/v5"
)

// AttestationService Описываем, что нам нужно от сервиса
type AttestationService interface {
	Get(ctx context.Context, id string) (*domain.Attestation, error)
	List(ctx context.Context, status domain.AttestationStatus, operator domain.Principal) ([]*domain.Attestation, error)
	Decide(ctx context.Context, id string, approved bool, resolver domain.Principal, reason string) error
}

type AttestationHandler struct {
	service AttestationService
}

func NewAttestationHandler(s AttestationService) *AttestationHandler {
	return &AttestationHandler{service: s}
}

func (h *AttestationHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	att, err := h.service.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if att == nil {
		http.Error(w, "attestation not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(att)
}

func (h *AttestationHandler) List(w http.ResponseWriter, r *http.Request) {
	operator, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status := domain.AttestationStatus(r.URL.Query().Get("status")) // Достаем из ?status=...

	list, err := h.service.List(r.Context(), status, *operator)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (h *AttestationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Резолвер — авторизованный оператор из токена
	resolver, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	err := h.service.Decide(r.Context(), id, req.Approved, *resolver, req.Reason)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindUnauthorized:
			http.Error(w, err.Error(), http.StatusForbidden)
		case domain.KindInvalidState:
			// Запись не найдена или решение уже было принято ранее (Double Decision)
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
