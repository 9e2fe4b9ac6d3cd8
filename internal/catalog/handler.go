package catalog

import (
	"context"
	"net/http"

	"examprep/internal/app/apiresp"
)

type Handler struct {
	svc catalogService
}

type catalogService interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListActiveTests(ctx context.Context) ([]Test, error)
}

func NewHandler(svc catalogService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListCategories(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) ListTests(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListActiveTests(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}
