package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medcatmlflow/engine/internal/api/types"
	"github.com/medcatmlflow/engine/internal/services"
)

type ModelsHandler struct {
	svc services.ModelService
}

func NewModelsHandler(svc services.ModelService) *ModelsHandler {
	return &ModelsHandler{svc: svc}
}

func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListModels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *ModelsHandler) Get(w http.ResponseWriter, r *http.Request) {
	meta, err := h.svc.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, meta)
}

func (h *ModelsHandler) History(w http.ResponseWriter, r *http.Request) {
	hist, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, hist)
}

// Recalculate regenerates a model's metadata; with ?async=1 it is queued.
func (h *ModelsHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if isTrue(r.URL.Query().Get("async")) {
		taskID, err := h.svc.EnqueueRecalculate(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, r, http.StatusAccepted, types.TaskAccepted{TaskIDs: []string{taskID}})
		return
	}
	meta, err := h.svc.Recalculate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, meta)
}

// Register writes metadata for a registered model that has none.
func (h *ModelsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	meta, err := h.svc.Register(r.Context(), req.Name, req.Category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, meta)
}

func (h *ModelsHandler) CUICounts(w http.ResponseWriter, r *http.Request) {
	var req types.CUICountsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	counts, err := h.svc.CUICounts(r.Context(), req.ModelIDs, req.CUIs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, counts)
}

// Trees returns the rendered lineage. ?format=text answers plain text.
func (h *ModelsHandler) Trees(w http.ResponseWriter, r *http.Request) {
	trees, err := h.svc.Trees(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		var b strings.Builder
		for _, t := range trees {
			b.WriteString("[" + t.Category + "]\n")
			b.WriteString(t.String())
			b.WriteString("\n")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(b.String()))
		return
	}
	writeData(w, r, http.StatusOK, trees)
}

func isTrue(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
