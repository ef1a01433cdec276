package handlers

import (
	"net/http"

	"github.com/medcatmlflow/engine/internal/api/types"
	"github.com/medcatmlflow/engine/internal/services"
)

type PerformanceHandler struct {
	svc services.PerformanceService
}

func NewPerformanceHandler(svc services.PerformanceService) *PerformanceHandler {
	return &PerformanceHandler{svc: svc}
}

// Calculate answers model name -> dataset name -> result, computing what
// is not cached. With async set the pairs are queued instead.
func (h *PerformanceHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req types.PerformanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	input := &services.PerformanceInput{ModelIDs: req.ModelIDs, DatasetIDs: req.DatasetIDs, Force: req.Force}

	if req.Async {
		ids, err := h.svc.Enqueue(r.Context(), input)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, r, http.StatusAccepted, types.TaskAccepted{TaskIDs: ids})
		return
	}
	report, err := h.svc.FindOrLoad(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, report)
}
