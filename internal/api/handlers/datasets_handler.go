package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/medcatmlflow/engine/internal/api/types"
	"github.com/medcatmlflow/engine/internal/services"
)

const maxDatasetUpload = 512 << 20

type DatasetsHandler struct {
	svc services.DatasetService
}

func NewDatasetsHandler(svc services.DatasetService) *DatasetsHandler {
	return &DatasetsHandler{svc: svc}
}

func (h *DatasetsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

// Create takes a multipart form with the dataset in "file" and the fields
// category_name, name (defaults to the upload's file name), description
// and overwrite.
func (h *DatasetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDatasetUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErrorStr(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeErrorStr(w, r, http.StatusBadRequest, "missing dataset file")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = filepath.Base(hdr.Filename)
	}
	ds, err := h.svc.Register(r.Context(), &services.RegisterDatasetInput{
		CategoryName: r.FormValue("category_name"),
		Name:         name,
		Description:  r.FormValue("description"),
		Overwrite:    isTrue(r.FormValue("overwrite")),
	}, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, ds)
}

func (h *DatasetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ds, err := h.svc.Delete(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, ds)
}
