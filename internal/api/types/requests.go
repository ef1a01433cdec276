package types

type RegisterModelRequest struct {
	Name     string `json:"name" validate:"required"`
	Category string `json:"category" validate:"required,max=100"`
}

type CUICountsRequest struct {
	ModelIDs []string `json:"model_ids" validate:"required,min=1,dive,required"`
	CUIs     []string `json:"cuis" validate:"required,min=1,dive,required"`
}

type PerformanceRequest struct {
	ModelIDs   []string `json:"model_ids" validate:"required,min=1,dive,required"`
	DatasetIDs []string `json:"dataset_ids" validate:"required,min=1,dive,uuid"`
	Force      bool     `json:"force_recalc"`
	// Async hands the work to the worker instead of waiting for it.
	Async bool `json:"async"`
}
