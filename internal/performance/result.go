// Package performance caches model-on-dataset evaluations.
package performance

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/medcatmlflow/engine/internal/models"
	"github.com/medcatmlflow/engine/pkg/utils"
)

// Result is one model's scores on one dataset.
type Result struct {
	FalsePositives int                `json:"fp"`
	FalseNegatives int                `json:"fn"`
	TruePositives  int                `json:"tp"`
	Precision      map[string]float64 `json:"prec"`
	Recall         map[string]float64 `json:"recall"`
	F1             map[string]float64 `json:"f1"`
	Counts         map[string]float64 `json:"counts"`
	// Examples holds the fp/fn/tp occurrences, keyed by kind then concept.
	Examples map[string]any `json:"examples"`

	// Undecoded keeps stored columns that could not be parsed, verbatim.
	Undecoded map[string]string `json:"undecoded,omitempty"`
}

// ToModel converts res into the row stored for (modelID, datasetID).
func ToModel(modelID, datasetID string, res Result) (*models.PerformanceResult, error) {
	row := &models.PerformanceResult{
		ModelID:   modelID,
		DatasetID: datasetID,
		FP:        res.FalsePositives,
		FN:        res.FalseNegatives,
		TP:        res.TruePositives,
	}
	cols := []struct {
		dst *datatypes.JSON
		val any
		key string
	}{
		{&row.Prec, res.Precision, "prec"},
		{&row.Recall, res.Recall, "recall"},
		{&row.F1, res.F1, "f1"},
		{&row.Counts, res.Counts, "counts"},
		{&row.Examples, res.Examples, "examples"},
	}
	for _, c := range cols {
		b, err := json.Marshal(c.val)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.key, err)
		}
		*c.dst = datatypes.JSON(b)
	}
	return row, nil
}

// FromModel decodes a stored row. Columns that hold a serialized string
// instead of a JSON object are decoded too; anything unparseable is kept in
// Undecoded rather than failing the read.
func FromModel(row *models.PerformanceResult) Result {
	res := Result{
		FalsePositives: row.FP,
		FalseNegatives: row.FN,
		TruePositives:  row.TP,
	}
	decodeColumn(&res, "prec", row.Prec, &res.Precision)
	decodeColumn(&res, "recall", row.Recall, &res.Recall)
	decodeColumn(&res, "f1", row.F1, &res.F1)
	decodeColumn(&res, "counts", row.Counts, &res.Counts)
	decodeColumn(&res, "examples", row.Examples, &res.Examples)
	return res
}

func decodeColumn[T any](res *Result, key string, raw datatypes.JSON, dst *T) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var v T
	if err := utils.DecodeLenient(string(raw), &v); err != nil {
		if res.Undecoded == nil {
			res.Undecoded = map[string]string{}
		}
		res.Undecoded[key] = string(raw)
		return
	}
	*dst = v
}
