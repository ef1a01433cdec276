package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PerformanceResult caches one evaluation of a model against a dataset.
// There is at most one row per (model, dataset).
type PerformanceResult struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ModelID   string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_perf_model_dataset" json:"model_id"`
	DatasetID string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_perf_model_dataset" json:"dataset_id"`
	FP        int            `json:"fp"`
	FN        int            `json:"fn"`
	TP        int            `json:"tp"`
	Prec      datatypes.JSON `gorm:"type:jsonb" json:"prec"`
	Recall    datatypes.JSON `gorm:"type:jsonb" json:"recall"`
	F1        datatypes.JSON `gorm:"type:jsonb" json:"f1"`
	Counts    datatypes.JSON `gorm:"type:jsonb" json:"counts"`
	Examples  datatypes.JSON `gorm:"type:jsonb" json:"examples"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (p *PerformanceResult) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
