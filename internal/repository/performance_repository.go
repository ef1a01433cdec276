package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medcatmlflow/engine/internal/models"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
)

type PerformanceRepository interface {
	Find(ctx context.Context, modelID, datasetID string) (*models.PerformanceResult, error)
	// Upsert stores res, replacing any row for the same model and dataset.
	Upsert(ctx context.Context, res *models.PerformanceResult) error
}

type performanceRepository struct {
	db *gorm.DB
}

func NewPerformanceRepository(db *gorm.DB) PerformanceRepository {
	return &performanceRepository{db: db}
}

func (r *performanceRepository) Find(ctx context.Context, modelID, datasetID string) (*models.PerformanceResult, error) {
	var out models.PerformanceResult
	err := r.db.WithContext(ctx).Where("model_id = ? AND dataset_id = ?", modelID, datasetID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErr.New(appErr.CodeNotFound, "no cached performance").
			WithMeta("model_id", modelID).
			WithMeta("dataset_id", datasetID)
	}
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "find cached performance failed")
	}
	return &out, nil
}

func (r *performanceRepository) Upsert(ctx context.Context, res *models.PerformanceResult) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "model_id"}, {Name: "dataset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"fp",
			"fn",
			"tp",
			"prec",
			"recall",
			"f1",
			"counts",
			"examples",
			"updated_at",
		}),
	}).Create(res).Error
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "store performance failed")
	}
	return nil
}
