package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/medcatmlflow/engine/internal/models"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
)

type DatasetRepository interface {
	BaseRepository[models.TestDataset]
	GetByName(ctx context.Context, name string, dest *models.TestDataset) error
	GetByIDs(ctx context.Context, ids []string) ([]models.TestDataset, error)
	DeleteByName(ctx context.Context, name string) (*models.TestDataset, error)
	Replace(ctx context.Context, ds *models.TestDataset) error
}

type datasetRepository struct {
	BaseRepository[models.TestDataset]
	db *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) DatasetRepository {
	return &datasetRepository{BaseRepository: NewBaseRepository[models.TestDataset](db, "dataset"), db: db}
}

func (r *datasetRepository) GetByName(ctx context.Context, name string, dest *models.TestDataset) error {
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, "dataset not found").WithMeta("name", name)
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get dataset by name failed")
	}
	return nil
}

// GetByIDs returns the datasets in ids, ordered by name. Unknown ids are
// skipped.
func (r *datasetRepository) GetByIDs(ctx context.Context, ids []string) ([]models.TestDataset, error) {
	var out []models.TestDataset
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("name").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "get datasets failed")
	}
	return out, nil
}

func (r *datasetRepository) DeleteByName(ctx context.Context, name string) (*models.TestDataset, error) {
	var found models.TestDataset
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", name).First(&found).Error; err != nil {
			return err
		}
		return tx.Delete(&found).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErr.New(appErr.CodeNotFound, "dataset not found").WithMeta("name", name)
	}
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "delete dataset failed")
	}
	return &found, nil
}

// Replace swaps whatever row is named ds.Name for ds in one transaction.
// ds gets a fresh id, so results cached for the old content stay with the
// old id.
func (r *datasetRepository) Replace(ctx context.Context, ds *models.TestDataset) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", ds.Name).Delete(&models.TestDataset{}).Error; err != nil {
			return err
		}
		return tx.Create(ds).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return appErr.Wrap(err, appErr.CodeAlreadyExists, "dataset already exists")
	}
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "replace dataset failed")
	}
	return nil
}
