package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/models"
	"github.com/medcatmlflow/engine/internal/repository"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
	"github.com/medcatmlflow/engine/pkg/logger"
	"github.com/medcatmlflow/engine/pkg/utils"
)

// DatasetDir is the directory under the storage path holding test datasets.
const DatasetDir = "test_datasets"

type DatasetService interface {
	Register(ctx context.Context, input *RegisterDatasetInput, content io.Reader) (*models.TestDataset, error)
	List(ctx context.Context) ([]models.TestDataset, error)
	Delete(ctx context.Context, name string) (*models.TestDataset, error)
}

type RegisterDatasetInput struct {
	CategoryName string `validate:"required,max=100"`
	Name         string `validate:"required,max=100"`
	Description  string `validate:"max=250"`
	// Overwrite replaces an existing dataset of the same name.
	Overwrite bool
}

type datasetService struct {
	repo     repository.DatasetRepository
	dir      string
	validate *validator.Validate
}

func NewDatasetService(repo repository.DatasetRepository, storagePath string) DatasetService {
	return &datasetService{
		repo:     repo,
		dir:      filepath.Join(storagePath, DatasetDir),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

var _ DatasetService = (*datasetService)(nil)

func (s *datasetService) Register(ctx context.Context, input *RegisterDatasetInput, content io.Reader) (*models.TestDataset, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid dataset")
	}
	if input.Name != filepath.Base(input.Name) || strings.HasPrefix(input.Name, ".") {
		return nil, appErr.New(appErr.CodeInvalid, "dataset name must be a plain file name").WithMeta("name", input.Name)
	}
	logger.L().Info("register dataset", zap.String("name", input.Name), zap.String("category", input.CategoryName))

	path := filepath.Join(s.dir, input.Name)
	if _, err := os.Stat(path); err == nil && !input.Overwrite {
		return nil, appErr.New(appErr.CodeAlreadyExists, "dataset file already exists").WithMeta("name", input.Name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "create dataset directory failed")
	}
	// The upload only replaces the live file once its row is committed, so
	// a failed registration leaves the old file and row as they were.
	tmp, size, err := stage(s.dir, input.Name, content)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "save dataset failed")
	}
	defer os.Remove(tmp)
	sum, err := utils.FileSHA256(tmp)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "hash dataset failed")
	}

	ds := &models.TestDataset{
		CategoryName: input.CategoryName,
		Name:         input.Name,
		Description:  input.Description,
		FilePath:     path,
		SHA256:       sum,
		SizeBytes:    size,
	}
	if input.Overwrite {
		err = s.repo.Replace(ctx, ds)
	} else {
		err = s.repo.Create(ctx, ds)
	}
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		logger.L().Error("dataset row stored but file not moved into place",
			zap.String("name", input.Name), zap.String("path", path), zap.Error(err))
		return nil, appErr.Wrap(err, appErr.CodeInternal, "save dataset failed")
	}
	logger.L().Info("dataset registered", zap.String("id", ds.ID.String()), zap.String("sha256", sum))
	return ds, nil
}

func (s *datasetService) List(ctx context.Context) ([]models.TestDataset, error) {
	return s.repo.List(ctx, "category_name, name")
}

// Delete removes the dataset row and its file. A missing file is logged,
// not reported.
func (s *datasetService) Delete(ctx context.Context, name string) (*models.TestDataset, error) {
	ds, err := s.repo.DeleteByName(ctx, name)
	if err != nil {
		logger.L().Warn("unable to delete test dataset", zap.String("name", name), zap.Error(err))
		return nil, err
	}
	logger.L().Info("removed test dataset", zap.String("name", name))
	if err := os.Remove(ds.FilePath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return ds, appErr.Wrap(err, appErr.CodeInternal, "remove dataset file failed")
		}
		logger.L().Warn("unable to remove dataset file, no such file", zap.String("path", ds.FilePath))
	}
	return ds, nil
}

// stage copies r into a hidden temp file next to the dataset called name
// and returns its path and size.
func stage(dir, name string, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write %s: %w", filepath.Join(dir, name), err)
	}
	return tmp.Name(), n, nil
}
