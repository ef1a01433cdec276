package services

import (
	"context"
	"os"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"github.com/medcatmlflow/engine/internal/metadata"
	"github.com/medcatmlflow/engine/internal/models"
	"github.com/medcatmlflow/engine/internal/performance"
	"github.com/medcatmlflow/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init("info", "json"); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) All(ctx context.Context) ([]metadata.ModelMetaData, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]metadata.ModelMetaData), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ByID(ctx context.Context, id string) (metadata.ModelMetaData, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(metadata.ModelMetaData), args.Error(1)
}

func (m *mockStore) ByName(ctx context.Context, name string) (metadata.ModelMetaData, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(metadata.ModelMetaData), args.Error(1)
}

func (m *mockStore) Recalculate(ctx context.Context, name string) (metadata.ModelMetaData, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(metadata.ModelMetaData), args.Error(1)
}

func (m *mockStore) Register(ctx context.Context, name, category string) (metadata.ModelMetaData, error) {
	args := m.Called(ctx, name, category)
	return args.Get(0).(metadata.ModelMetaData), args.Error(1)
}

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if v := args.Get(0); v != nil {
		return v.(*asynq.TaskInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDatasetRepository struct {
	mock.Mock
}

func (m *mockDatasetRepository) Create(ctx context.Context, obj *models.TestDataset) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockDatasetRepository) GetByID(ctx context.Context, id any, dest *models.TestDataset) error {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		*dest = v.(models.TestDataset)
	}
	return args.Error(1)
}

func (m *mockDatasetRepository) List(ctx context.Context, order string) ([]models.TestDataset, error) {
	args := m.Called(ctx, order)
	if v := args.Get(0); v != nil {
		return v.([]models.TestDataset), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatasetRepository) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDatasetRepository) GetByName(ctx context.Context, name string, dest *models.TestDataset) error {
	args := m.Called(ctx, name)
	if v := args.Get(0); v != nil {
		*dest = v.(models.TestDataset)
	}
	return args.Error(1)
}

func (m *mockDatasetRepository) GetByIDs(ctx context.Context, ids []string) ([]models.TestDataset, error) {
	args := m.Called(ctx, ids)
	if v := args.Get(0); v != nil {
		return v.([]models.TestDataset), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatasetRepository) DeleteByName(ctx context.Context, name string) (*models.TestDataset, error) {
	args := m.Called(ctx, name)
	if v := args.Get(0); v != nil {
		return v.(*models.TestDataset), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatasetRepository) Replace(ctx context.Context, ds *models.TestDataset) error {
	return m.Called(ctx, ds).Error(0)
}

type mockPerformanceCache struct {
	mock.Mock
}

func (m *mockPerformanceCache) GetOrCompute(ctx context.Context, req performance.Request, force bool) (performance.Result, error) {
	args := m.Called(ctx, req, force)
	return args.Get(0).(performance.Result), args.Error(1)
}
