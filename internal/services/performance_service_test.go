package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medcatmlflow/engine/internal/lineage"
	"github.com/medcatmlflow/engine/internal/metadata"
	"github.com/medcatmlflow/engine/internal/models"
	"github.com/medcatmlflow/engine/internal/performance"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
)

func newPerformanceFixture(t *testing.T) (*mockStore, *mockDatasetRepository, *mockPerformanceCache, models.TestDataset) {
	t.Helper()
	ds := models.TestDataset{ID: uuid.New(), Name: "gold.json", FilePath: "/data/test_datasets/gold.json"}
	store := new(mockStore)
	store.On("ByID", mock.Anything, "1").Return(registered[0], nil)
	store.On("ByID", mock.Anything, "404").Return(metadata.ModelMetaData{}, appErr.NoSuchModel("id", "404"))
	repo := new(mockDatasetRepository)
	repo.On("GetByIDs", mock.Anything, []string{ds.ID.String()}).Return([]models.TestDataset{ds}, nil)
	return store, repo, new(mockPerformanceCache), ds
}

func TestFindOrLoadPerformance(t *testing.T) {
	store, repo, cache, ds := newPerformanceFixture(t)
	want := performance.Result{TruePositives: 5}
	cache.On("GetOrCompute", mock.Anything, performance.Request{
		ModelID:     "1",
		DatasetID:   ds.ID.String(),
		ModelPath:   "/models/base.zip",
		DatasetPath: ds.FilePath,
	}, true).Return(want, nil).Once()

	svc := NewPerformanceService(NewModelService(store, lineage.KeepExisting, "/models", nil), repo, cache, nil)
	report, err := svc.FindOrLoad(context.Background(), &PerformanceInput{
		ModelIDs: []string{"1"}, DatasetIDs: []string{ds.ID.String()}, Force: true,
	})
	require.NoError(t, err)
	require.Equal(t, PerformanceReport{"base.zip": {"gold.json": want}}, report)
	cache.AssertExpectations(t)
}

func TestFindOrLoadPerformanceErrors(t *testing.T) {
	store, repo, cache, ds := newPerformanceFixture(t)
	repo.On("GetByIDs", mock.Anything, []string{uuid.Nil.String()}).Return([]models.TestDataset{}, nil)
	svc := NewPerformanceService(NewModelService(store, lineage.KeepExisting, "/models", nil), repo, cache, nil)
	ctx := context.Background()

	_, err := svc.FindOrLoad(ctx, &PerformanceInput{ModelIDs: []string{"1"}, DatasetIDs: []string{"not-a-uuid"}})
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	_, err = svc.FindOrLoad(ctx, &PerformanceInput{ModelIDs: []string{"1"}, DatasetIDs: []string{uuid.Nil.String()}})
	require.True(t, appErr.IsCode(err, appErr.CodeNotFound))

	_, err = svc.FindOrLoad(ctx, &PerformanceInput{ModelIDs: []string{"404"}, DatasetIDs: []string{ds.ID.String()}})
	require.True(t, appErr.IsCode(err, appErr.CodeNotFound))

	cache.On("GetOrCompute", mock.Anything, mock.Anything, false).Return(performance.Result{}, errors.New("helper crashed"))
	_, err = svc.FindOrLoad(ctx, &PerformanceInput{ModelIDs: []string{"1"}, DatasetIDs: []string{ds.ID.String()}})
	require.ErrorContains(t, err, "helper crashed")
}

func TestCalculateSinglePair(t *testing.T) {
	store, repo, cache, ds := newPerformanceFixture(t)
	repo.On("GetByID", mock.Anything, ds.ID.String()).Return(ds, nil)
	cache.On("GetOrCompute", mock.Anything, mock.MatchedBy(func(r performance.Request) bool {
		return r.ModelID == "1" && r.DatasetPath == ds.FilePath
	}), false).Return(performance.Result{FalsePositives: 1}, nil)

	svc := NewPerformanceService(NewModelService(store, lineage.KeepExisting, "/models", nil), repo, cache, nil)
	res, err := svc.Calculate(context.Background(), PerformancePayload{ModelID: "1", DatasetID: ds.ID.String()})
	require.NoError(t, err)
	require.Equal(t, 1, res.FalsePositives)
}

func TestEnqueuePerformance(t *testing.T) {
	store, repo, cache, ds := newPerformanceFixture(t)
	q := new(mockEnqueuer)
	q.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == TaskPerformanceCalculate
	})).Return(&asynq.TaskInfo{ID: "t-1"}, nil).Once()

	svc := NewPerformanceService(NewModelService(store, lineage.KeepExisting, "/models", nil), repo, cache, q)
	ids, err := svc.Enqueue(context.Background(), &PerformanceInput{ModelIDs: []string{"1"}, DatasetIDs: []string{ds.ID.String()}})
	require.NoError(t, err)
	require.Equal(t, []string{"t-1"}, ids)
	cache.AssertNotCalled(t, "GetOrCompute", mock.Anything, mock.Anything, mock.Anything)

	noQueue := NewPerformanceService(NewModelService(store, lineage.KeepExisting, "/models", nil), repo, cache, nil)
	_, err = noQueue.Enqueue(context.Background(), &PerformanceInput{ModelIDs: []string{"1"}, DatasetIDs: []string{ds.ID.String()}})
	require.True(t, appErr.IsCode(err, appErr.CodeUnavailable))
}
