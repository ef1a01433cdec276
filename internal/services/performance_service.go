package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/models"
	"github.com/medcatmlflow/engine/internal/performance"
	"github.com/medcatmlflow/engine/internal/repository"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
	"github.com/medcatmlflow/engine/pkg/logger"
)

// PerformanceCache is satisfied by *performance.Cache.
type PerformanceCache interface {
	GetOrCompute(ctx context.Context, req performance.Request, force bool) (performance.Result, error)
}

var _ PerformanceCache = (*performance.Cache)(nil)

// PerformanceReport maps model name, then dataset name, to a result.
type PerformanceReport map[string]map[string]performance.Result

type PerformanceInput struct {
	ModelIDs   []string `json:"model_ids" validate:"required,min=1,dive,required"`
	DatasetIDs []string `json:"dataset_ids" validate:"required,min=1,dive,uuid"`
	Force      bool     `json:"force_recalc"`
}

type PerformanceService interface {
	FindOrLoad(ctx context.Context, input *PerformanceInput) (PerformanceReport, error)
	// Calculate computes one pair; it is what the worker runs.
	Calculate(ctx context.Context, p PerformancePayload) (performance.Result, error)
	// Enqueue schedules every pair and returns the task ids.
	Enqueue(ctx context.Context, input *PerformanceInput) ([]string, error)
}

type performanceService struct {
	models   ModelService
	datasets repository.DatasetRepository
	cache    PerformanceCache
	queue    Enqueuer
}

func NewPerformanceService(models ModelService, datasets repository.DatasetRepository, cache PerformanceCache, queue Enqueuer) PerformanceService {
	return &performanceService{models: models, datasets: datasets, cache: cache, queue: queue}
}

var _ PerformanceService = (*performanceService)(nil)

func (s *performanceService) FindOrLoad(ctx context.Context, input *PerformanceInput) (PerformanceReport, error) {
	datasets, err := s.resolveDatasets(ctx, input.DatasetIDs)
	if err != nil {
		return nil, err
	}
	logger.L().Info("getting performance",
		zap.Int("models", len(input.ModelIDs)), zap.Int("datasets", len(datasets)), zap.Bool("force_recalc", input.Force))

	report := make(PerformanceReport, len(input.ModelIDs))
	for _, id := range input.ModelIDs {
		meta, err := s.models.GetModel(ctx, id)
		if err != nil {
			return nil, err
		}
		results := make(map[string]performance.Result, len(datasets))
		for _, ds := range datasets {
			res, err := s.cache.GetOrCompute(ctx, performance.Request{
				ModelID:     meta.ID,
				DatasetID:   ds.ID.String(),
				ModelPath:   s.models.ModelPath(meta),
				DatasetPath: ds.FilePath,
			}, input.Force)
			if err != nil {
				return nil, err
			}
			results[ds.Name] = res
		}
		report[meta.Name] = results
	}
	return report, nil
}

func (s *performanceService) Calculate(ctx context.Context, p PerformancePayload) (performance.Result, error) {
	meta, err := s.models.GetModel(ctx, p.ModelID)
	if err != nil {
		return performance.Result{}, err
	}
	var ds models.TestDataset
	if err := s.datasets.GetByID(ctx, p.DatasetID, &ds); err != nil {
		return performance.Result{}, err
	}
	return s.cache.GetOrCompute(ctx, performance.Request{
		ModelID:     meta.ID,
		DatasetID:   ds.ID.String(),
		ModelPath:   s.models.ModelPath(meta),
		DatasetPath: ds.FilePath,
	}, p.Force)
}

func (s *performanceService) Enqueue(ctx context.Context, input *PerformanceInput) ([]string, error) {
	if s.queue == nil {
		return nil, appErr.New(appErr.CodeUnavailable, "task queue not configured")
	}
	if _, err := s.resolveDatasets(ctx, input.DatasetIDs); err != nil {
		return nil, err
	}
	var ids []string
	for _, modelID := range input.ModelIDs {
		for _, dsID := range input.DatasetIDs {
			b, err := json.Marshal(PerformancePayload{ModelID: modelID, DatasetID: dsID, Force: input.Force})
			if err != nil {
				return nil, appErr.Wrap(err, appErr.CodeInternal, "encode task failed")
			}
			info, err := s.queue.EnqueueContext(ctx, asynq.NewTask(TaskPerformanceCalculate, b),
				asynq.MaxRetry(2), asynq.Timeout(performance.EvaluationTimeout))
			if err != nil {
				logger.L().Error("enqueue performance task failed", zap.Error(err),
					zap.String("model_id", modelID), zap.String("dataset_id", dsID))
				return nil, appErr.Wrap(err, appErr.CodeInternal, "enqueue performance task failed")
			}
			ids = append(ids, info.ID)
		}
	}
	logger.L().Info("performance tasks enqueued", zap.Int("tasks", len(ids)))
	return ids, nil
}

func (s *performanceService) resolveDatasets(ctx context.Context, ids []string) ([]models.TestDataset, error) {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, appErr.New(appErr.CodeInvalid, "invalid dataset id").WithMeta("id", id)
		}
	}
	found, err := s.datasets.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(found) != len(dedupe(ids)) {
		return nil, appErr.New(appErr.CodeNotFound, "dataset not found").WithMeta("ids", ids)
	}
	return found, nil
}

func dedupe(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
