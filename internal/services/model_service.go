package services

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/lineage"
	"github.com/medcatmlflow/engine/internal/metadata"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
	"github.com/medcatmlflow/engine/pkg/logger"
)

// MetadataStore is the part of metadata.Store the services use.
type MetadataStore interface {
	All(ctx context.Context) ([]metadata.ModelMetaData, error)
	ByID(ctx context.Context, id string) (metadata.ModelMetaData, error)
	ByName(ctx context.Context, name string) (metadata.ModelMetaData, error)
	Recalculate(ctx context.Context, name string) (metadata.ModelMetaData, error)
	Register(ctx context.Context, name, category string) (metadata.ModelMetaData, error)
}

var _ MetadataStore = (*metadata.Store)(nil)

// ModelLinkPrefix is the API path serving one model; tree rows link to it.
const ModelLinkPrefix = "/api/v1/models/"

// ModelService exposes registered models and the lineage between them.
type ModelService interface {
	ListModels(ctx context.Context) ([]metadata.ModelMetaData, error)
	GetModel(ctx context.Context, id string) (metadata.ModelMetaData, error)
	History(ctx context.Context, id string) ([]metadata.HistoryEntry, error)
	Trees(ctx context.Context) ([]lineage.Tree, error)
	Recalculate(ctx context.Context, id string) (metadata.ModelMetaData, error)
	RecalculateByName(ctx context.Context, name string) (metadata.ModelMetaData, error)
	EnqueueRecalculate(ctx context.Context, id string) (string, error)
	Register(ctx context.Context, name, category string) (metadata.ModelMetaData, error)
	CUICounts(ctx context.Context, ids, cuis []string) (map[string]map[string]int64, error)
	ModelPath(meta metadata.ModelMetaData) string
}

type modelService struct {
	store       MetadataStore
	policy      lineage.ParentPolicy
	storagePath string
	queue       Enqueuer
}

func NewModelService(store MetadataStore, policy lineage.ParentPolicy, storagePath string, queue Enqueuer) ModelService {
	return &modelService{store: store, policy: policy, storagePath: storagePath, queue: queue}
}

var _ ModelService = (*modelService)(nil)

func (s *modelService) ListModels(ctx context.Context) ([]metadata.ModelMetaData, error) {
	return s.store.All(ctx)
}

func (s *modelService) GetModel(ctx context.Context, id string) (metadata.ModelMetaData, error) {
	return s.store.ByID(ctx, id)
}

// History lists the ancestors of a model, oldest first, with the file of the
// registered model that carries each version where one exists.
func (s *modelService) History(ctx context.Context, id string) ([]metadata.HistoryEntry, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	var target *metadata.ModelMetaData
	byVersion := make(map[string]metadata.ModelMetaData, len(all))
	for i, m := range all {
		if m.ID == id {
			target = &all[i]
		}
		if _, seen := byVersion[m.Version]; !seen {
			byVersion[m.Version] = m
		}
	}
	if target == nil {
		return nil, appErr.NoSuchModel(metadata.TagID, id)
	}

	ancestors := target.Ancestors()
	out := make([]metadata.HistoryEntry, 0, len(ancestors))
	for _, v := range ancestors {
		out = append(out, metadata.HistoryEntry{Version: v, ModelFileName: byVersion[v].ModelFileName})
	}
	return out, nil
}

// Trees renders the lineage of every registered model, sorted by category.
func (s *modelService) Trees(ctx context.Context) ([]lineage.Tree, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}

	data := make(map[string]lineage.Ancestry, len(all))
	byVersion := make(map[string]metadata.ModelMetaData, len(all))
	for _, m := range all {
		if prev, dup := byVersion[m.Version]; dup {
			logger.L().Warn("two models share a version, keeping the first",
				zap.String("version", m.Version), zap.String("kept", prev.Name), zap.String("skipped", m.Name))
			continue
		}
		byVersion[m.Version] = m
		data[m.Version] = lineage.Ancestry{History: m.Ancestors(), Category: m.Category}
	}

	forest := lineage.Build(lineage.FromMap(data),
		lineage.WithPolicy(s.policy),
		lineage.WithLogger(logger.L()),
	)
	trees := lineage.Render(forest,
		func(version string) (string, bool) {
			m, ok := byVersion[version]
			if !ok {
				return "", false
			}
			return ModelLinkPrefix + m.ID, true
		},
		func(version string) string {
			if m, ok := byVersion[version]; ok && m.Description != "" {
				return m.Description
			}
			return version
		},
	)
	lineage.SortByCategory(trees)
	return trees, nil
}

func (s *modelService) Recalculate(ctx context.Context, id string) (metadata.ModelMetaData, error) {
	meta, err := s.store.ByID(ctx, id)
	if err != nil {
		return metadata.ModelMetaData{}, err
	}
	return s.RecalculateByName(ctx, meta.Name)
}

func (s *modelService) RecalculateByName(ctx context.Context, name string) (metadata.ModelMetaData, error) {
	logger.L().Info("recalculating model metadata", zap.String("model", name))
	return s.store.Recalculate(ctx, name)
}

// EnqueueRecalculate schedules a recalculation on the worker and returns
// the task id.
func (s *modelService) EnqueueRecalculate(ctx context.Context, id string) (string, error) {
	if s.queue == nil {
		return "", appErr.New(appErr.CodeUnavailable, "task queue not configured")
	}
	meta, err := s.store.ByID(ctx, id)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(RecalculatePayload{Name: meta.Name})
	if err != nil {
		return "", appErr.Wrap(err, appErr.CodeInternal, "encode task failed")
	}
	info, err := s.queue.EnqueueContext(ctx, asynq.NewTask(TaskMetadataRecalculate, b), asynq.MaxRetry(1))
	if err != nil {
		logger.L().Error("enqueue recalculation failed", zap.Error(err), zap.String("model", meta.Name))
		return "", appErr.Wrap(err, appErr.CodeInternal, "enqueue recalculation failed")
	}
	logger.L().Info("recalculation enqueued", zap.String("model", meta.Name), zap.String("task_id", info.ID))
	return info.ID, nil
}

func (s *modelService) Register(ctx context.Context, name, category string) (metadata.ModelMetaData, error) {
	if name == "" || category == "" {
		return metadata.ModelMetaData{}, appErr.New(appErr.CodeInvalid, "name and category are required")
	}
	logger.L().Info("registering model metadata", zap.String("model", name), zap.String("category", category))
	return s.store.Register(ctx, name, category)
}

// CUICounts returns, per model name, how often each of cuis was seen in
// training. Concepts the model never saw count zero.
func (s *modelService) CUICounts(ctx context.Context, ids, cuis []string) (map[string]map[string]int64, error) {
	if len(ids) == 0 || len(cuis) == 0 {
		return nil, appErr.New(appErr.CodeInvalid, "at least one model and one concept are required")
	}
	out := make(map[string]map[string]int64, len(ids))
	for _, id := range ids {
		meta, err := s.store.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int64, len(cuis))
		for _, cui := range cuis {
			counts[cui] = meta.CUI2CountTrain[cui]
		}
		out[meta.Name] = counts
	}
	return out, nil
}

// ModelPath is where the pack of meta is stored.
func (s *modelService) ModelPath(meta metadata.ModelMetaData) string {
	return filepath.Join(s.storagePath, meta.ModelFileName)
}
