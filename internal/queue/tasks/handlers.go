// Package tasks holds the asynq handlers run by the worker.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/services"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
	"github.com/medcatmlflow/engine/pkg/logger"
)

// Handler runs performance and metadata tasks.
type Handler struct {
	perfSvc  services.PerformanceService
	modelSvc services.ModelService
}

func NewHandler(perfSvc services.PerformanceService, modelSvc services.ModelService) *Handler {
	return &Handler{perfSvc: perfSvc, modelSvc: modelSvc}
}

// Register mounts every task type on mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(services.TaskPerformanceCalculate, h.HandlePerformance)
	mux.HandleFunc(services.TaskMetadataRecalculate, h.HandleRecalculate)
}

func (h *Handler) HandlePerformance(ctx context.Context, t *asynq.Task) error {
	var p services.PerformancePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid performance task payload", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := logger.L().With(zap.String("model_id", p.ModelID), zap.String("dataset_id", p.DatasetID))
	log.Info("handling performance task", zap.Bool("force_recalc", p.Force))

	res, err := h.perfSvc.Calculate(ctx, p)
	if err != nil {
		log.Error("performance task failed", zap.Error(err))
		return retryable(err)
	}
	log.Info("performance task completed",
		zap.Int("tp", res.TruePositives), zap.Int("fp", res.FalsePositives), zap.Int("fn", res.FalseNegatives))
	return nil
}

func (h *Handler) HandleRecalculate(ctx context.Context, t *asynq.Task) error {
	var p services.RecalculatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.Name == "" {
		logger.L().Error("invalid recalculation task payload", zap.Error(err))
		return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
	}
	logger.L().Info("handling recalculation task", zap.String("model", p.Name))

	meta, err := h.modelSvc.RecalculateByName(ctx, p.Name)
	if err != nil {
		logger.L().Error("recalculation task failed", zap.String("model", p.Name), zap.Error(err))
		return retryable(err)
	}
	logger.L().Info("recalculation task completed",
		zap.String("model", p.Name), zap.String("version", meta.Version), zap.Strings("changed_parts", meta.ChangedParts))
	return nil
}

// retryable stops asynq from retrying errors that cannot succeed later.
func retryable(err error) error {
	if appErr.IsCode(err, appErr.CodeNotFound) || appErr.IsCode(err, appErr.CodeInvalid) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
