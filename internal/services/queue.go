package services

import (
	"context"

	"github.com/hibiken/asynq"
)

// Task types handled by the worker.
const (
	TaskPerformanceCalculate = "performance:calculate"
	TaskMetadataRecalculate  = "metadata:recalculate"
)

// PerformancePayload asks for one model on one dataset.
type PerformancePayload struct {
	ModelID   string `json:"model_id"`
	DatasetID string `json:"dataset_id"`
	Force     bool   `json:"force_recalc"`
}

// RecalculatePayload names the registered model to recalculate.
type RecalculatePayload struct {
	Name string `json:"name"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ Enqueuer = (*asynq.Client)(nil)
