package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/medcatmlflow/engine/internal/repository"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
	"github.com/medcatmlflow/engine/pkg/logger"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medcatmlflow_performance_cache_hits_total",
		Help: "Performance lookups answered from the cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medcatmlflow_performance_cache_misses_total",
		Help: "Performance lookups with no cached result",
	})
	computations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medcatmlflow_performance_cache_computations_total",
		Help: "Model evaluations run to fill the cache",
	})
)

// EvaluationTimeout bounds one model evaluation.
const EvaluationTimeout = time.Hour

// Evaluator runs a model over a dataset file.
type Evaluator interface {
	Evaluate(ctx context.Context, modelPath, datasetPath string) (Result, error)
}

// Request identifies one cache entry and the files needed to compute it.
type Request struct {
	ModelID     string
	DatasetID   string
	ModelPath   string
	DatasetPath string
}

func (r Request) key() string { return r.ModelID + "\x00" + r.DatasetID }

// Cache returns stored evaluations and computes missing ones. Concurrent
// misses for the same (model, dataset) share a single evaluation.
type Cache struct {
	repo  repository.PerformanceRepository
	eval  Evaluator
	group singleflight.Group
	log   *zap.Logger
}

func NewCache(repo repository.PerformanceRepository, eval Evaluator, log *zap.Logger) *Cache {
	return &Cache{repo: repo, eval: eval, log: logger.OrNop(log)}
}

// GetOrCompute returns the stored result for req unless force is set or
// none is stored, in which case the model is evaluated and the result
// replaces whatever was stored. A store that cannot be read or written is
// logged and bypassed; only evaluation errors are returned.
func (c *Cache) GetOrCompute(ctx context.Context, req Request, force bool) (Result, error) {
	log := c.log.With(zap.String("model_id", req.ModelID), zap.String("dataset_id", req.DatasetID))

	if !force {
		row, err := c.repo.Find(ctx, req.ModelID, req.DatasetID)
		switch {
		case err == nil:
			cacheHits.Inc()
			log.Info("found performance results in cache")
			return FromModel(row), nil
		case appErr.IsCode(err, appErr.CodeNotFound):
			log.Info("did not find performance results in cache")
		default:
			log.Warn("performance cache unreadable, computing", zap.Error(err))
		}
		cacheMisses.Inc()
	}

	v, err, shared := c.group.Do(req.key(), func() (any, error) {
		// Joined callers share this evaluation, so it outlives whichever
		// caller started it.
		evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), EvaluationTimeout)
		defer cancel()
		computations.Inc()
		res, err := c.eval.Evaluate(evalCtx, req.ModelPath, req.DatasetPath)
		if err != nil {
			return nil, err
		}
		row, err := ToModel(req.ModelID, req.DatasetID, res)
		if err == nil {
			err = c.repo.Upsert(evalCtx, row)
		}
		if err != nil {
			log.Error("storing performance results failed", zap.Error(err))
		} else {
			log.Info("added performance results to cache")
		}
		return res, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("evaluate model %s on dataset %s: %w", req.ModelID, req.DatasetID, err)
	}
	if shared {
		log.Debug("joined in-flight evaluation")
	}
	res, ok := v.(Result)
	if !ok {
		return Result{}, fmt.Errorf("unexpected type from evaluation group: %T", v)
	}
	return res, nil
}
