package medcat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/performance"
	"github.com/medcatmlflow/engine/pkg/cache"
	"github.com/medcatmlflow/engine/pkg/logger"
)

// ModelInfo is what loading a model pack yields.
type ModelInfo struct {
	Version               string             `json:"version"`
	History               []string           `json:"history"`
	Performance           map[string]any     `json:"performance"`
	CDBHash               string             `json:"cdb_hash"`
	Stats                 map[string]any     `json:"stats"`
	CUI2AverageConfidence map[string]float64 `json:"cui2average_confidence"`
	CUI2CountTrain        map[string]int64   `json:"cui2count_train"`
}

// loadTTL keeps a loaded model's info around for back-to-back calls.
const loadTTL = time.Minute

// Client loads, evaluates and upgrades model packs.
type Client struct {
	runner Runner
	cache  cache.Expiring
	log    *zap.Logger
}

func NewClient(runner Runner, c cache.Expiring, log *zap.Logger) *Client {
	if c == nil {
		c = cache.NewMemory()
	}
	return &Client{runner: runner, cache: c, log: logger.OrNop(log)}
}

// Load reads version info from the pack at path. A pack with an outdated
// config is upgraded in place and loaded once more; a second failure is
// returned as is.
func (c *Client) Load(ctx context.Context, path string) (ModelInfo, error) {
	key := "medcat:load:" + path
	if b, err := c.cache.Get(ctx, key); err == nil {
		var info ModelInfo
		if json.Unmarshal(b, &info) == nil {
			return info, nil
		}
	}

	out, err := c.withUpgrade(ctx, path, func() ([]byte, error) {
		return c.runner.Run(ctx, "load", path)
	})
	if err != nil {
		return ModelInfo{}, err
	}
	var info ModelInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return ModelInfo{}, fmt.Errorf("decode model info for %s: %w", path, err)
	}
	if err := c.cache.Set(ctx, key, out, loadTTL); err != nil {
		c.log.Warn("caching model info failed", zap.String("path", path), zap.Error(err))
	}
	return info, nil
}

// Evaluate runs the model at modelPath over the annotated dataset file.
func (c *Client) Evaluate(ctx context.Context, modelPath, datasetPath string) (performance.Result, error) {
	out, err := c.withUpgrade(ctx, modelPath, func() ([]byte, error) {
		return c.runner.Run(ctx, "evaluate", modelPath, datasetPath)
	})
	if err != nil {
		return performance.Result{}, err
	}
	var res performance.Result
	if err := json.Unmarshal(out, &res); err != nil {
		return performance.Result{}, fmt.Errorf("decode evaluation of %s on %s: %w", modelPath, datasetPath, err)
	}
	return res, nil
}

// CDBHash returns the hash of a standalone concept database file.
func (c *Client) CDBHash(ctx context.Context, cdbPath string) (string, error) {
	out, err := c.runner.Run(ctx, "cdb-hash", cdbPath)
	if err != nil {
		return "", err
	}
	var body struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(out, &body); err != nil {
		return "", fmt.Errorf("decode cdb hash: %w", err)
	}
	if body.Hash == "" {
		return "", fmt.Errorf("empty cdb hash for %s", cdbPath)
	}
	return body.Hash, nil
}

func (c *Client) withUpgrade(ctx context.Context, path string, run func() ([]byte, error)) ([]byte, error) {
	out, err := run()
	if !errors.Is(err, ErrOutdatedSchema) {
		return out, err
	}
	c.log.Warn("validation issue when loading model, upgrading config",
		zap.String("path", path), zap.Error(err))
	if err := c.Upgrade(ctx, path); err != nil {
		return nil, fmt.Errorf("upgrade %s: %w", path, err)
	}
	return run()
}

// Upgrade rewrites the pack at path (zip and unpacked folder) with an
// upgraded config. The helper cannot write over the pack it reads, so the
// result goes to a sibling first and is moved into place.
func (c *Client) Upgrade(ctx context.Context, path string) error {
	zipPath, folderPath := packPaths(path)
	fixed := folderPath + "_cbdfix"

	c.log.Info("upgrading model pack", zap.String("path", path), zap.String("target", fixed))
	if _, err := c.runner.Run(ctx, "upgrade", path, fixed); err != nil {
		return err
	}

	if err := os.RemoveAll(folderPath); err != nil {
		return fmt.Errorf("remove old folder: %w", err)
	}
	if err := os.Remove(zipPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old zip: %w", err)
	}
	if err := os.Rename(fixed, folderPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("move upgraded folder: %w", err)
	}
	if err := os.Rename(fixed+".zip", zipPath); err != nil {
		return fmt.Errorf("move upgraded zip: %w", err)
	}
	_ = c.cache.Invalidate(ctx, "medcat:load:"+path)
	return nil
}

func packPaths(path string) (zipPath, folderPath string) {
	if strings.HasSuffix(path, ".zip") {
		return path, strings.TrimSuffix(path, ".zip")
	}
	return path + ".zip", path
}
