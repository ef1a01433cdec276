// Package registry reads and tags registered models directly in the MLflow
// backend store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	appErr "github.com/medcatmlflow/engine/pkg/errors"
)

// MaxTagValueLength is the width of registered_model_tags.value.
const MaxTagValueLength = 5000

// ErrTagTooLong is returned by SetTag for values the backend cannot hold.
var ErrTagTooLong = errors.New("tag value exceeds backend limit")

// runIDPattern matches sources like runs:/5a5dad16.../app/models/x.zip
var runIDPattern = regexp.MustCompile(`^runs:/(.*?)/.*`)

// Model is a registered model with its tag bag.
type Model struct {
	Name        string
	Description string
	Tags        map[string]string
}

// Registry is the subset of the model registry the engine needs.
type Registry interface {
	ListModels(ctx context.Context) ([]Model, error)
	GetModel(ctx context.Context, name string) (Model, error)
	RunID(ctx context.Context, name string) (string, error)
	SetTag(ctx context.Context, name, key, value string) error
}

type gormRegistry struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Registry = (*gormRegistry)(nil)

func New(db *gorm.DB) Registry {
	return &gormRegistry{db: db, now: time.Now}
}

func (r *gormRegistry) ListModels(ctx context.Context) ([]Model, error) {
	var rows []RegisteredModel
	if err := r.db.WithContext(ctx).Preload("Tags").Order("name").Find(&rows).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "list registered models")
	}
	out := make([]Model, 0, len(rows))
	for _, row := range rows {
		out = append(out, toModel(row))
	}
	return out, nil
}

func (r *gormRegistry) GetModel(ctx context.Context, name string) (Model, error) {
	var row RegisteredModel
	err := r.db.WithContext(ctx).Preload("Tags").Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Model{}, appErr.NoSuchModel("name", name)
	}
	if err != nil {
		return Model{}, appErr.Wrap(err, appErr.CodeUnavailable, "get registered model")
	}
	return toModel(row), nil
}

// RunID resolves the tracking run of the model's latest version from its
// source URI, falling back to the run_id column.
func (r *gormRegistry) RunID(ctx context.Context, name string) (string, error) {
	var mv ModelVersion
	err := r.db.WithContext(ctx).Where("name = ?", name).Order("version DESC").First(&mv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", appErr.New(appErr.CodeNotFound, fmt.Sprintf("model %q has no versions", name)).
			WithMeta("name", name)
	}
	if err != nil {
		return "", appErr.Wrap(err, appErr.CodeUnavailable, "get model version")
	}
	if id, ok := ParseRunID(mv.Source); ok {
		return id, nil
	}
	if mv.RunID != "" {
		return mv.RunID, nil
	}
	return "", appErr.New(appErr.CodeInvalid, fmt.Sprintf("cannot resolve run id from source %q", mv.Source))
}

// ParseRunID extracts the run id from a runs:/<id>/<path> source.
func ParseRunID(source string) (string, bool) {
	m := runIDPattern.FindStringSubmatch(source)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

func (r *gormRegistry) SetTag(ctx context.Context, name, key, value string) error {
	if len(value) > MaxTagValueLength {
		return fmt.Errorf("%w: %s is %d bytes", ErrTagTooLong, key, len(value))
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RegisteredModel{}).Where("name = ?", name).
			Update("last_updated_time", r.now().UnixMilli())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErr.NoSuchModel("name", name)
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&RegisteredModelTag{Key: key, Value: value, Name: name}).Error
	})
}

func toModel(row RegisteredModel) Model {
	tags := make(map[string]string, len(row.Tags))
	for _, t := range row.Tags {
		tags[t.Key] = t.Value
	}
	return Model{Name: row.Name, Description: row.Description, Tags: tags}
}
