package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/medcatmlflow/engine/pkg/database"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&RegisteredModel{}, &RegisteredModelTag{}, &ModelVersion{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedModel(t *testing.T, db *gorm.DB, name, source string, tags map[string]string) {
	t.Helper()
	row := RegisteredModel{Name: name, Description: "descr of " + name}
	for k, v := range tags {
		row.Tags = append(row.Tags, RegisteredModelTag{Key: k, Value: v, Name: name})
	}
	require.NoError(t, db.Create(&row).Error)
	if source != "" {
		require.NoError(t, db.Create(&ModelVersion{Name: name, Version: 1, Source: source}).Error)
	}
}

func TestParseRunID(t *testing.T) {
	id, ok := ParseRunID("runs:/5a5dad1636bf4d87bba373e10dcd99e8//app/models/smth.zip")
	require.True(t, ok)
	require.Equal(t, "5a5dad1636bf4d87bba373e10dcd99e8", id)

	_, ok = ParseRunID("s3://bucket/models/smth.zip")
	require.False(t, ok)
}

func TestGetModelWithTags(t *testing.T) {
	db := newTestDB(t)
	seedModel(t, db, "m1.zip", "runs:/run1/app/models/m1.zip", map[string]string{"version": "abc", "category": "T1"})
	reg := New(db)
	ctx := context.Background()

	m, err := reg.GetModel(ctx, "m1.zip")
	require.NoError(t, err)
	require.Equal(t, "descr of m1.zip", m.Description)
	require.Equal(t, map[string]string{"version": "abc", "category": "T1"}, m.Tags)

	runID, err := reg.RunID(ctx, "m1.zip")
	require.NoError(t, err)
	require.Equal(t, "run1", runID)
}

func TestGetModelMissing(t *testing.T) {
	reg := New(newTestDB(t))

	_, err := reg.GetModel(context.Background(), "nope")
	require.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestRunIDUsesLatestVersion(t *testing.T) {
	db := newTestDB(t)
	seedModel(t, db, "m", "runs:/old/x.zip", nil)
	require.NoError(t, db.Create(&ModelVersion{Name: "m", Version: 2, Source: "/local/x.zip", RunID: "fallback"}).Error)

	runID, err := New(db).RunID(context.Background(), "m")
	require.NoError(t, err)
	require.Equal(t, "fallback", runID)
}

func TestSetTagUpserts(t *testing.T) {
	db := newTestDB(t)
	seedModel(t, db, "m", "", map[string]string{"stats": "{}"})
	reg := &gormRegistry{db: db, now: func() time.Time { return time.UnixMilli(42) }}
	ctx := context.Background()

	require.NoError(t, reg.SetTag(ctx, "m", "stats", `{"a":1}`))
	require.NoError(t, reg.SetTag(ctx, "m", "version", "v1"))

	m, err := reg.GetModel(ctx, "m")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, m.Tags["stats"])
	require.Equal(t, "v1", m.Tags["version"])

	var row RegisteredModel
	require.NoError(t, db.First(&row, "name = ?", "m").Error)
	require.Equal(t, int64(42), row.LastUpdatedTime)
}

func TestSetTagRejectsOversizedValue(t *testing.T) {
	db := newTestDB(t)
	seedModel(t, db, "m", "", nil)

	big := make([]byte, MaxTagValueLength+1)
	for i := range big {
		big[i] = 'x'
	}
	err := New(db).SetTag(context.Background(), "m", "stats", string(big))
	require.ErrorIs(t, err, ErrTagTooLong)
}

func TestSetTagUnknownModel(t *testing.T) {
	err := New(newTestDB(t)).SetTag(context.Background(), "ghost", "k", "v")
	require.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestListModelsSortedByName(t *testing.T) {
	db := newTestDB(t)
	seedModel(t, db, "b", "", nil)
	seedModel(t, db, "a", "", map[string]string{"k": "v"})

	models, err := New(db).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "a", models[0].Name)
	require.Equal(t, "v", models[0].Tags["k"])
	require.Empty(t, models[1].Tags)
}
