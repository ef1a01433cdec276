package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medcatmlflow/engine/internal/models"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
	"github.com/medcatmlflow/engine/pkg/utils"
)

func TestRegisterDataset(t *testing.T) {
	dir := t.TempDir()
	repo := new(mockDatasetRepository)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*models.TestDataset")).Return(nil).Once()
	svc := NewDatasetService(repo, dir)

	content := `{"projects": []}`
	ds, err := svc.Register(context.Background(), &RegisterDatasetInput{
		CategoryName: "snomed", Name: "ds.json", Description: "gold",
	}, strings.NewReader(content))
	require.NoError(t, err)

	path := filepath.Join(dir, DatasetDir, "ds.json")
	require.Equal(t, path, ds.FilePath)
	require.Equal(t, utils.SumSHA256([]byte(content)), ds.SHA256)
	require.Equal(t, int64(len(content)), ds.SizeBytes)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, content, string(b))

	_, err = svc.Register(context.Background(), &RegisterDatasetInput{
		CategoryName: "snomed", Name: "ds.json",
	}, strings.NewReader("other"))
	require.True(t, appErr.IsCode(err, appErr.CodeAlreadyExists))
	repo.AssertExpectations(t)
}

func TestRegisterDatasetOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DatasetDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DatasetDir, "ds.json"), []byte("old"), 0o644))

	repo := new(mockDatasetRepository)
	repo.On("Replace", mock.Anything, mock.MatchedBy(func(ds *models.TestDataset) bool {
		return ds.Name == "ds.json" && ds.SHA256 == utils.SumSHA256([]byte("new"))
	})).Return(nil).Once()

	_, err := NewDatasetService(repo, dir).Register(context.Background(), &RegisterDatasetInput{
		CategoryName: "snomed", Name: "ds.json", Overwrite: true,
	}, strings.NewReader("new"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, DatasetDir, "ds.json"))
	require.NoError(t, err)
	require.Equal(t, "new", string(b))
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestFailedOverwriteKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	dsDir := filepath.Join(dir, DatasetDir)
	require.NoError(t, os.MkdirAll(dsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dsDir, "ds.json"), []byte("old"), 0o644))

	repo := new(mockDatasetRepository)
	repo.On("Replace", mock.Anything, mock.Anything).Return(appErr.New(appErr.CodeInternal, "replace dataset failed"))

	_, err := NewDatasetService(repo, dir).Register(context.Background(), &RegisterDatasetInput{
		CategoryName: "snomed", Name: "ds.json", Overwrite: true,
	}, strings.NewReader("new"))
	require.True(t, appErr.IsCode(err, appErr.CodeInternal))

	b, err := os.ReadFile(filepath.Join(dsDir, "ds.json"))
	require.NoError(t, err)
	require.Equal(t, "old", string(b))
	entries, err := os.ReadDir(dsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staged upload is cleaned up")
}

func TestRegisterDatasetRejectsBadInput(t *testing.T) {
	svc := NewDatasetService(new(mockDatasetRepository), t.TempDir())

	for name, in := range map[string]*RegisterDatasetInput{
		"missing category": {Name: "ds.json"},
		"path traversal":   {CategoryName: "c", Name: "../ds.json"},
		"hidden file":      {CategoryName: "c", Name: ".ds.json"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), in, strings.NewReader("x"))
			require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
		})
	}
}

func TestRegisterDatasetRemovesFileWhenRowFails(t *testing.T) {
	dir := t.TempDir()
	repo := new(mockDatasetRepository)
	repo.On("Create", mock.Anything, mock.Anything).Return(appErr.New(appErr.CodeAlreadyExists, "dataset already exists"))

	_, err := NewDatasetService(repo, dir).Register(context.Background(), &RegisterDatasetInput{
		CategoryName: "snomed", Name: "ds.json",
	}, strings.NewReader("x"))
	require.True(t, appErr.IsCode(err, appErr.CodeAlreadyExists))
	_, statErr := os.Stat(filepath.Join(dir, DatasetDir, "ds.json"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDeleteDataset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ds.json")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	repo := new(mockDatasetRepository)
	repo.On("DeleteByName", mock.Anything, "ds.json").Return(&models.TestDataset{Name: "ds.json", FilePath: path}, nil).Once()
	repo.On("DeleteByName", mock.Anything, "ds.json").Return(nil, appErr.New(appErr.CodeNotFound, "dataset not found")).Once()
	svc := NewDatasetService(repo, dir)

	ds, err := svc.Delete(context.Background(), "ds.json")
	require.NoError(t, err)
	require.Equal(t, path, ds.FilePath)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	_, err = svc.Delete(context.Background(), "ds.json")
	require.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestListDatasets(t *testing.T) {
	repo := new(mockDatasetRepository)
	repo.On("List", mock.Anything, "category_name, name").Return([]models.TestDataset{{Name: "a"}}, nil)

	got, err := NewDatasetService(repo, t.TempDir()).List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
}
