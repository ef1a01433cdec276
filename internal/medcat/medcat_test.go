package medcat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medcatmlflow/engine/pkg/cache"
	"github.com/medcatmlflow/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init("info", "json"); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

func TestExecRunner(t *testing.T) {
	r := NewExecRunner("sh", "-c")
	ctx := context.Background()

	out, err := r.Run(ctx, `echo '{"hash": "abc"}'`)
	require.NoError(t, err)
	require.JSONEq(t, `{"hash": "abc"}`, string(out))

	_, err = r.Run(ctx, `echo "ValidationError: bad config" >&2; exit 3`)
	require.ErrorIs(t, err, ErrOutdatedSchema)
	require.ErrorContains(t, err, "ValidationError: bad config")

	_, err = r.Run(ctx, "exit 1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrOutdatedSchema)
}

func TestTailKeepsLastLines(t *testing.T) {
	require.Equal(t, "c | d | e | f | g", tail("a\nb\nc\nd\ne\nf\ng\n"))
	require.Equal(t, "one", tail("one"))
}

// scriptRunner answers helper commands from a table and records calls.
type scriptRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(call int, command string, args []string) ([]byte, error)
}

func (r *scriptRunner) Run(_ context.Context, command string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, command)
	n := len(r.calls)
	r.mu.Unlock()
	return r.fn(n, command, args)
}

func TestLoadUpgradesOutdatedPackOnce(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "model.zip")
	folder := filepath.Join(dir, "model")
	require.NoError(t, os.WriteFile(zipPath, []byte("old"), 0o644))
	require.NoError(t, os.MkdirAll(folder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "config.json"), []byte("old"), 0o644))

	r := &scriptRunner{fn: func(call int, command string, args []string) ([]byte, error) {
		switch {
		case command == "load" && call == 1:
			return nil, ErrOutdatedSchema
		case command == "upgrade":
			target := args[1]
			require.NoError(t, os.MkdirAll(target, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(target, "config.json"), []byte("new"), 0o644))
			require.NoError(t, os.WriteFile(target+".zip", []byte("new"), 0o644))
			return []byte(`{}`), nil
		case command == "load":
			return []byte(`{"version": "v2", "history": ["v1"], "cdb_hash": "h"}`), nil
		}
		return nil, errors.New("unexpected command " + command)
	}}
	c := NewClient(r, nil, nil)

	info, err := c.Load(context.Background(), zipPath)
	require.NoError(t, err)
	require.Equal(t, "v2", info.Version)
	require.Equal(t, []string{"v1"}, info.History)
	require.Equal(t, []string{"load", "upgrade", "load"}, r.calls)

	b, err := os.ReadFile(zipPath)
	require.NoError(t, err)
	require.Equal(t, "new", string(b))
	b, err = os.ReadFile(filepath.Join(folder, "config.json"))
	require.NoError(t, err)
	require.Equal(t, "new", string(b))
	_, err = os.Stat(folder + "_cbdfix")
	require.True(t, os.IsNotExist(err))

	// Cached for back-to-back calls.
	_, err = c.Load(context.Background(), zipPath)
	require.NoError(t, err)
	require.Len(t, r.calls, 3)
}

func TestLoadFailsWhenUpgradeDoesNotHelp(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "model.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("old"), 0o644))

	r := &scriptRunner{fn: func(_ int, command string, args []string) ([]byte, error) {
		if command == "upgrade" {
			require.NoError(t, os.WriteFile(args[1]+".zip", []byte("new"), 0o644))
			return nil, nil
		}
		return nil, ErrOutdatedSchema
	}}
	c := NewClient(r, cache.NewMemory(), nil)

	_, err := c.Load(context.Background(), zipPath)
	require.ErrorIs(t, err, ErrOutdatedSchema)
	require.Equal(t, []string{"load", "upgrade", "load"}, r.calls)
}

func TestEvaluateDecodesResult(t *testing.T) {
	r := &scriptRunner{fn: func(_ int, command string, args []string) ([]byte, error) {
		require.Equal(t, "evaluate", command)
		require.Equal(t, []string{"/m.zip", "/ds.json"}, args)
		return []byte(`{"fp": 1, "fn": 2, "tp": 3, "prec": {"C1": 0.5}, "examples": {}}`), nil
	}}
	res, err := NewClient(r, nil, nil).Evaluate(context.Background(), "/m.zip", "/ds.json")
	require.NoError(t, err)
	require.Equal(t, 3, res.TruePositives)
	require.Equal(t, map[string]float64{"C1": 0.5}, res.Precision)
}

func TestCDBHash(t *testing.T) {
	r := &scriptRunner{fn: func(_ int, _ string, args []string) ([]byte, error) {
		if args[0] == "/empty.dat" {
			return []byte(`{}`), nil
		}
		return []byte(`{"hash": "abc123"}`), nil
	}}
	c := NewClient(r, nil, nil)

	h, err := c.CDBHash(context.Background(), "/cdb.dat")
	require.NoError(t, err)
	require.Equal(t, "abc123", h)

	_, err = c.CDBHash(context.Background(), "/empty.dat")
	require.ErrorContains(t, err, "empty cdb hash")
}

func TestPackPaths(t *testing.T) {
	z, f := packPaths("/models/a.zip")
	require.Equal(t, "/models/a.zip", z)
	require.Equal(t, "/models/a", f)
	z, f = packPaths("/models/a")
	require.Equal(t, "/models/a.zip", z)
	require.Equal(t, "/models/a", f)
}
