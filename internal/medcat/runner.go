// Package medcat drives MedCAT model packs through a helper process.
//
// The helper is invoked as `<python> <helper> <command> args...` and prints
// one JSON document on stdout:
//
//	load <model>                 model version info
//	evaluate <model> <dataset>   performance counts and per-concept metrics
//	upgrade <model> <target>     writes an upgraded pack to <target>
//	cdb-hash <cdb file>          {"hash": "..."}
//
// Exit status 3 means the model config failed validation, which is what
// packs saved by older MedCAT releases do.
package medcat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/pkg/logger"
)

// ErrOutdatedSchema is returned when the model pack's config does not
// validate against the installed MedCAT.
var ErrOutdatedSchema = errors.New("model config has an outdated schema")

const exitOutdatedSchema = 3

// Runner executes one helper command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, command string, args ...string) ([]byte, error)
}

// ExecRunner runs the helper as a child process.
type ExecRunner struct {
	Python string
	Helper string
	Env    []string
}

var _ Runner = (*ExecRunner)(nil)

func NewExecRunner(python, helper string) *ExecRunner {
	return &ExecRunner{Python: python, Helper: helper}
}

func (r *ExecRunner) Run(ctx context.Context, command string, args ...string) ([]byte, error) {
	argv := append([]string{r.Helper, command}, args...)
	cmd := exec.CommandContext(ctx, r.Python, argv...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	logger.L().Debug("running medcat helper", zap.String("command", command), zap.Strings("args", args))
	err := cmd.Run()
	logger.L().Debug("medcat helper finished",
		zap.String("command", command),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == exitOutdatedSchema {
		return nil, fmt.Errorf("%s %s: %w: %s", command, strings.Join(args, " "), ErrOutdatedSchema, tail(stderr.String()))
	}
	return nil, fmt.Errorf("medcat helper %s: %w: %s", command, err, tail(stderr.String()))
}

// tail keeps the last lines of helper stderr, which hold the traceback's
// actual error.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}
