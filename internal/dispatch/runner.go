// File: internal/dispatch/runner.go
// Description: Launches the external playback engine for one recording and
// collects its output while mirroring every line into the service log.

package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/recplay/api/schemas"
	"github.com/xkilldash9x/recplay/internal/config"
)

var (
	// ErrInvalidMode is returned for a playback mode other than local or remote.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrSpawn wraps failures to start the playback process.
	ErrSpawn = errors.New("failed to start runner")
)

// execCommandContext is swapped out in tests.
var execCommandContext = exec.CommandContext

// waitDelay bounds how long Run waits for output after the engine exits or is killed.
var waitDelay = 5 * time.Second

// headlessArg is the engine's reserved third positional argument.
const headlessArg = "false"

// Runner executes recordings with the playback engine.
type Runner struct {
	cfg    config.RunnerConfig
	logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg config.RunnerConfig, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger.Named("runner")}
}

// ResolveMode applies the configured default to an empty mode and rejects unknown ones.
func (r *Runner) ResolveMode(mode string) (string, error) {
	if mode == "" {
		mode = r.cfg.DefaultMode
	}
	if mode == "" {
		mode = schemas.ModeLocal
	}
	switch mode {
	case schemas.ModeLocal, schemas.ModeRemote:
		return mode, nil
	default:
		return "", fmt.Errorf("%w %q: expected %q or %q", ErrInvalidMode, mode, schemas.ModeLocal, schemas.ModeRemote)
	}
}

// FindArtifact looks up the engine archive in the configured directory.
func (r *Runner) FindArtifact() (string, Diagnostics, error) {
	return FindArtifact(r.cfg.ArtifactDir)
}

// Args builds the engine command line after the java binary.
func (r *Runner) Args(artifact, recordingPath, mode, logDir string) []string {
	return []string{
		"-Dbrowser=" + r.cfg.Browser,
		"-DremoteUrl=" + r.cfg.RemoteURL,
		"-DlogDir=" + logDir,
		"-jar", artifact,
		recordingPath,
		mode,
		headlessArg,
	}
}

// Run executes the recording and blocks until the engine exits or the
// configured timeout kills it. A non-zero exit is reported in the result, not
// as an error; errors mean the engine could not be run at all.
func (r *Runner) Run(ctx context.Context, artifact, recordingPath, mode string) (*schemas.RunResult, error) {
	logDir, err := filepath.Abs(r.cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log directory: %w", err)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := r.Args(artifact, recordingPath, mode, logDir)
	logger := r.logger.With(zap.String("recording", filepath.Base(recordingPath)), zap.String("mode", mode))
	logger.Info("Starting runner.", zap.String("bin", r.cfg.JavaBin), zap.Strings("args", args))

	cmd := execCommandContext(ctx, r.cfg.JavaBin, args...)
	// The engine may fork browsers and drivers; they are killed with it and
	// cannot hold the output pipes open past waitDelay.
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	var outBuf, errBuf lockedBuilder
	var g errgroup.Group
	g.Go(func() error { return pump(stdoutR, &outBuf, logger, "stdout") })
	g.Go(func() error { return pump(stderrR, &errBuf, logger, "stderr") })

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		_ = g.Wait()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	waitErr := cmd.Wait()
	stdoutW.Close()
	stderrW.Close()
	pumpErr := g.Wait()

	result := &schemas.RunResult{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if pumpErr != nil {
		logger.Warn("Runner output was truncated.", zap.Error(pumpErr))
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Warn("Runner exited but left processes holding its output.", zap.Duration("wait_delay", waitDelay))
		waitErr = nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case ctx.Err() != nil:
			result.ExitCode = -1
		default:
			return nil, fmt.Errorf("runner failed: %w", waitErr)
		}
		if ctx.Err() != nil {
			logger.Error("Runner killed.", zap.Error(ctx.Err()), zap.Duration("timeout", r.cfg.Timeout))
			result.Stderr += fmt.Sprintf("runner killed: %v\n", ctx.Err())
		}
	}

	result.OK = result.ExitCode == 0 && waitErr == nil
	logger.Info("Runner exited.", zap.Int("exit_code", result.ExitCode), zap.Bool("ok", result.OK))
	return result, nil
}

// pump copies r line by line into buf and the log until EOF.
func pump(r io.Reader, buf *lockedBuilder, logger *zap.Logger, stream string) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			buf.WriteString(line)
			if trimmed := strings.TrimRight(line, "\r\n"); trimmed != "" {
				logger.Info(trimmed, zap.String("stream", stream))
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", stream, err)
		}
	}
}

type lockedBuilder struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuilder) WriteString(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.WriteString(s)
}

func (b *lockedBuilder) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
