//go:build unix

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunTimeoutKillsWholeProcessGroup(t *testing.T) {
	fakeEngine(t, 0, "HELPER_HANG=1", "HELPER_CHILD_SLEEP=30s")
	cfg := testRunnerConfig(t)
	cfg.Timeout = 200 * time.Millisecond
	r := NewRunner(cfg, zap.NewNop())

	start := time.Now()
	res, err := r.Run(context.Background(), "/opt/runner.jar", "/data/recording-1.json", "local")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Stderr, "runner killed")
	// The child dies with the engine, so Run need not wait out waitDelay.
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
}
