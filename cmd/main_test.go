// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/recplay/internal/config"
	"github.com/xkilldash9x/recplay/internal/observability"
)

// resetForTest provides the single source of truth for resetting test state.
// It moves the test into an empty directory so no stray recplay.yaml or .env
// is picked up.
func resetForTest(t *testing.T) {
	t.Helper()

	t.Chdir(t.TempDir())
	viper.Reset()

	cfgFile = ""
	osExit = os.Exit

	// The pre-run initializer is a no-op once this silent logger is installed.
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)

	rootCmd = newRootCmd()
}

// executeCommand runs the root command with args and returns stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
