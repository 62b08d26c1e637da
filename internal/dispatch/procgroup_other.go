//go:build !unix

package dispatch

import "os/exec"

// setProcessGroup is a no-op here; cancellation kills the engine process only
// and WaitDelay bounds the wait on anything it left behind.
func setProcessGroup(cmd *exec.Cmd) {}
