//go:build windows

package executor

import (
	"os"
	"os/exec"
)

func isolate(cmd *exec.Cmd) {}

func kill(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func peakMemoryKB(state *os.ProcessState) int64 { return 0 }
