//go:build !windows

package learner

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Eigene Prozessgruppe, damit DataLoader-Worker und torch.distributed
// Kindprozesse mit beendet werden
var runnerSysProcAttr = &syscall.SysProcAttr{Setpgid: true}

func interruptProcess(p *os.Process) error {
	return unix.Kill(-p.Pid, unix.SIGTERM)
}

func killProcess(p *os.Process) error {
	return unix.Kill(-p.Pid, unix.SIGKILL)
}
