package learner

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

var runnerSysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}

func interruptProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
