// Package learner - Runner Subprocess Verwaltung
//
// Funktionen zum Starten und Konfigurieren des Runner-Subprocesses:
// - StartRunner: Hauptfunktion zum Starten des Runners
// - findAvailablePort: Freien Port finden
// - setupRunnerOutput: Stdout/Stderr weiterleiten
// - updateEnvVars: Umgebungsvariablen setzen
package learner

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// StartRunner startet den Runner-Subprocess. command ist die Kommandozeile
// des Runners, --port wird angehaengt.
func StartRunner(command []string, out io.Writer, extraEnvs map[string]string) (cmd *exec.Cmd, port int, err error) {
	if len(command) == 0 {
		return nil, 0, errors.New("empty runner command")
	}

	exe, err := exec.LookPath(command[0])
	if err != nil {
		return nil, 0, fmt.Errorf("unable to find runner executable: %w", err)
	}

	port = findAvailablePort()

	params := append(command[1:len(command):len(command)], "--port", strconv.Itoa(port))
	cmd = exec.Command(exe, params...)
	cmd.Env = os.Environ()

	if out != nil {
		setupRunnerOutput(cmd, out)
	}
	cmd.SysProcAttr = runnerSysProcAttr

	updateEnvVars(cmd, extraEnvs)

	slog.Info("starting runner", "cmd", cmd)
	slog.Debug("subprocess", "", filteredEnv(cmd.Env))

	if err = cmd.Start(); err != nil {
		return nil, 0, err
	}

	return cmd, port, nil
}

// findAvailablePort findet einen freien TCP Port
func findAvailablePort() int {
	if a, err := net.ResolveTCPAddr("tcp", "localhost:0"); err == nil {
		if l, err := net.ListenTCP("tcp", a); err == nil {
			port := l.Addr().(*net.TCPAddr).Port
			l.Close()
			return port
		}
	}
	slog.Debug("ResolveTCPAddr failed, using random port")
	return rand.Intn(65535-49152) + 49152
}

// setupRunnerOutput verbindet Stdout/Stderr mit dem Writer. cmd.Wait kehrt
// erst zurueck, wenn die Ausgabe vollstaendig kopiert ist.
func setupRunnerOutput(cmd *exec.Cmd, out io.Writer) {
	cmd.Stdout = out
	cmd.Stderr = out
}

// updateEnvVars ersetzt vorhandene Variablen aus extraEnvs und haengt die
// uebrigen an. Python-Ausgaben werden ungepuffert weitergereicht.
func updateEnvVars(cmd *exec.Cmd, extraEnvs map[string]string) {
	envs := map[string]string{"PYTHONUNBUFFERED": "1"}
	for k, v := range extraEnvs {
		envs[k] = v
	}

	done := make(map[string]bool, len(envs))
	for i := range cmd.Env {
		key, _, _ := strings.Cut(cmd.Env[i], "=")
		for k, v := range envs {
			if strings.EqualFold(key, k) {
				cmd.Env[i] = k + "=" + v
				done[k] = true
			}
		}
	}

	for k, v := range envs {
		if !done[k] {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
}
