// Package learner - Runner Status und Kontrolle
//
// Funktionen zur Runner-Ueberwachung:
// - ServerStatus Enum fuer die Zustaende des Runners
// - StatusWriter merkt sich die letzte Python-Fehlerzeile
// - getServerStatus fuer Health Checks
// - WaitUntilRunning fuer den Startup
package learner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// ServerStatus repraesentiert den aktuellen Zustand des Runners
type ServerStatus int

const (
	ServerStatusReady ServerStatus = iota
	ServerStatusLaunched
	ServerStatusLoading
	ServerStatusTraining
	ServerStatusNotResponding
	ServerStatusError
)

func (s ServerStatus) String() string {
	switch s {
	case ServerStatusReady:
		return "runner ready"
	case ServerStatusLaunched:
		return "runner launched"
	case ServerStatusLoading:
		return "runner loading model"
	case ServerStatusTraining:
		return "runner training"
	case ServerStatusNotResponding:
		return "runner not responding"
	default:
		return "runner error"
	}
}

// ServerStatusResponse ist die Antwort vom Health-Endpoint
type ServerStatusResponse struct {
	Status   ServerStatus `json:"status"`
	Progress float32      `json:"progress"`
}

// pythonError erkennt die letzte Zeile eines Python-Tracebacks, z.B.
// "RuntimeError: CUDA out of memory" oder "torch.cuda.OutOfMemoryError: ...".
// Dazu kommen die Meldungen des Interpreters, wenn Modul oder Skript fehlen:
// "python3: Error while finding module specification for 'x' (ModuleNotFoundError: ...)"
// und "python3: can't open file '...': [Errno 2] ...".
var pythonError = regexp2.MustCompile(`^(?:(?:[A-Za-z_][\w]*\.)*[A-Za-z_]\w*(?:Error|Exception|Interrupt): .+|\S+: (?:Error while finding module specification for|No module named|can't open file) .+)$`, regexp2.Multiline)

// StatusWriter leitet die Runner-Ausgabe weiter und merkt sich die letzte
// Fehlerzeile
type StatusWriter struct {
	mu         sync.Mutex
	lastErrMsg string
	out        io.Writer
}

func NewStatusWriter(out io.Writer) *StatusWriter {
	return &StatusWriter{out: out}
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	if m, err := pythonError.FindStringMatch(strings.ReplaceAll(string(b), "\r", "")); err == nil && m != nil {
		last := m
		for next, err := pythonError.FindNextMatch(m); err == nil && next != nil; next, err = pythonError.FindNextMatch(next) {
			last = next
		}
		w.mu.Lock()
		w.lastErrMsg = last.String()
		w.mu.Unlock()
	}
	return w.out.Write(b)
}

// lastErrSuffix gibt die letzte Fehlerzeile mit fuehrendem Leerzeichen
// zurueck, oder "" wenn es keine gibt
func (w *StatusWriter) lastErrSuffix() string {
	if msg := w.LastErrMsg(); msg != "" {
		return " " + msg
	}
	return ""
}

// LastErrMsg gibt die zuletzt gesehene Fehlerzeile zurueck
func (w *StatusWriter) LastErrMsg() string {
	if w == nil {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErrMsg
}

// getServerStatus fragt den Health-Endpoint ab
func (s *Runner) getServerStatus(ctx context.Context) (ServerStatus, error) {
	// Schneller Fehler wenn Prozess beendet
	if s.exited.Load() {
		return ServerStatusError, fmt.Errorf("%w: exit code %d%s", ErrRunnerExited, s.exitCode.Load(), s.status.lastErrSuffix())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return ServerStatusError, fmt.Errorf("error creating GET request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ServerStatusNotResponding, errors.New("runner not responding")
		}
		if strings.Contains(err.Error(), "connection refused") {
			return ServerStatusNotResponding, errors.New("connection refused")
		}
		return ServerStatusError, fmt.Errorf("health resp: %w", err)
	}
	defer resp.Body.Close()

	var ssr ServerStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&ssr); err != nil {
		return ServerStatusError, fmt.Errorf("health unmarshal response: %w", err)
	}

	switch ssr.Status {
	case ServerStatusLoading, ServerStatusLaunched:
		s.loadProgress = ssr.Progress
		return ssr.Status, nil
	case ServerStatusReady, ServerStatusTraining:
		return ssr.Status, nil
	default:
		return ssr.Status, fmt.Errorf("%w: %s (progress %0.2f)%s", ErrRunnerFailed, ssr.Status, ssr.Progress, s.status.lastErrSuffix())
	}
}

// WaitUntilRunning wartet bis der Runner bereit ist. Solange sich der
// Fortschritt bewegt, wird der Stall-Timer verlaengert.
func (s *Runner) WaitUntilRunning(ctx context.Context) error {
	stallTimer := time.Now().Add(s.loadTimeout)

	slog.Info("waiting for runner to start responding")
	var lastStatus ServerStatus = -1

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for runner to start: %w", ctx.Err())
		case err := <-s.done:
			s.done <- err
			return fmt.Errorf("%w: %v%s", ErrRunnerExited, err, s.status.lastErrSuffix())
		default:
		}

		if time.Now().After(stallTimer) {
			return fmt.Errorf("timed out waiting for runner to start - progress %0.2f%s", s.loadProgress, s.status.lastErrSuffix())
		}

		priorProgress := s.loadProgress
		status, err := s.healthCheck(ctx)
		if errors.Is(err, ErrRunnerExited) || errors.Is(err, ErrRunnerFailed) {
			return err
		}

		if lastStatus != status && status != ServerStatusReady {
			slog.Info("waiting for runner to become available", "status", status)
		}

		if status == ServerStatusReady {
			slog.Info(fmt.Sprintf("runner started in %0.2f seconds", time.Since(s.loadStart).Seconds()))
			return nil
		}

		lastStatus = status
		if priorProgress != s.loadProgress {
			slog.Debug(fmt.Sprintf("runner load progress %0.2f", s.loadProgress))
			stallTimer = time.Now().Add(s.loadTimeout)
		}
		time.Sleep(s.pollInterval)
	}
}

func (s *Runner) healthCheck(ctx context.Context) (ServerStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	return s.getServerStatus(ctx)
}
