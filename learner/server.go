// Package learner - Runner Client
//
// Funktionen fuer die Kommunikation mit dem Runner:
// - Start: Runner starten und auf Bereitschaft warten
// - Load: Databunch und Learner im Runner bauen
// - Fit: Training mit NDJSON-Fortschritt
// - Save: Gewichte und config.json schreiben
// - Close: Prozessgruppe beenden
package learner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fastbert/trainer/envconfig"
	"github.com/fastbert/trainer/logutil"
)

var (
	ErrRunnerExited = errors.New("runner process no longer running")
	ErrRunnerFailed = errors.New("runner reported an error")
)

// maxBufferSize fuer Scanner-Buffer, Metrik-Zeilen koennen lang werden
const maxBufferSize = 512 * 1024

// Zeit zwischen SIGTERM und SIGKILL beim Beenden
var gracePeriod = 10 * time.Second

// Options konfiguriert Start
type Options struct {
	Command     []string
	Env         map[string]string
	Out         io.Writer
	LoadTimeout time.Duration
}

// Runner ist ein gestarteter Runner-Prozess
type Runner struct {
	port    int
	baseURL string
	cmd     *exec.Cmd
	done    chan error // Channel signalisiert wenn Prozess beendet
	status  *StatusWriter
	client  *http.Client

	exited   atomic.Bool
	exitCode atomic.Int32

	loadStart    time.Time
	loadProgress float32
	loadTimeout  time.Duration
	pollInterval time.Duration

	sem       *semaphore.Weighted
	closeOnce sync.Once
	closeErr  error
}

// Start startet den Runner und wartet bis er bereit ist
func Start(ctx context.Context, opts Options) (*Runner, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	status := NewStatusWriter(out)
	cmd, port, err := StartRunner(opts.Command, status, opts.Env)
	if err != nil {
		return nil, fmt.Errorf("error starting runner: %v%s", err, status.lastErrSuffix())
	}

	s := newRunner(fmt.Sprintf("http://127.0.0.1:%d", port), status, opts.LoadTimeout)
	s.port = port
	s.cmd = cmd
	go s.monitorProcess()

	if err := s.WaitUntilRunning(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newRunner(baseURL string, status *StatusWriter, loadTimeout time.Duration) *Runner {
	if loadTimeout <= 0 {
		loadTimeout = envconfig.LoadTimeout()
	}
	return &Runner{
		baseURL:      baseURL,
		status:       status,
		client:       &http.Client{},
		done:         make(chan error, 1),
		loadStart:    time.Now(),
		loadTimeout:  loadTimeout,
		pollInterval: 250 * time.Millisecond,
		sem:          semaphore.NewWeighted(1),
	}
}

func (s *Runner) monitorProcess() {
	err := s.cmd.Wait()
	s.exitCode.Store(int32(s.cmd.ProcessState.ExitCode()))
	s.exited.Store(true)
	if msg := s.status.LastErrMsg(); err != nil && msg != "" {
		slog.Error("runner terminated", "error", err)
		s.done <- errors.New(msg)
	} else {
		s.done <- err
	}
}

// Pid gibt die Prozess-ID des Runners zurueck
func (s *Runner) Pid() int {
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return -1
}

// HasExited prueft ob der Runner-Prozess beendet wurde
func (s *Runner) HasExited() bool {
	return s.exited.Load()
}

func (s *Runner) acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("aborting runner request due to cancellation")
		} else {
			slog.Error("Failed to acquire semaphore", "error", err)
		}
		return err
	}
	return nil
}

// post sendet body als JSON an den Runner
func (s *Runner) post(ctx context.Context, path string, body any) (*http.Response, error) {
	buffer := &bytes.Buffer{}
	enc := json.NewEncoder(buffer)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("failed to marshal data: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, buffer)
	if err != nil {
		return nil, fmt.Errorf("error creating POST request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil, err
	} else if err != nil {
		slog.Error("post "+path, "error", err)
		return nil, s.stoppedError(err)
	}

	if res.StatusCode >= 400 {
		defer res.Body.Close()
		bodyBytes, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, fmt.Errorf("failed reading runner error response: %w", err)
		}
		slog.Error("runner error", "path", path, "status", res.StatusCode, "body", string(bodyBytes))
		return nil, StatusError{StatusCode: res.StatusCode, ErrorMessage: strings.TrimSpace(string(bodyBytes))}
	}
	return res, nil
}

func (s *Runner) stoppedError(err error) error {
	msg := s.status.LastErrMsg()
	if msg == "" {
		msg = err.Error()
	}
	if s.exited.Load() {
		return fmt.Errorf("%w: %s", ErrRunnerExited, msg)
	}
	return fmt.Errorf("runner has unexpectedly stopped: %s", msg)
}

// Load baut Databunch und Learner im Runner
func (s *Runner) Load(ctx context.Context, req LoadRequest) (*LoadResponse, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	if status, err := s.getServerStatus(ctx); err != nil {
		return nil, err
	} else if status != ServerStatusReady {
		return nil, fmt.Errorf("unexpected runner status: %s", status)
	}

	slog.Debug("load request", "pretrained", req.PretrainedPath, "labels", len(req.DataBunch.Labels), "metrics", len(req.Metrics))
	res, err := s.post(ctx, "/load", req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var resp LoadResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("load unmarshal response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: load: %s", ErrRunnerFailed, resp.Error)
	}
	return &resp, nil
}

// Fit trainiert und ruft fn fuer jede Fortschrittszeile auf
func (s *Runner) Fit(ctx context.Context, req FitRequest, fn func(FitProgress)) (*FitResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	logutil.Trace("fit request", "epochs", req.Epochs, "lr", req.LR, "schedule", req.ScheduleType)
	start := time.Now()
	res, err := s.post(ctx, "/fit", req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	result, err := s.processFitStream(ctx, res.Body, fn)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Runner) processFitStream(ctx context.Context, body io.Reader, fn func(FitProgress)) (*FitResult, error) {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, maxBufferSize)
	scanner.Buffer(buf, maxBufferSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		evt, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			evt = line
		}

		var p FitProgress
		if err := json.Unmarshal(evt, &p); err != nil {
			return nil, fmt.Errorf("error unmarshalling fit progress: %v", err)
		}

		if p.Error != "" {
			return nil, fmt.Errorf("%w: fit: %s", ErrRunnerFailed, p.Error)
		}

		if fn != nil {
			fn(p)
		}

		if p.Done {
			return &FitResult{Epochs: p.Epoch, Steps: p.Step, Loss: p.Loss, Metrics: p.Metrics}, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, s.stoppedError(err)
	}
	return nil, s.stoppedError(io.ErrUnexpectedEOF)
}

// Save schreibt Gewichte und config.json nach req.OutputDir
func (s *Runner) Save(ctx context.Context, req SaveRequest) (*SaveResponse, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	res, err := s.post(ctx, "/save", req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var resp SaveResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("save unmarshal response: %w", err)
	}
	return &resp, nil
}

// Close beendet die Prozessgruppe des Runners
func (s *Runner) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd == nil || s.cmd.Process == nil {
			return
		}

		slog.Debug("stopping runner", "pid", s.Pid())
		if !s.exited.Load() {
			if err := interruptProcess(s.cmd.Process); err != nil {
				slog.Debug("interrupt runner", "error", err)
			}
			select {
			case <-s.done:
			case <-time.After(gracePeriod):
				slog.Warn("runner did not exit, killing", "pid", s.Pid())
				s.closeErr = killProcess(s.cmd.Process)
				<-s.done
			}
		}
		slog.Debug("runner stopped", "pid", s.Pid())
	})
	return s.closeErr
}
