// Package failure meldet einen fehlgeschlagenen Trainingslauf. Die Meldung
// landet in der failure-Datei des Jobs und auf stderr, der Prozess endet mit
// ExitCode.
package failure

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/pkg/errors"
)

// ExitCode signalisiert der Plattform einen fehlgeschlagenen Job
const ExitCode = 255

const prefix = "Exception during training: "

// PanicError ist eine abgefangene Panic mit ihrem Stack
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Trace gibt den Stack zum Fehler zurueck: bei Panics den Goroutine-Stack,
// sonst die Formatierung %+v, die bei pkg/errors den Stack enthaelt
func Trace(err error) string {
	var p *PanicError
	if errors.As(err, &p) {
		return string(p.Stack)
	}
	return fmt.Sprintf("%+v", err)
}

// Message formatiert die Meldung fuer die failure-Datei
func Message(err error) string {
	return prefix + err.Error() + "\n" + Trace(err)
}

// Reporter schreibt Fehlermeldungen nach Path und Stderr
type Reporter struct {
	Path   string
	Stderr io.Writer
}

// Report schreibt die Meldung zu err und gibt ExitCode zurueck
func (r Reporter) Report(err error) int {
	msg := Message(err)

	if r.Path != "" {
		if werr := writeFile(r.Path, msg); werr != nil {
			slog.Error("failed to write failure file", "path", r.Path, "error", werr)
		}
	}

	stderr := r.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	fmt.Fprintln(stderr, msg)

	return ExitCode
}

// Run fuehrt fn aus. Fehler und Panics werden gemeldet, dann ist das
// Ergebnis ExitCode, sonst 0.
func (r Reporter) Run(fn func() error) (code int) {
	defer func() {
		if v := recover(); v != nil {
			code = r.Report(&PanicError{Value: v, Stack: debug.Stack()})
		}
	}()

	if err := fn(); err != nil {
		return r.Report(err)
	}
	return 0
}

func writeFile(path, msg string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(msg), 0o644)
}
