// Package runner enthaelt den Python-Runner, der das Protokoll des learner
// Pakets mit fast-bert bedient. Das Skript wird in die Binary eingebettet
// und vor dem Start in ein Arbeitsverzeichnis geschrieben.
package runner

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

// ScriptName ist der Dateiname des installierten Runners
const ScriptName = "fastbert_runner.py"

//go:embed fastbert_runner.py
var script []byte

// Script gibt den Quelltext des Runners zurueck
func Script() []byte {
	return bytes.Clone(script)
}

// Install schreibt den Runner nach dir und gibt den Pfad zurueck. Eine
// vorhandene, identische Datei wird nicht neu geschrieben.
func Install(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, ScriptName)
	if b, err := os.ReadFile(path); err == nil && bytes.Equal(b, script) {
		return path, nil
	}

	if err := os.WriteFile(path, script, 0o644); err != nil {
		return "", fmt.Errorf("install runner: %w", err)
	}
	return path, nil
}

// Command gibt die Kommandozeile fuer den installierten Runner zurueck
func Command(python, path string) []string {
	return []string{python, "-u", path}
}
