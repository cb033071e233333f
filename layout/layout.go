// Package layout beschreibt die feste Verzeichnisstruktur eines Trainings-Jobs.
//
// Alle Pfade haengen an einem Prefix (Default /opt/ml):
//
//	input/config/training_config.json
//	input/config/hyperparameters.json
//	input/data/training/            CSV-Dateien
//	input/data/finetuned/           optionale finetuned Gewichte
//	code/pretrained_models/<name>   vorinstallierte Checkpoints
//	model/                          Artefakte
//	output/failure                  Fehlerdatei
//	output/logs/                    Log-Dateien
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunTimeFormat ist das Zeitformat im Namen der Log-Datei
const RunTimeFormat = "2006-01-02_15-04-05"

type Layout struct {
	Prefix string
}

func New(prefix string) Layout {
	return Layout{Prefix: prefix}
}

func (l Layout) path(elem ...string) string {
	return filepath.Join(append([]string{l.Prefix}, elem...)...)
}

func (l Layout) TrainingConfig() string   { return l.path("input", "config", "training_config.json") }
func (l Layout) Hyperparameters() string  { return l.path("input", "config", "hyperparameters.json") }
func (l Layout) TrainingDataDir() string  { return l.path("input", "data", "training") }
func (l Layout) FinetunedDir() string     { return l.path("input", "data", "finetuned") }
func (l Layout) PretrainedModels() string { return l.path("code", "pretrained_models") }
func (l Layout) ModelDir() string         { return l.path("model") }
func (l Layout) OutputDir() string        { return l.path("output") }
func (l Layout) FailureFile() string      { return l.path("output", "failure") }
func (l Layout) LogDir() string           { return l.path("output", "logs") }

// PretrainedDir gibt das Verzeichnis eines vorinstallierten Modells zurueck
func (l Layout) PretrainedDir(modelName string) string {
	return filepath.Join(l.PretrainedModels(), modelName)
}

// FinetunedPath gibt den Pfad der finetuned Gewichte zurueck
func (l Layout) FinetunedPath(name string) string {
	return filepath.Join(l.FinetunedDir(), name)
}

// LogFile gibt den Pfad der Log-Datei eines Laufs zurueck
func (l Layout) LogFile(start time.Time, runText string) string {
	return filepath.Join(l.LogDir(), fmt.Sprintf("log-%s-%s.txt", start.Format(RunTimeFormat), runText))
}

// EnsureOutputDirs legt model/ und output/ an
func (l Layout) EnsureOutputDirs() error {
	for _, dir := range []string{l.ModelDir(), l.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
