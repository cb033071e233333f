package layout

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPaths(t *testing.T) {
	l := New("/opt/ml")
	tests := []struct {
		name, got, want string
	}{
		{"TrainingConfig", l.TrainingConfig(), "/opt/ml/input/config/training_config.json"},
		{"Hyperparameters", l.Hyperparameters(), "/opt/ml/input/config/hyperparameters.json"},
		{"TrainingDataDir", l.TrainingDataDir(), "/opt/ml/input/data/training"},
		{"PretrainedDir", l.PretrainedDir("bert-base-uncased"), "/opt/ml/code/pretrained_models/bert-base-uncased"},
		{"FinetunedPath", l.FinetunedPath("wgts.bin"), "/opt/ml/input/data/finetuned/wgts.bin"},
		{"ModelDir", l.ModelDir(), "/opt/ml/model"},
		{"FailureFile", l.FailureFile(), "/opt/ml/output/failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("erwartet %q, bekam %q", tt.want, tt.got)
			}
		})
	}
}

func TestLogFile(t *testing.T) {
	l := New("/opt/ml")
	start := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	want := "/opt/ml/output/logs/log-2024-03-01_12-30-05-sentiment.txt"
	if got := l.LogFile(start, "sentiment"); got != want {
		t.Errorf("erwartet %q, bekam %q", want, got)
	}
}

func TestEnsureOutputDirs(t *testing.T) {
	l := New(t.TempDir())
	if err := l.EnsureOutputDirs(); err != nil {
		t.Fatalf("Unerwarteter Fehler: %v", err)
	}
	for _, dir := range []string{l.ModelDir(), l.OutputDir()} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("%s fehlt", filepath.Base(dir))
		}
	}
}
