// Package learner - Runner-Protokoll fuer das Finetuning
//
// Definiert die Typen des Protokolls zwischen Trainer und Runner:
// - Learner Interface mit Load, Fit, Save und Close
// - Request- und Response-Typen fuer /load, /fit und /save
// - filteredEnv fuer sicheres Logging der Runner-Umgebung
package learner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/fastbert/trainer/databunch"
	"github.com/fastbert/trainer/discover"
	"github.com/fastbert/trainer/metrics"
)

// Learner trainiert ein Klassifikationsmodell
type Learner interface {
	Load(ctx context.Context, req LoadRequest) (*LoadResponse, error)
	Fit(ctx context.Context, req FitRequest, fn func(FitProgress)) (*FitResult, error)
	Save(ctx context.Context, req SaveRequest) (*SaveResponse, error)
	Close() error
}

// LoadRequest baut Databunch und Learner im Runner
type LoadRequest struct {
	DataBunch      databunch.Spec   `json:"databunch"`
	PretrainedPath string           `json:"pretrained_path"`
	FinetunedPath  string           `json:"finetuned_path,omitempty"`
	ModelType      string           `json:"model_type"`
	Metrics        []metrics.Metric `json:"metrics"`

	Device       string                 `json:"device"`
	MultiGPU     bool                   `json:"multi_gpu"`
	ProcessGroup *discover.ProcessGroup `json:"process_group,omitempty"`

	FP16                  bool   `json:"fp16"`
	FP16OptLevel          string `json:"fp16_opt_level"`
	LossScale             int    `json:"loss_scale"`
	WarmupSteps           int    `json:"warmup_steps"`
	GradAccumulationSteps int    `json:"grad_accumulation_steps"`
	LoggingSteps          int    `json:"logging_steps"`
	OptimizerType         string `json:"optimizer_type"`
	MultiLabel            bool   `json:"multi_label"`

	OutputDir string `json:"output_dir"`
}

// LoadResponse bestaetigt den geladenen Learner
type LoadResponse struct {
	Success    bool   `json:"success"`
	NumLabels  int    `json:"num_labels"`
	Parameters int64  `json:"parameters"`
	TrainSteps int    `json:"train_steps"`
	Error      string `json:"error,omitempty"`
}

// FitRequest startet das Training
type FitRequest struct {
	Epochs       int     `json:"epochs"`
	LR           float64 `json:"lr"`
	ScheduleType string  `json:"schedule_type"`
	Validate     bool    `json:"validate"`
}

// FitProgress ist eine Zeile des NDJSON-Streams von /fit
type FitProgress struct {
	Epoch      int                `json:"epoch"`
	Step       int                `json:"step"`
	TotalSteps int                `json:"total_steps"`
	Loss       float64            `json:"loss"`
	LR         float64            `json:"lr"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Done       bool               `json:"done"`
	Error      string             `json:"error,omitempty"`
}

// FitResult fasst ein abgeschlossenes Training zusammen
type FitResult struct {
	Epochs   int
	Steps    int
	Loss     float64
	Metrics  map[string]float64
	Duration time.Duration
}

// LogValue implementiert slog.LogValuer
func (r *FitResult) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("epochs", r.Epochs),
		slog.Int("steps", r.Steps),
		slog.Float64("loss", r.Loss),
		slog.Duration("duration", r.Duration),
	}
	for _, k := range slices.Sorted(maps.Keys(r.Metrics)) {
		attrs = append(attrs, slog.Float64(k, r.Metrics[k]))
	}
	return slog.GroupValue(attrs...)
}

// SaveRequest schreibt Gewichte und config.json
type SaveRequest struct {
	OutputDir string `json:"output_dir"`
}

// SaveResponse listet die geschriebenen Dateien
type SaveResponse struct {
	Files []string `json:"files"`
}

// StatusError ist eine Fehlerantwort des Runners
type StatusError struct {
	StatusCode   int
	ErrorMessage string
}

func (e StatusError) Error() string {
	if e.ErrorMessage != "" {
		return fmt.Sprintf("runner error %d: %s", e.StatusCode, e.ErrorMessage)
	}
	return fmt.Sprintf("runner error %d", e.StatusCode)
}

// filteredEnv filtert Umgebungsvariablen fuer sicheres Logging
type filteredEnv []string

func (e filteredEnv) LogValue() slog.Value {
	var attrs []slog.Attr
	for _, env := range e {
		if key, value, ok := strings.Cut(env, "="); ok {
			switch {
			case strings.HasPrefix(key, "FASTBERT_"),
				strings.HasPrefix(key, "CUDA_"),
				strings.HasPrefix(key, "NCCL_"),
				strings.HasPrefix(key, "MASTER_"),
				strings.HasPrefix(key, "PYTHON"),
				strings.HasPrefix(key, "HF_") && key != "HF_TOKEN",
				slices.Contains([]string{
					"PATH",
					"LD_LIBRARY_PATH",
					"RANK",
					"WORLD_SIZE",
				}, key):
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	return slog.GroupValue(attrs...)
}
