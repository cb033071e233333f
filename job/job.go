// Package job fuehrt einen Finetuning-Lauf aus: Konfiguration lesen,
// Logging einrichten, Tokenizer und Geraete waehlen, Databunch bauen,
// den Learner trainieren lassen und die Artefakte speichern.
package job

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fastbert/trainer/config"
	"github.com/fastbert/trainer/discover"
	"github.com/fastbert/trainer/envconfig"
	"github.com/fastbert/trainer/failure"
	"github.com/fastbert/trainer/format"
	"github.com/fastbert/trainer/huggingface"
	"github.com/fastbert/trainer/layout"
	"github.com/fastbert/trainer/learner"
	"github.com/fastbert/trainer/logutil"
)

// Options enthaelt die austauschbaren Teile eines Laufs. Nicht gesetzte
// Felder werden aus der Umgebung belegt.
type Options struct {
	Layout layout.Layout
	Stdout io.Writer
	Stderr io.Writer

	// Devices liefert die sichtbaren GPUs
	Devices func(context.Context) []discover.DeviceInfo
	// StartLearner startet den Learner, Standard ist der Runner-Prozess
	StartLearner func(context.Context, learner.Options) (learner.Learner, error)

	Hub     *huggingface.Client
	Offline bool

	// S3 wird nur benutzt, wenn FASTBERT_S3_OUTPUT gesetzt ist
	S3 s3iface.S3API

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Layout == (layout.Layout{}) {
		o.Layout = layout.New(envconfig.Prefix())
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Devices == nil {
		o.Devices = discover.GPUDevices
	}
	if o.StartLearner == nil {
		o.StartLearner = func(ctx context.Context, opts learner.Options) (learner.Learner, error) {
			return learner.Start(ctx, opts)
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Main fuehrt den Lauf aus und gibt den Exit-Code zurueck. Jeder Fehler und
// jede Panic landet in output/failure.
func Main(ctx context.Context, opts Options) int {
	opts.setDefaults()
	reporter := failure.Reporter{Path: opts.Layout.FailureFile(), Stderr: opts.Stderr}
	return reporter.Run(func() error {
		return Run(ctx, opts)
	})
}

// Run fuehrt alle Schritte des Laufs der Reihe nach aus
func Run(ctx context.Context, opts Options) error {
	opts.setDefaults()
	l := opts.Layout
	start := opts.Now()
	runID := uuid.New()

	training, err := config.LoadTraining(l.TrainingConfig())
	if err != nil {
		return err
	}
	hp, err := config.LoadHyperparameters(l.Hyperparameters())
	if err != nil {
		return err
	}

	if err := l.EnsureOutputDirs(); err != nil {
		return errors.Wrap(err, "creating output directories")
	}

	logFile, err := logutil.OpenRunLog(l.LogFile(start, training.RunText))
	if err != nil {
		return errors.Wrap(err, "opening run log")
	}
	defer logFile.Close()

	logOut := io.MultiWriter(logFile, opts.Stdout)
	prev := slog.Default()
	slog.SetDefault(logutil.NewLogger(logOut, envconfig.LogLevel()))
	defer slog.SetDefault(prev)

	slog.Info("run started", "run_id", runID, "run_text", training.RunText, "start", start.Format(time.RFC3339), "prefix", l.Prefix)
	slog.Info("training config", "model_name", training.ModelName, "model_type", training.ModelType, "multi_label", training.MultiLabel, "fp16", training.FP16, "distributed", training.Distributed)
	slog.Info("hyperparameters", "epochs", hp.Epochs, "lr", hp.LR, "train_batch_size", hp.TrainBatchSize, "max_seq_length", hp.MaxSeqLength, "lr_schedule", hp.LRSchedule, "optimizer_type", hp.OptimizerType)

	r := &run{
		opts:     opts,
		layout:   l,
		training: training,
		hp:       hp,
		logOut:   logOut,
	}
	if err := r.execute(ctx); err != nil {
		return err
	}

	slog.Info("run finished", "run_id", runID, "elapsed", format.HumanDuration(opts.Now().Sub(start)))
	return nil
}
