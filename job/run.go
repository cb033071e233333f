package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/fastbert/trainer/artifacts"
	"github.com/fastbert/trainer/checkpoint"
	"github.com/fastbert/trainer/config"
	"github.com/fastbert/trainer/databunch"
	"github.com/fastbert/trainer/discover"
	"github.com/fastbert/trainer/envconfig"
	"github.com/fastbert/trainer/huggingface"
	"github.com/fastbert/trainer/layout"
	"github.com/fastbert/trainer/learner"
	"github.com/fastbert/trainer/logutil"
	"github.com/fastbert/trainer/metrics"
	"github.com/fastbert/trainer/runner"
	"github.com/fastbert/trainer/tokenizer"
)

// run haelt den Zustand eines Laufs zwischen den Schritten
type run struct {
	opts     Options
	layout   layout.Layout
	training *config.Training
	hp       *config.Hyperparameters
	logOut   io.Writer

	runnerLog *os.File
}

func (r *run) execute(ctx context.Context) error {
	pretrained, err := r.resolvePretrained(ctx)
	if err != nil {
		return err
	}

	tok, err := tokenizer.Load(pretrained.Path, r.training.ModelType)
	if err != nil {
		return errors.Wrap(err, "loading tokenizer")
	}
	if err := tok.Validate(pretrained.Info, r.hp.MaxSeqLength); err != nil {
		return errors.Wrap(err, "validating tokenizer")
	}

	placement := discover.Select(r.opts.Devices(ctx), r.training.FP16, r.training.Distributed, envconfig.MasterPort())

	db, err := databunch.Load(ctx, databunch.Options{
		Dir:             r.layout.TrainingDataDir(),
		TrainFile:       r.training.TrainFile,
		ValFile:         r.training.ValFile,
		LabelFile:       r.training.LabelFile,
		TextCol:         r.training.TextCol,
		LabelCol:        r.training.LabelCol,
		BatchSizePerGPU: r.hp.TrainBatchSize,
		MaxSeqLength:    r.hp.MaxSeqLength,
		MultiGPU:        placement.MultiGPU,
		MultiLabel:      r.training.MultiLabel,
		ModelType:       r.training.ModelType,
	})
	if err != nil {
		return errors.Wrap(err, "loading databunch")
	}
	slog.Info("label distribution", "train", db.Distribution())

	ms := metrics.Select(r.training.MultiLabel)
	slog.Info("metrics selected", "metrics", metrics.Names(ms))

	req, err := r.loadRequest(pretrained, db, ms, placement)
	if err != nil {
		return err
	}

	lrn, err := r.startLearner(ctx, placement)
	if r.runnerLog != nil {
		defer r.runnerLog.Close()
	}
	if err != nil {
		return errors.Wrap(err, "starting learner")
	}
	defer lrn.Close()

	if err := r.train(ctx, lrn, req); err != nil {
		return err
	}

	if err := r.save(ctx, lrn, tok, db); err != nil {
		return err
	}

	if err := r.mirror(ctx); err != nil {
		return err
	}

	return artifacts.Summary(r.logOut, r.layout.ModelDir())
}

// resolvePretrained sucht den vortrainierten Checkpoint und vergleicht den
// Modelltyp mit der Trainingskonfiguration
func (r *run) resolvePretrained(ctx context.Context) (*huggingface.Resolved, error) {
	pretrained, err := huggingface.ResolvePretrained(ctx, r.layout.PretrainedDir(r.training.ModelName), r.training.ModelName, huggingface.ResolveOptions{
		Offline:     r.opts.Offline || envconfig.Offline(),
		Client:      r.opts.Hub,
		Parallelism: int(envconfig.SaveWorkers()),
		Progress: func(completed, total int64) {
			logutil.Trace("downloading", "model", r.training.ModelName, "completed", completed, "total", total)
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "resolving pretrained model %s", r.training.ModelName)
	}
	slog.Info("pretrained model", "model", pretrained)

	if err := huggingface.CheckModelType(r.training.ModelType, pretrained.Info); err != nil {
		slog.Warn("model type mismatch", "error", err)
	}
	return pretrained, nil
}

func (r *run) loadRequest(pretrained *huggingface.Resolved, db *databunch.DataBunch, ms []metrics.Metric, placement discover.Placement) (learner.LoadRequest, error) {
	req := learner.LoadRequest{
		DataBunch:      db.Spec(),
		PretrainedPath: pretrained.Path,
		ModelType:      r.training.ModelType,
		Metrics:        ms,

		Device:       placement.Device,
		MultiGPU:     placement.MultiGPU,
		ProcessGroup: placement.ProcessGroup,

		FP16:                  placement.FP16,
		FP16OptLevel:          r.training.FP16OptLevel,
		LossScale:             r.hp.LossScale,
		WarmupSteps:           r.hp.WarmupSteps,
		GradAccumulationSteps: r.training.GradAccumulationSteps,
		LoggingSteps:          r.training.LoggingSteps,
		OptimizerType:         r.hp.OptimizerType,
		MultiLabel:            r.training.MultiLabel,

		OutputDir: r.layout.OutputDir(),
	}

	if name := r.training.FinetunedModel; name != "" {
		path := r.layout.FinetunedPath(name)
		if _, err := os.Stat(path); err != nil {
			return req, errors.Wrapf(err, "finetuned model %s", name)
		}
		slog.Info("using finetuned weights", "path", path)
		req.FinetunedPath = path
	}
	return req, nil
}

func (r *run) startLearner(ctx context.Context, placement discover.Placement) (learner.Learner, error) {
	out := r.logOut
	if envconfig.KeepRunnerLogs() {
		f, err := os.OpenFile(filepath.Join(r.layout.LogDir(), "runner.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		r.runnerLog = f
		out = io.MultiWriter(out, f)
	}

	command, err := runnerCommand()
	if err != nil {
		return nil, err
	}

	return r.opts.StartLearner(ctx, learner.Options{
		Command:     command,
		Env:         placement.Env(),
		Out:         out,
		LoadTimeout: envconfig.LoadTimeout(),
	})
}

// runnerCommand gibt FASTBERT_RUNNER zurueck oder installiert den
// mitgelieferten Runner
func runnerCommand() ([]string, error) {
	if command := envconfig.Runner(); len(command) > 0 {
		return command, nil
	}

	path, err := runner.Install(filepath.Join(os.TempDir(), "fastbert-runner"))
	if err != nil {
		return nil, err
	}
	return runner.Command(envconfig.Python(), path), nil
}

func (r *run) train(ctx context.Context, lrn learner.Learner, req learner.LoadRequest) error {
	loaded, err := lrn.Load(ctx, req)
	if err != nil {
		return errors.Wrap(err, "building learner")
	}
	slog.Info("learner ready", "labels", loaded.NumLabels, "parameters", loaded.Parameters, "train_steps", loaded.TrainSteps)

	result, err := lrn.Fit(ctx, learner.FitRequest{
		Epochs:       r.hp.Epochs,
		LR:           r.hp.LR,
		ScheduleType: r.hp.LRSchedule,
		Validate:     true,
	}, func(p learner.FitProgress) {
		if p.Done {
			return
		}
		args := []any{"epoch", p.Epoch, "step", fmt.Sprintf("%d/%d", p.Step, p.TotalSteps), "loss", p.Loss, "lr", p.LR}
		for k, v := range p.Metrics {
			args = append(args, k, v)
		}
		slog.Info("training", args...)
	})
	if err != nil {
		return errors.Wrap(err, "fitting")
	}
	slog.Info("training finished", "result", result)
	return nil
}

// save schreibt die sechs Artefakte nach model/ und prueft sie
func (r *run) save(ctx context.Context, lrn learner.Learner, tok *tokenizer.Tokenizer, db *databunch.DataBunch) error {
	dir := r.layout.ModelDir()

	saved, err := lrn.Save(ctx, learner.SaveRequest{OutputDir: dir})
	if err != nil {
		return errors.Wrap(err, "saving model")
	}
	slog.Debug("model saved", "files", saved.Files)

	if _, err := tok.Save(dir); err != nil {
		return errors.Wrap(err, "saving tokenizer")
	}

	if err := artifacts.WriteLabels(dir, db.Labels); err != nil {
		return errors.Wrap(err, "saving labels")
	}

	modelConfig, err := r.training.Normalized()
	if err != nil {
		return err
	}
	if err := artifacts.WriteModelConfig(dir, modelConfig); err != nil {
		return errors.Wrap(err, "saving model config")
	}

	if _, err := artifacts.Verify(dir, artifacts.Required(tok)); err != nil {
		return errors.WithStack(err)
	}

	summary, err := checkpoint.Inspect(dir)
	if err != nil {
		return errors.Wrap(err, "inspecting saved weights")
	}
	slog.Info("checkpoint", "summary", summary)
	return errors.Wrap(checkpoint.VerifyHead(summary, len(db.Labels)), "verifying classification head")
}

func (r *run) mirror(ctx context.Context) error {
	target := envconfig.S3Output()
	if target == "" {
		return nil
	}

	client := r.opts.S3
	if client == nil {
		c, err := artifacts.NewS3(envconfig.AWSRegion())
		if err != nil {
			return errors.Wrap(err, "creating s3 client")
		}
		client = c
	}

	keys, err := artifacts.Mirror(ctx, client, r.layout.ModelDir(), target, int(envconfig.SaveWorkers()))
	if err != nil {
		return errors.Wrap(err, "mirroring artifacts")
	}
	slog.Info("artifacts mirrored", "target", target, "files", len(keys))
	return nil
}
