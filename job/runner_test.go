package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastbert/trainer/layout"
	"github.com/fastbert/trainer/learner"
	"github.com/fastbert/trainer/learner/learnertest"
	"github.com/fastbert/trainer/runner"
)

// TestHelperRunner ist der Runner-Prozess fuer die Tests mit echtem
// Subprocess. Die Test-Binary startet sich selbst mit FASTBERT_TEST_RUNNER.
func TestHelperRunner(t *testing.T) {
	if os.Getenv("FASTBERT_TEST_RUNNER") == "" {
		return
	}

	if err := learnertest.ListenAndServe(os.Args, &learner.MockLearner{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(0)
}

func TestMainWithRunnerProcess(t *testing.T) {
	l := setupJob(t, false)
	t.Setenv("FASTBERT_TEST_RUNNER", "serve")
	t.Setenv("FASTBERT_RUNNER", strings.Join([]string{os.Args[0], "-test.run=^TestHelperRunner$", "--"}, " "))
	t.Setenv("FASTBERT_LOAD_TIMEOUT", "30s")

	var stderr strings.Builder
	opts := testOptions(l, nil, &stderr)
	opts.StartLearner = nil
	// Runner-Ausgabe und Log laufen nebenlaeufig in Stdout
	opts.Stdout = io.Discard

	code := Main(t.Context(), opts)
	require.Equal(t, 0, code, "Fehler:\n%s", stderr.String())

	for _, name := range []string{"model.safetensors", "config.json", "vocab.txt", "special_tokens_map.json", "labels.csv", "model_config.json"} {
		assert.FileExists(t, filepath.Join(l.ModelDir(), name))
	}
	assert.NoFileExists(t, l.FailureFile())
}

func TestMainBundledRunner(t *testing.T) {
	l := setupJob(t, false)
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	t.Setenv("FASTBERT_RUNNER", "")
	t.Setenv("FASTBERT_PYTHON", "fastbert-python-does-not-exist")

	var stderr strings.Builder
	opts := testOptions(l, nil, &stderr)
	opts.StartLearner = nil

	assert.Equal(t, 255, Main(t.Context(), opts))

	b, err := os.ReadFile(l.FailureFile())
	require.NoError(t, err)
	assert.Contains(t, string(b), "Exception during training: starting learner: error starting runner: unable to find runner executable")

	script, err := os.ReadFile(filepath.Join(tmp, "fastbert-runner", runner.ScriptName))
	require.NoError(t, err, "mitgelieferter Runner wurde nicht installiert")
	assert.Equal(t, runner.Script(), script)
}

func TestMainFinetunedModel(t *testing.T) {
	withFinetuned := func(t *testing.T, l layout.Layout) {
		b, err := os.ReadFile(l.TrainingConfig())
		require.NoError(t, err)
		writeFile(t, l.TrainingConfig(), strings.Replace(string(b), `"label_file": "labels.csv"`, `"label_file": "labels.csv", "finetuned_model": "lm.bin"`, 1))
	}

	t.Run("Vorhanden", func(t *testing.T) {
		l := setupJob(t, false)
		withFinetuned(t, l)
		writeFile(t, l.FinetunedPath("lm.bin"), "weights")

		mock := &learner.MockLearner{}
		var out strings.Builder
		require.Equal(t, 0, Main(t.Context(), testOptions(l, mock, &out)), "Ausgabe:\n%s", out.String())
		assert.Equal(t, l.FinetunedPath("lm.bin"), mock.LoadRequests[0].FinetunedPath)
		assert.Contains(t, out.String(), "using finetuned weights")
	})

	t.Run("Fehlt", func(t *testing.T) {
		l := setupJob(t, false)
		withFinetuned(t, l)

		mock := &learner.MockLearner{}
		var out strings.Builder
		assert.Equal(t, 255, Main(t.Context(), testOptions(l, mock, &out)))
		assert.Zero(t, mock.LoadCalls)

		b, err := os.ReadFile(l.FailureFile())
		require.NoError(t, err)
		assert.Contains(t, string(b), "Exception during training: finetuned model lm.bin")
	})

	t.Run("Nicht gesetzt", func(t *testing.T) {
		l := setupJob(t, false)
		mock := &learner.MockLearner{}
		var out strings.Builder
		require.Equal(t, 0, Main(t.Context(), testOptions(l, mock, &out)))
		assert.Empty(t, mock.LoadRequests[0].FinetunedPath)
	})
}

// recordingS3 zeichnet hochgeladene Keys auf
type recordingS3 struct {
	s3iface.S3API

	mu   sync.Mutex
	keys []string
	err  error
}

func (f *recordingS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := io.Copy(io.Discard, in.Body); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func TestMainMirror(t *testing.T) {
	t.Run("Hochgeladen", func(t *testing.T) {
		l := setupJob(t, false)
		t.Setenv("FASTBERT_S3_OUTPUT", "s3://models/imdb/")
		t.Setenv("FASTBERT_SAVE_WORKERS", "2")

		client := &recordingS3{}
		var out strings.Builder
		opts := testOptions(l, &learner.MockLearner{}, &out)
		opts.S3 = client

		require.Equal(t, 0, Main(t.Context(), opts), "Ausgabe:\n%s", out.String())

		slices.Sort(client.keys)
		assert.Equal(t, []string{
			"models/imdb/config.json",
			"models/imdb/labels.csv",
			"models/imdb/model.safetensors",
			"models/imdb/model_config.json",
			"models/imdb/special_tokens_map.json",
			"models/imdb/tokenizer_config.json",
			"models/imdb/vocab.txt",
		}, client.keys)
		assert.Contains(t, out.String(), "artifacts mirrored")
	})

	t.Run("Upload schlaegt fehl", func(t *testing.T) {
		l := setupJob(t, false)
		t.Setenv("FASTBERT_S3_OUTPUT", "s3://models/imdb")

		var out strings.Builder
		opts := testOptions(l, &learner.MockLearner{}, &out)
		opts.S3 = &recordingS3{err: fmt.Errorf("AccessDenied")}

		assert.Equal(t, 255, Main(t.Context(), opts))
		b, err := os.ReadFile(l.FailureFile())
		require.NoError(t, err)
		assert.Contains(t, string(b), "mirroring artifacts")
		assert.Contains(t, string(b), "AccessDenied")
	})
}

// corruptingLearner schreibt nach dem Speichern unlesbare Gewichte
type corruptingLearner struct {
	*learner.MockLearner
}

func (c corruptingLearner) Save(ctx context.Context, req learner.SaveRequest) (*learner.SaveResponse, error) {
	resp, err := c.MockLearner.Save(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, os.WriteFile(filepath.Join(req.OutputDir, "model.safetensors"), []byte("not a checkpoint"), 0o644)
}

func TestMainUnreadableWeights(t *testing.T) {
	l := setupJob(t, false)
	var out strings.Builder
	opts := testOptions(l, nil, &out)
	opts.StartLearner = func(context.Context, learner.Options) (learner.Learner, error) {
		return corruptingLearner{&learner.MockLearner{}}, nil
	}

	assert.Equal(t, 255, Main(t.Context(), opts))
	b, err := os.ReadFile(l.FailureFile())
	require.NoError(t, err)
	assert.Contains(t, string(b), "Exception during training: inspecting saved weights")
}
