package artifacts

import (
	"errors"
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
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vocab []string

func (v vocab) VocabFiles() []string { return v }

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestWriteLabels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteLabels(dir, []string{"neg", "pos", "neutral"}))

	b, err := os.ReadFile(filepath.Join(dir, LabelsFile))
	require.NoError(t, err)
	assert.Equal(t, "neg\npos\nneutral", string(b))
}

func TestRequired(t *testing.T) {
	got := Required(vocab{"vocab.json", "merges.txt"})
	want := []Requirement{
		{"model.safetensors", "pytorch_model.bin"},
		{"config.json"},
		{"vocab.json"},
		{"merges.txt"},
		{"special_tokens_map.json"},
		{"labels.csv"},
		{"model_config.json"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Required falsch (-want +got):\n%s", diff)
	}
}

func TestVerify(t *testing.T) {
	required := Required(vocab{"vocab.txt"})

	tests := []struct {
		name    string
		files   map[string]string
		missing []string
	}{
		{
			name: "Alle vorhanden",
			files: map[string]string{
				"pytorch_model.bin":       "x",
				"config.json":             "{}",
				"vocab.txt":               "[PAD]",
				"special_tokens_map.json": "{}",
				"labels.csv":              "a",
				"model_config.json":       "{}",
			},
		},
		{
			name: "Leere und fehlende Dateien",
			files: map[string]string{
				"model.safetensors":       "x",
				"config.json":             "{}",
				"vocab.txt":               "",
				"special_tokens_map.json": "{}",
			},
			missing: []string{"vocab.txt", "labels.csv", "model_config.json"},
		},
		{
			name:    "Keine Gewichte",
			files:   map[string]string{"config.json": "{}"},
			missing: []string{"model.safetensors or pytorch_model.bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)

			_, err := Verify(dir, required)
			if len(tt.missing) == 0 {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrMissing)
			for _, m := range tt.missing {
				assert.Contains(t, err.Error(), m)
			}
		})
	}
}

func TestVerifyBPE(t *testing.T) {
	files := map[string]string{
		"model.safetensors":       "x",
		"config.json":             "{}",
		"vocab.json":              `{"<s>": 0}`,
		"special_tokens_map.json": "{}",
		"labels.csv":              "a",
		"model_config.json":       "{}",
	}

	dir := t.TempDir()
	writeFiles(t, dir, files)

	_, err := Verify(dir, Required(vocab{"vocab.json", "merges.txt"}))
	require.ErrorIs(t, err, ErrMissing, "vocab.json allein reicht nicht")
	assert.Contains(t, err.Error(), "merges.txt")
	assert.NotContains(t, err.Error(), "vocab.json")

	writeFiles(t, dir, map[string]string{"merges.txt": "#version: 0.2\n"})
	got, err := Verify(dir, Required(vocab{"vocab.json", "merges.txt"}))
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestSummary(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"config.json": "{}",
		"labels.csv":  strings.Repeat("x", 1500),
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "logs"), 0o755))

	var sb strings.Builder
	require.NoError(t, Summary(&sb, dir))

	out := sb.String()
	assert.Contains(t, out, "ARTIFACT")
	assert.Contains(t, out, "config.json")
	assert.Contains(t, out, "1.5 KB")
	assert.NotContains(t, out, "logs")
	assert.Contains(t, out, "2 files")
}

// fakeS3 zeichnet PutObject-Aufrufe auf
type fakeS3 struct {
	s3iface.S3API

	mu   sync.Mutex
	puts map[string]string
	err  error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestMirror(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"config.json": "{}", "labels.csv": "a\nb"})

	client := &fakeS3{puts: map[string]string{}}
	keys, err := Mirror(t.Context(), client, dir, "s3://models/run-1/", 2)
	require.NoError(t, err)

	slices.Sort(keys)
	assert.Equal(t, []string{"run-1/config.json", "run-1/labels.csv"}, keys)
	assert.Equal(t, map[string]string{
		"models/run-1/config.json": "{}",
		"models/run-1/labels.csv":  "a\nb",
	}, client.puts)

	client.err = errors.New("access denied")
	_, err = Mirror(t.Context(), client, dir, "s3://models/run-1", 2)
	assert.ErrorContains(t, err, "access denied")
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in     string
		bucket string
		prefix string
		ok     bool
	}{
		{"s3://bucket", "bucket", "", true},
		{"s3://bucket/a/b/", "bucket", "a/b", true},
		{"https://bucket/a", "", "", false},
		{"s3:///a", "", "", false},
	}

	for _, tt := range tests {
		bucket, prefix, err := ParseS3URL(tt.in)
		if tt.ok != (err == nil) {
			t.Fatalf("ParseS3URL(%q) Fehler = %v, erwartet ok=%v", tt.in, err, tt.ok)
		}
		if bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseS3URL(%q) = %q, %q; erwartet %q, %q", tt.in, bucket, prefix, tt.bucket, tt.prefix)
		}
	}
}
