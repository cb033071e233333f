package runner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastbert/trainer/learner"
)

func TestInstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runner")

	path, err := Install(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ScriptName), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Script(), b)

	// veraltete Kopie wird ersetzt
	require.NoError(t, os.WriteFile(path, []byte("print('old')"), 0o644))
	_, err = Install(dir)
	require.NoError(t, err)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Script(), b)
}

func TestScriptEndpoints(t *testing.T) {
	src := string(Script())
	for _, want := range []string{`"/health"`, `"/load"`, `"/fit"`, `"/save"`, "--port", "BertDataBunch", "BertLearner"} {
		assert.True(t, strings.Contains(src, want), "Runner kennt %s nicht", want)
	}
}

func TestCommand(t *testing.T) {
	assert.Equal(t, []string{"python3", "-u", "/tmp/r.py"}, Command("python3", "/tmp/r.py"))
}

func TestScriptStatusCodes(t *testing.T) {
	assert.Contains(t, string(Script()), "READY, LAUNCHED, LOADING, TRAINING, NOT_RESPONDING, ERROR = range(6)")

	codes := []learner.ServerStatus{
		learner.ServerStatusReady,
		learner.ServerStatusLaunched,
		learner.ServerStatusLoading,
		learner.ServerStatusTraining,
		learner.ServerStatusNotResponding,
		learner.ServerStatusError,
	}
	for i, c := range codes {
		assert.Equal(t, learner.ServerStatus(i), c, "Statuscode %s", c)
	}
}
