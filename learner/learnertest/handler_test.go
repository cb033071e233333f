package learnertest

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastbert/trainer/databunch"
	"github.com/fastbert/trainer/learner"
)

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandler(t *testing.T) {
	mock := &learner.MockLearner{}
	srv := httptest.NewServer(Handler(mock))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health learner.ServerStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, learner.ServerStatusReady, health.Status)

	load, err := json.Marshal(learner.LoadRequest{DataBunch: databunch.Spec{Labels: []string{"neg", "pos"}}, ModelType: "bert"})
	require.NoError(t, err)
	resp = post(t, srv.URL+"/load", string(load))
	var loaded learner.LoadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loaded))
	assert.True(t, loaded.Success)
	assert.Equal(t, 2, loaded.NumLabels)

	resp = post(t, srv.URL+"/fit", `{"epochs": 2, "lr": 0.001}`)
	var lines []learner.FitProgress
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		require.True(t, ok, "Zeile ohne Praefix: %q", scanner.Text())
		var p learner.FitProgress
		require.NoError(t, json.Unmarshal([]byte(line), &p))
		lines = append(lines, p)
	}
	require.Len(t, lines, 3)
	assert.True(t, lines[2].Done)

	dir := t.TempDir()
	resp = post(t, srv.URL+"/save", `{"output_dir": "`+dir+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.FileExists(t, dir+"/model.safetensors")

	assert.Equal(t, 1, mock.LoadCalls)
	assert.Equal(t, 1, mock.FitCalls)
	assert.Equal(t, 1, mock.SaveCalls)
}

func TestHandlerErrors(t *testing.T) {
	mock := &learner.MockLearner{LoadErr: errors.New("no such model"), FitErr: errors.New("CUDA out of memory")}
	srv := httptest.NewServer(Handler(mock))
	defer srv.Close()

	resp := post(t, srv.URL+"/load", `{}`)
	var loaded learner.LoadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loaded))
	assert.False(t, loaded.Success)
	assert.Equal(t, "no such model", loaded.Error)

	resp = post(t, srv.URL+"/fit", `{"epochs": 1}`)
	var p learner.FitProgress
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &p))
	assert.Equal(t, "CUDA out of memory", p.Error)

	resp = post(t, srv.URL+"/load", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPort(t *testing.T) {
	port, err := Port([]string{"runner", "-test.run=x", "--", "--port", "40123"})
	require.NoError(t, err)
	assert.Equal(t, "40123", port)

	_, err = Port([]string{"runner", "--port"})
	assert.Error(t, err)
}
