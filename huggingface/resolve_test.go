package huggingface

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testConfig = `{"model_type": "bert", "architectures": ["BertForMaskedLM"], "vocab_size": 5}`

// fakeHub bildet die benoetigten Hub-Endpunkte nach
type fakeHub struct {
	files    map[string]string
	sha      string
	gated    interface{}
	requests atomic.Int32
	failures atomic.Int32 // Anzahl 500er vor dem Erfolg

	active    atomic.Int32
	maxActive atomic.Int32
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.requests.Add(1)
	switch {
	case r.URL.Path == "/api/models/bert-base-uncased":
		info := APIModelInfo{ID: "bert-base-uncased", SHA: h.sha, Gated: h.gated}
		for name, content := range h.files {
			info.Siblings = append(info.Siblings, APISibling{Filename: name, Size: int64(len(content))})
		}
		json.NewEncoder(w).Encode(info)
	case strings.HasPrefix(r.URL.Path, "/bert-base-uncased/resolve/"):
		n := h.active.Add(1)
		defer h.active.Add(-1)
		for {
			m := h.maxActive.Load()
			if n <= m || h.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if h.failures.Load() > 0 {
			h.failures.Add(-1)
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		content, ok := h.files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content))
	default:
		http.NotFound(w, r)
	}
}

func newFakeHub(t *testing.T) (*fakeHub, *Client) {
	t.Helper()
	t.Setenv("HF_HUB_CACHE", t.TempDir())
	t.Setenv(EnvHFToken, "")
	t.Setenv(EnvHFEndpoint, "")

	orig := DownloadRetryDelay
	DownloadRetryDelay = time.Millisecond
	t.Cleanup(func() { DownloadRetryDelay = orig })

	hub := &fakeHub{
		sha: "0123abcd",
		files: map[string]string{
			"config.json":             testConfig,
			"vocab.txt":               "[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\n",
			"tokenizer_config.json":   `{"do_lower_case": true}`,
			"pytorch_model.bin":       "torch",
			"model.safetensors":       "safe",
			"tf_model.h5":             "tensorflow",
			"special_tokens_map.json": `{}`,
		},
	}
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, NewClient(WithBaseURL(srv.URL))
}

// TestResolvePreloaded prueft dass ein vorgeladenes Verzeichnis gewinnt
func TestResolvePreloaded(t *testing.T) {
	hub, client := newFakeHub(t)

	root := t.TempDir()
	dir := filepath.Join(root, "bert-base-uncased")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "config.json"), []byte(testConfig), 0o644)
	os.WriteFile(filepath.Join(dir, "pytorch_model.bin"), []byte("x"), 0o644)

	r, err := ResolvePretrained(t.Context(), dir, "bert-base-uncased", ResolveOptions{Client: client})
	if err != nil {
		t.Fatalf("ResolvePretrained fehlgeschlagen: %v", err)
	}
	if r.Source != SourcePreloaded || r.Path != dir {
		t.Errorf("Source/Path = %s/%s, erwartet preloaded/%s", r.Source, r.Path, dir)
	}
	if r.ModelType != ModelTypeBERT || r.Info.ModelID != "bert-base-uncased" {
		t.Errorf("ModelType/ModelID = %s/%s", r.ModelType, r.Info.ModelID)
	}
	if hub.requests.Load() != 0 {
		t.Errorf("Hub sollte nicht kontaktiert werden, %d Requests", hub.requests.Load())
	}
}

// TestResolveDownload prueft Download, Dateiauswahl und anschliessenden Cache-Treffer
func TestResolveDownload(t *testing.T) {
	hub, client := newFakeHub(t)
	hub.failures.Store(1)

	var progressCalls atomic.Int32
	opts := ResolveOptions{
		Client:   client,
		Progress: func(downloaded, total int64) { progressCalls.Add(1) },
	}
	r, err := ResolvePretrained(t.Context(), t.TempDir(), "bert-base-uncased", opts)
	if err != nil {
		t.Fatalf("ResolvePretrained fehlgeschlagen: %v", err)
	}
	if r.Source != SourceHub {
		t.Errorf("Source = %s, erwartet hub", r.Source)
	}
	if filepath.Base(r.Path) != hub.sha {
		t.Errorf("Snapshot %s sollte unter dem Commit-Hash liegen", r.Path)
	}

	// safetensors bevorzugt, kein zweites Gewichtsformat, kein TF
	for _, name := range []string{"pytorch_model.bin", "tf_model.h5"} {
		if _, err := os.Stat(filepath.Join(r.Path, name)); !os.IsNotExist(err) {
			t.Errorf("%s sollte nicht heruntergeladen werden", name)
		}
	}
	weights, err := FindWeights(r.Path)
	if err != nil || filepath.Base(weights) != "model.safetensors" {
		t.Errorf("FindWeights = %s, %v", weights, err)
	}
	if _, err := os.Stat(filepath.Join(r.Path, "vocab.txt")); err != nil {
		t.Errorf("vocab.txt fehlt: %v", err)
	}
	if progressCalls.Load() == 0 {
		t.Error("Progress-Callback wurde nie aufgerufen")
	}

	// Zweiter Aufruf kommt aus dem Cache
	before := hub.requests.Load()
	r2, err := ResolvePretrained(t.Context(), "", "bert-base-uncased", opts)
	if err != nil {
		t.Fatalf("ResolvePretrained (cache) fehlgeschlagen: %v", err)
	}
	if r2.Source != SourceCache || r2.Path != r.Path {
		t.Errorf("Source/Path = %s/%s, erwartet cache/%s", r2.Source, r2.Path, r.Path)
	}
	if hub.requests.Load() != before {
		t.Error("Cache-Treffer sollte keinen Request ausloesen")
	}
}

// TestResolveOffline prueft dass im Offline-Modus nichts heruntergeladen wird
func TestResolveOffline(t *testing.T) {
	hub, client := newFakeHub(t)

	_, err := ResolvePretrained(t.Context(), t.TempDir(), "bert-base-uncased", ResolveOptions{Client: client, Offline: true})
	if !errors.Is(err, ErrOffline) {
		t.Errorf("Erwartete ErrOffline, erhalten %v", err)
	}
	if hub.requests.Load() != 0 {
		t.Error("Offline-Modus darf den Hub nicht kontaktieren")
	}
}

// TestResolveUnknownModel prueft die Fehlerabbildung bei 404
func TestResolveUnknownModel(t *testing.T) {
	_, client := newFakeHub(t)

	_, err := ResolvePretrained(t.Context(), "", "does-not-exist", ResolveOptions{Client: client})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Erwartete ErrModelNotFound, erhalten %v", err)
	}
}

// TestResolveOfflineListsCache prueft den Hinweis auf gecachte Modelle
func TestResolveOfflineListsCache(t *testing.T) {
	_, client := newFakeHub(t)
	if err := os.MkdirAll(filepath.Join(GetCacheDir(), modelIDToCacheDir("distilbert/distilroberta-base")), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := ResolvePretrained(t.Context(), "", "bert-base-uncased", ResolveOptions{Client: client, Offline: true})
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("Erwartete ErrOffline, erhalten %v", err)
	}
	if !strings.Contains(err.Error(), "cached: distilbert/distilroberta-base") {
		t.Errorf("Fehler nennt gecachte Modelle nicht: %v", err)
	}
}

// TestResolveGated prueft dass gated Modelle ohne Token frueh abbrechen
func TestResolveGated(t *testing.T) {
	for _, gated := range []interface{}{true, "manual", "auto"} {
		hub, client := newFakeHub(t)
		hub.gated = gated

		_, err := ResolvePretrained(t.Context(), "", "bert-base-uncased", ResolveOptions{Client: client})
		if !errors.Is(err, ErrGatedModel) {
			t.Errorf("gated=%v: Erwartete ErrGatedModel, erhalten %v", gated, err)
		}
		if err != nil && !strings.Contains(err.Error(), "gated model needs HF_TOKEN") {
			t.Errorf("gated=%v: Fehlermeldung = %v", gated, err)
		}
		if hub.requests.Load() != 1 {
			t.Errorf("gated=%v: nur Model-Info erwartet, %d Requests", gated, hub.requests.Load())
		}
	}

	// Mit Token wird heruntergeladen
	hub, _ := newFakeHub(t)
	hub.gated = "manual"
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Setenv(EnvHFToken, "hf_secret")
	r, err := ResolvePretrained(t.Context(), "", "bert-base-uncased", ResolveOptions{Client: NewClient(WithBaseURL(srv.URL))})
	if err != nil {
		t.Fatalf("ResolvePretrained mit Token fehlgeschlagen: %v", err)
	}
	if r.Source != SourceHub {
		t.Errorf("Source = %s, erwartet hub", r.Source)
	}
}

// TestResolveParallelism prueft die Begrenzung gleichzeitiger Downloads
func TestResolveParallelism(t *testing.T) {
	hub, client := newFakeHub(t)

	if _, err := ResolvePretrained(t.Context(), "", "bert-base-uncased", ResolveOptions{Client: client, Parallelism: 1}); err != nil {
		t.Fatalf("ResolvePretrained fehlgeschlagen: %v", err)
	}
	if got := hub.maxActive.Load(); got != 1 {
		t.Errorf("maximal %d gleichzeitige Downloads, erwartet 1", got)
	}
}

// TestValidateModelID testet die Validierung von Hub-IDs
func TestValidateModelID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"bert-base-uncased", false},
		{"google/electra-small-discriminator", false},
		{"", true},
		{"a/b/c", true},
		{"../etc", true},
		{"owner/", true},
		{"bad name", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := validateModelID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateModelID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidModelID) {
				t.Errorf("Erwartete ErrInvalidModelID, erhalten %v", err)
			}
		})
	}
}
