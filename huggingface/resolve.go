// resolve.go - Aufloesen des vortrainierten Checkpoints
//
// Reihenfolge: vorgeladenes Verzeichnis im Container, HF-Cache, Hub-Download.
package huggingface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Herkunft eines aufgeloesten Checkpoints
const (
	SourcePreloaded = "preloaded"
	SourceCache     = "cache"
	SourceHub       = "hub"
)

// Gewichtsdateien in Reihenfolge der Praeferenz
var WeightFiles = []string{"model.safetensors", "pytorch_model.bin"}

// TokenizerFiles sind alle Dateien, die ein Tokenizer mitbringen kann
var TokenizerFiles = []string{
	"vocab.txt",
	"tokenizer.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
	"vocab.json",
	"merges.txt",
	"spiece.model",
	"sentencepiece.bpe.model",
}

// ErrOffline wird zurueckgegeben, wenn ein Download noetig waere
var ErrOffline = errors.New("modell nicht lokal vorhanden und offline-modus aktiv")

// ResolveOptions steuert die Aufloesung
type ResolveOptions struct {
	Revision string
	Offline  bool
	Client   *Client
	Progress ProgressCallback
	// Parallelism begrenzt gleichzeitige Datei-Downloads, 0 heisst DefaultParallelism
	Parallelism int
}

// Resolved beschreibt einen lokal verfuegbaren Checkpoint
type Resolved struct {
	Name      string
	Path      string
	Source    string
	ModelType string
	Info      *ConfigModelInfo
}

// LogValue implementiert slog.LogValuer
func (r *Resolved) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", r.Name),
		slog.String("path", r.Path),
		slog.String("source", r.Source),
		slog.String("model_type", r.ModelType),
	)
}

// ResolvePretrained findet den Checkpoint name. preloadedDir ist das
// Verzeichnis, in dem der Container das Modell mitliefern wuerde.
func ResolvePretrained(ctx context.Context, preloadedDir, name string, opts ResolveOptions) (*Resolved, error) {
	if opts.Revision == "" {
		opts.Revision = "main"
	}

	if preloadedDir != "" && isCheckpointDir(preloadedDir) {
		slog.Info("model path used", "path", preloadedDir)
		return resolved(name, preloadedDir, SourcePreloaded)
	}

	if dir, ok := GetCachedModelWithRevision(name, opts.Revision); ok && isCheckpointDir(dir) {
		slog.Info("model path used", "path", dir, "source", SourceCache)
		return resolved(name, dir, SourceCache)
	}

	if opts.Offline {
		return nil, &HuggingFaceError{Op: "resolve", ModelID: name, Err: offlineError()}
	}

	slog.Info("model is not preloaded. Will try to download.", "model", name)
	client := opts.Client
	if client == nil {
		client = NewClient()
	}

	info, err := client.GetModelInfoWithContext(ctx, name)
	if err != nil {
		return nil, &HuggingFaceError{Op: "resolve", ModelID: name, Err: err}
	}
	if info.IsGated() && !client.HasToken() {
		return nil, &HuggingFaceError{Op: "resolve", ModelID: name, Err: ErrGatedModel}
	}
	files := selectPretrainedFiles(info.Siblings)
	if !slices.Contains(files, "config.json") {
		return nil, &HuggingFaceError{Op: "resolve", ModelID: name, Err: ErrConfigNotFound}
	}

	result, err := client.DownloadModelWithContext(ctx, name,
		withModelInfo(info),
		WithDownloadRevision(opts.Revision),
		WithDownloadFiles(files...),
		WithDownloadProgress(opts.Progress),
		WithDownloadParallelism(opts.Parallelism),
	)
	if err != nil {
		return nil, err
	}
	return resolved(name, result.CachePath, SourceHub)
}

// offlineError nennt die Modelle, die im Cache liegen
func offlineError() error {
	models, err := ListCachedModels()
	if err != nil || len(models) == 0 {
		return ErrOffline
	}
	return fmt.Errorf("%w (cached: %s)", ErrOffline, strings.Join(models, ", "))
}

func resolved(name, dir, source string) (*Resolved, error) {
	modelType, info, err := DetectFromDirectory(dir)
	if err != nil {
		return nil, err
	}
	info.ModelID = name
	return &Resolved{Name: name, Path: dir, Source: source, ModelType: modelType, Info: info}, nil
}

// isCheckpointDir prueft ob config.json und eine Gewichtsdatei existieren
func isCheckpointDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		return false
	}
	_, err := FindWeights(dir)
	return err == nil
}

// FindWeights gibt den Pfad der bevorzugten Gewichtsdatei in dir zurueck
func FindWeights(dir string) (string, error) {
	for _, name := range WeightFiles {
		path := filepath.Join(dir, name)
		if stat, err := os.Stat(path); err == nil && !stat.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: keine gewichte in %s", ErrFileNotFound, dir)
}

// selectPretrainedFiles waehlt config, Tokenizer-Dateien und genau eine
// Gewichtsdatei aus dem Repository.
func selectPretrainedFiles(siblings []APISibling) []string {
	available := make(map[string]bool, len(siblings))
	for _, s := range siblings {
		available[s.Filename] = true
	}

	var files []string
	if available["config.json"] {
		files = append(files, "config.json")
	}
	for _, name := range TokenizerFiles {
		if available[name] {
			files = append(files, name)
		}
	}
	for _, name := range WeightFiles {
		if available[name] {
			files = append(files, name)
			break
		}
	}
	return files
}

// withModelInfo verwendet bereits abgerufene Metadaten
func withModelInfo(info *APIModelInfo) DownloadOption {
	return func(cfg *downloadConfig) { cfg.info = info }
}
