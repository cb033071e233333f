// download.go - Download-Logik fuer HuggingFace Modelle mit Progress-Callback
// Unterstuetzt Progress-Callbacks, Revisions, Resume und parallele Downloads.
package huggingface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Download-Konstanten
const (
	DefaultChunkSize       = 1024 * 1024 // 1 MB
	MaxDownloadRetries     = 3
	ProgressUpdateInterval = 100 * time.Millisecond
	DefaultParallelism     = 4
)

// DownloadRetryDelay ist eine Variable, damit Tests nicht warten muessen
var DownloadRetryDelay = 2 * time.Second

// ModelDownloadResult enthaelt das Ergebnis eines Model-Downloads
type ModelDownloadResult struct {
	ModelID      string
	Revision     string
	CachePath    string
	Files        []DownloadedFile
	TotalSize    int64
	DownloadTime time.Duration
}

// DownloadedFile repraesentiert eine heruntergeladene Datei
type DownloadedFile struct {
	Filename  string
	LocalPath string
	Size      int64
	FromCache bool
}

// ProgressCallback wird waehrend des Downloads aufgerufen
type ProgressCallback func(downloaded, total int64)

// DownloadOption konfiguriert einen Download
type DownloadOption func(*downloadConfig)

type downloadConfig struct {
	revision    string
	files       []string
	progressFn  ProgressCallback
	parallelism int
	info        *APIModelInfo
}

// WithDownloadRevision setzt die Git-Revision fuer den Download
func WithDownloadRevision(revision string) DownloadOption {
	return func(cfg *downloadConfig) {
		if revision != "" {
			cfg.revision = revision
		}
	}
}

// WithDownloadFiles begrenzt den Download auf spezifische Dateien
func WithDownloadFiles(files ...string) DownloadOption {
	return func(cfg *downloadConfig) { cfg.files = files }
}

// WithDownloadProgress setzt den Progress-Callback
func WithDownloadProgress(fn ProgressCallback) DownloadOption {
	return func(cfg *downloadConfig) { cfg.progressFn = fn }
}

// WithDownloadParallelism setzt die Anzahl paralleler Downloads
func WithDownloadParallelism(n int) DownloadOption {
	return func(cfg *downloadConfig) {
		if n > 0 {
			cfg.parallelism = n
		}
	}
}

// DownloadModelWithContext laedt die ausgewaehlten Dateien eines Modells in den
// Cache. Bereits vorhandene Dateien mit passender Groesse werden uebersprungen.
func (c *Client) DownloadModelWithContext(ctx context.Context, modelID string, opts ...DownloadOption) (*ModelDownloadResult, error) {
	startTime := time.Now()
	cfg := &downloadConfig{revision: "main", parallelism: DefaultParallelism}
	for _, opt := range opts {
		opt(cfg)
	}

	info := cfg.info
	if info == nil {
		var err error
		if info, err = c.GetModelInfoWithContext(ctx, modelID); err != nil {
			return nil, &HuggingFaceError{Op: "download", ModelID: modelID, Err: err}
		}
	}
	filesToDownload := filterDownloadFiles(info.Siblings, cfg)
	if len(filesToDownload) == 0 {
		return nil, &HuggingFaceError{Op: "download", ModelID: modelID, Err: ErrFileNotFound}
	}

	// Der Snapshot liegt unter dem Commit-Hash, refs/<revision> zeigt darauf
	commit := cfg.revision
	if info.SHA != "" {
		commit = info.SHA
		if err := writeRef(modelID, cfg.revision, info.SHA); err != nil {
			return nil, fmt.Errorf("ref schreiben fehlgeschlagen: %w", err)
		}
	}
	snapshotDir := snapshotPath(modelID, commit)

	var totalSize int64
	for _, f := range filesToDownload {
		totalSize += f.Size
	}

	var downloadedBytes int64
	var progressMu sync.Mutex
	lastProgressUpdate := time.Now()
	updateProgress := func(bytes int64) {
		if cfg.progressFn == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		downloadedBytes += bytes
		now := time.Now()
		if now.Sub(lastProgressUpdate) >= ProgressUpdateInterval {
			cfg.progressFn(downloadedBytes, totalSize)
			lastProgressUpdate = now
		}
	}

	results := make([]DownloadedFile, len(filesToDownload))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.parallelism)
	for i, f := range filesToDownload {
		g.Go(func() error {
			localPath := filepath.Join(snapshotDir, f.Filename)
			fromCache := false
			if stat, err := os.Stat(localPath); err == nil && (f.Size == 0 || stat.Size() == f.Size) {
				fromCache = true
				updateProgress(stat.Size())
			} else if err := c.downloadFileWithProgress(gctx, modelID, f.Filename, commit, localPath, updateProgress); err != nil {
				return fmt.Errorf("download von %s fehlgeschlagen: %w", f.Filename, err)
			}
			results[i] = DownloadedFile{Filename: f.Filename, LocalPath: localPath, Size: f.Size, FromCache: fromCache}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &HuggingFaceError{Op: "download", ModelID: modelID, Err: err}
	}

	if cfg.progressFn != nil {
		cfg.progressFn(totalSize, totalSize)
	}
	slog.Debug("model downloaded", "model", modelID, "revision", cfg.revision, "files", len(results), "bytes", totalSize)
	return &ModelDownloadResult{
		ModelID: modelID, Revision: cfg.revision, CachePath: snapshotDir,
		Files: results, TotalSize: totalSize, DownloadTime: time.Since(startTime),
	}, nil
}

func (c *Client) downloadFileWithProgress(ctx context.Context, modelID, filename, revision, targetPath string, progressFn func(int64)) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("verzeichnis erstellen fehlgeschlagen: %w", err)
	}
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, modelID, revision, filename)
	var lastErr error
	for attempt := range MaxDownloadRetries {
		if attempt > 0 {
			slog.Debug("retrying download", "file", filename, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(DownloadRetryDelay):
			}
		}
		err := c.doDownload(ctx, url, targetPath, progressFn)
		if err == nil {
			return nil
		}
		lastErr = err
		// 404 und 401 werden durch Wiederholen nicht besser
		if isPermanent(err) {
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrDownloadFailed, lastErr)
}

func isPermanent(err error) bool {
	for _, target := range []error{ErrModelNotFound, ErrUnauthorized} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (c *Client) doDownload(ctx context.Context, url, targetPath string, progressFn func(int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	var existingSize int64
	tmpPath := targetPath + ".download"
	if stat, err := os.Stat(tmpPath); err == nil {
		existingSize = stat.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && existingSize > 0 {
		// Server ignoriert Range, von vorn beginnen
		existingSize = 0
		os.Remove(tmpPath)
	} else if err := c.handleResponseError(resp); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if existingSize > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	buf := make([]byte, DefaultChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if progressFn != nil {
				progressFn(int64(n))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, targetPath)
}

// filterDownloadFiles gibt ohne Auswahl alle Dateien des Repositories zurueck
func filterDownloadFiles(siblings []APISibling, cfg *downloadConfig) []APISibling {
	if len(cfg.files) == 0 {
		return siblings
	}
	fileSet := make(map[string]bool, len(cfg.files))
	for _, f := range cfg.files {
		fileSet[f] = true
	}
	var result []APISibling
	for _, s := range siblings {
		if fileSet[s.Filename] {
			result = append(result, s)
		}
	}
	return result
}
