// cache.go - Cache-Management fuer HuggingFace Modelle
// Kompatibel mit der Python huggingface_hub Cache-Struktur:
//
//	<cache>/models--owner--name/refs/<revision>       enthaelt den Commit-Hash
//	<cache>/models--owner--name/snapshots/<hash>/...  Dateien
package huggingface

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Cache-Konstanten
const (
	DefaultCacheSubdir = "huggingface/hub"
	CacheRefDir        = "refs"
	CacheSnapshotDir   = "snapshots"
	CacheModelPrefix   = "models--"
)

// Cache-Fehler
var (
	ErrModelNotInCache = errors.New("modell nicht im cache")
)

// GetCacheDir gibt das Cache-Verzeichnis zurueck
func GetCacheDir() string {
	if cacheDir := os.Getenv("HF_HUB_CACHE"); cacheDir != "" {
		return cacheDir
	}
	if hfHome := os.Getenv(EnvHFHome); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	return getDefaultCacheDir()
}

func getDefaultCacheDir() string {
	var baseDir string
	switch runtime.GOOS {
	case "windows":
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			baseDir = filepath.Join(userProfile, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			baseDir = xdgCache
		} else if home, err := os.UserHomeDir(); err == nil {
			baseDir = filepath.Join(home, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	}
	return filepath.Join(baseDir, DefaultCacheSubdir)
}

// GetCachedModelWithRevision prueft den Cache fuer eine spezifische Revision.
// Die Revision wird ueber refs/ aufgeloest, falls vorhanden.
func GetCachedModelWithRevision(modelID, revision string) (string, bool) {
	snapshot := snapshotPath(modelID, revision)
	if stat, err := os.Stat(snapshot); err == nil && stat.IsDir() {
		if entries, err := os.ReadDir(snapshot); err == nil && len(entries) > 0 {
			return snapshot, true
		}
	}
	return "", false
}

// ListCachedModels gibt eine Liste aller gecachten Modelle zurueck
func ListCachedModels() ([]string, error) {
	cacheDir := GetCacheDir()
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		return []string{}, nil
	}
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("cache lesen fehlgeschlagen: %w", err)
	}
	var models []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), CacheModelPrefix) {
			models = append(models, cacheDirToModelID(entry.Name()))
		}
	}
	return models, nil
}

// snapshotPath gibt das Snapshot-Verzeichnis einer Revision zurueck
func snapshotPath(modelID, revision string) string {
	modelDir := filepath.Join(GetCacheDir(), modelIDToCacheDir(modelID))
	if ref, err := os.ReadFile(filepath.Join(modelDir, CacheRefDir, revision)); err == nil {
		if commit := strings.TrimSpace(string(ref)); commit != "" {
			return filepath.Join(modelDir, CacheSnapshotDir, commit)
		}
	}
	return filepath.Join(modelDir, CacheSnapshotDir, revision)
}

// writeRef merkt sich den Commit-Hash einer Revision
func writeRef(modelID, revision, commit string) error {
	refPath := filepath.Join(GetCacheDir(), modelIDToCacheDir(modelID), CacheRefDir, revision)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(refPath, []byte(commit), 0o644)
}

func modelIDToCacheDir(modelID string) string {
	return CacheModelPrefix + strings.ReplaceAll(modelID, "/", "--")
}

func cacheDirToModelID(cacheDir string) string {
	return strings.Replace(strings.TrimPrefix(cacheDir, CacheModelPrefix), "--", "/", 1)
}
