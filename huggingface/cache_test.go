// cache_test.go - Unit Tests fuer Cache-Management
package huggingface

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestGetCacheDir testet die Ermittlung des Cache-Verzeichnisses
func TestGetCacheDir(t *testing.T) {
	tests := []struct {
		name         string
		hfHubCache   string
		hfHome       string
		wantContains string
	}{
		{
			name:         "HF_HUB_CACHE hat Prioritaet",
			hfHubCache:   "/custom/cache/path",
			hfHome:       "/other/path",
			wantContains: "/custom/cache/path",
		},
		{
			name:         "HF_HOME wird verwendet wenn HF_HUB_CACHE leer",
			hfHome:       "/hf/home",
			wantContains: filepath.Join("/hf/home", "hub"),
		},
		{
			name:         "Default wird verwendet wenn beide leer",
			wantContains: "huggingface",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HF_HUB_CACHE", tt.hfHubCache)
			t.Setenv(EnvHFHome, tt.hfHome)

			result := GetCacheDir()
			if !strings.Contains(result, tt.wantContains) {
				t.Errorf("GetCacheDir() = %v, sollte %v enthalten", result, tt.wantContains)
			}
		})
	}
}

// TestCacheDirRoundTrip testet Hin- und Rueckkonvertierung
func TestCacheDirRoundTrip(t *testing.T) {
	tests := []struct {
		modelID  string
		cacheDir string
	}{
		{"bert-base-uncased", "models--bert-base-uncased"},
		{"google/electra-small-discriminator", "models--google--electra-small-discriminator"},
		{"FacebookAI/xlm-roberta-base", "models--FacebookAI--xlm-roberta-base"},
	}

	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			if got := modelIDToCacheDir(tt.modelID); got != tt.cacheDir {
				t.Errorf("modelIDToCacheDir(%q) = %q, erwartet %q", tt.modelID, got, tt.cacheDir)
			}
			if got := cacheDirToModelID(tt.cacheDir); got != tt.modelID {
				t.Errorf("cacheDirToModelID(%q) = %q, erwartet %q", tt.cacheDir, got, tt.modelID)
			}
		})
	}
}

// TestGetCachedModelWithRevision testet Cache-Pruefung mit Revision und refs
func TestGetCachedModelWithRevision(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HF_HUB_CACHE", tmpDir)

	modelID := "test-org/test-model"
	commit := "abc123"

	if _, found := GetCachedModelWithRevision(modelID, "main"); found {
		t.Fatal("Modell sollte noch nicht im Cache sein")
	}

	snapshot := filepath.Join(tmpDir, modelIDToCacheDir(modelID), CacheSnapshotDir, commit)
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		t.Fatalf("Verzeichnis erstellen fehlgeschlagen: %v", err)
	}

	// Leeres Snapshot-Verzeichnis zaehlt nicht
	if _, found := GetCachedModelWithRevision(modelID, commit); found {
		t.Error("Leeres Snapshot-Verzeichnis sollte nicht gefunden werden")
	}

	if err := os.WriteFile(filepath.Join(snapshot, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("Testdatei erstellen fehlgeschlagen: %v", err)
	}

	path, found := GetCachedModelWithRevision(modelID, commit)
	if !found || path != snapshot {
		t.Errorf("Pfad = %q (found=%v), erwartet %q", path, found, snapshot)
	}

	// "main" ohne ref wird nicht gefunden
	if _, found := GetCachedModelWithRevision(modelID, "main"); found {
		t.Error("'main' sollte ohne refs/main nicht gefunden werden")
	}

	// Mit refs/main zeigt "main" auf den Commit
	if err := writeRef(modelID, "main", commit); err != nil {
		t.Fatalf("writeRef fehlgeschlagen: %v", err)
	}
	path, found = GetCachedModelWithRevision(modelID, "main")
	if !found || path != snapshot {
		t.Errorf("Pfad ueber ref = %q (found=%v), erwartet %q", path, found, snapshot)
	}
}

// TestListCachedModels testet die Auflistung gecachter Modelle
func TestListCachedModels(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HF_HUB_CACHE", tmpDir)

	models, err := ListCachedModels()
	if err != nil {
		t.Fatalf("ListCachedModels fehlgeschlagen: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("Erwartet leere Liste, erhalten %v", models)
	}

	for _, modelID := range []string{"bert-base-cased", "distilbert/distilroberta-base"} {
		if err := os.MkdirAll(filepath.Join(tmpDir, modelIDToCacheDir(modelID)), 0o755); err != nil {
			t.Fatalf("Verzeichnis erstellen fehlgeschlagen: %v", err)
		}
	}
	// Fremde Verzeichnisse werden ignoriert
	if err := os.MkdirAll(filepath.Join(tmpDir, "datasets--foo"), 0o755); err != nil {
		t.Fatal(err)
	}

	models, err = ListCachedModels()
	if err != nil {
		t.Fatalf("ListCachedModels fehlgeschlagen: %v", err)
	}
	if len(models) != 2 {
		t.Errorf("Erwartet 2 Modelle, erhalten %v", models)
	}
}
