// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"FASTBERT_PREFIX":       {"FASTBERT_PREFIX", Prefix(), "Root of the training job layout (default \"/opt/ml\")"},
		"FASTBERT_DEBUG":        {"FASTBERT_DEBUG", LogLevel(), "Show additional debug information (e.g. FASTBERT_DEBUG=1)"},
		"FASTBERT_RUNNER":       {"FASTBERT_RUNNER", strings.Join(Runner(), " "), "Command line of the ML runner process (default: bundled fast-bert runner)"},
		"FASTBERT_PYTHON":       {"FASTBERT_PYTHON", Python(), "Python interpreter for the bundled runner (default \"python3\")"},
		"FASTBERT_LOAD_TIMEOUT": {"FASTBERT_LOAD_TIMEOUT", LoadTimeout(), "How long to allow runner loads to stall before giving up (default \"5m\")"},
		"FASTBERT_MASTER_PORT":  {"FASTBERT_MASTER_PORT", MasterPort(), "TCP port of the distributed process group (default 23459)"},
		"FASTBERT_OFFLINE":      {"FASTBERT_OFFLINE", Offline(), "Never download pretrained models from the hub"},
		"FASTBERT_RUNNER_LOGS":  {"FASTBERT_RUNNER_LOGS", KeepRunnerLogs(), "Also write runner output to output/logs/runner.log"},
		"FASTBERT_S3_OUTPUT":    {"FASTBERT_S3_OUTPUT", S3Output(), "Mirror model artifacts to s3://bucket/prefix"},
		"FASTBERT_SAVE_WORKERS": {"FASTBERT_SAVE_WORKERS", SaveWorkers(), "Parallel model downloads and artifact uploads (default 4)"},
		"FASTBERT_NVIDIA_SMI":   {"FASTBERT_NVIDIA_SMI", NvidiaSMI(), "Path to nvidia-smi"},
		"AWS_REGION":            {"AWS_REGION", AWSRegion(), "Region of the S3 bucket (default us-east-1)"},
		"CUDA_VISIBLE_DEVICES":  {"CUDA_VISIBLE_DEVICES", CudaVisibleDevices(), "Set which NVIDIA devices are visible"},

		// HuggingFace Hub
		"HF_TOKEN":     {"HF_TOKEN", String("HF_TOKEN")() != "", "Access token for gated or private models"},
		"HF_ENDPOINT":  {"HF_ENDPOINT", String("HF_ENDPOINT")(), "Hub endpoint (default https://huggingface.co)"},
		"HF_HOME":      {"HF_HOME", String("HF_HOME")(), "Hub home directory"},
		"HF_HUB_CACHE": {"HF_HUB_CACHE", String("HF_HUB_CACHE")(), "Hub cache directory"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
