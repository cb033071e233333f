// config_devices.go - Feature-Flags und GPU-Konfiguration
//
// Dieses Modul enthaelt:
// - Feature-Flags (Offline, KeepRunner)
// - GPU-bezogene Environment-Variablen
package envconfig

import "os"

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// Offline verhindert Downloads vom HuggingFace Hub
	Offline = Bool("FASTBERT_OFFLINE")

	// KeepRunnerLogs leitet die Runner-Ausgabe zusaetzlich in eine eigene Datei
	KeepRunnerLogs = Bool("FASTBERT_RUNNER_LOGS")

	// SaveWorkers begrenzt parallele Downloads vom Hub und Uploads beim Spiegeln
	SaveWorkers = Uint("FASTBERT_SAVE_WORKERS", 4)
)

// =============================================================================
// GPU-Sichtbarkeits-Variablen
// =============================================================================

var (
	// CudaVisibleDevices steuert sichtbare NVIDIA-Geraete
	CudaVisibleDevices = String("CUDA_VISIBLE_DEVICES")

	// NvidiaSMI ueberschreibt den Pfad zu nvidia-smi
	NvidiaSMI = String("FASTBERT_NVIDIA_SMI")
)

// LookupCudaVisibleDevices meldet zusaetzlich, ob CUDA_VISIBLE_DEVICES
// gesetzt ist. Gesetzt und leer bedeutet fuer CUDA: keine GPU sichtbar.
func LookupCudaVisibleDevices() (string, bool) {
	if _, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); !ok {
		return "", false
	}
	return CudaVisibleDevices(), true
}
