// Package discover - GPU-Erkennung fuer den Trainings-Job
//
// Funktionen:
// - GPUDevices: sichtbare NVIDIA-Geraete ueber nvidia-smi ermitteln
// - filterVisible: CUDA_VISIBLE_DEVICES anwenden
package discover

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fastbert/trainer/envconfig"
)

// smiTimeout begrenzt einen nvidia-smi Aufruf
const smiTimeout = 30 * time.Second

// runSMI fuehrt nvidia-smi aus, austauschbar fuer Tests
var runSMI = func(ctx context.Context, fields []string) ([]byte, error) {
	bin := envconfig.NvidiaSMI()
	if bin == "" {
		bin = "nvidia-smi"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, smiTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--query-gpu="+strings.Join(fields, ","), "--format=csv,noheader,nounits")
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Join(err, errors.New(strings.TrimSpace(stderr.String())))
	}
	return out, nil
}

// GPUDevices gibt die fuer diesen Prozess sichtbaren GPUs zurueck.
// Fehlt nvidia-smi oder schlaegt die Abfrage fehl, ist die Liste leer.
func GPUDevices(ctx context.Context) []DeviceInfo {
	fields := smiQuery
	out, err := runSMI(ctx, fields)
	if err != nil && !errors.Is(err, exec.ErrNotFound) {
		slog.Debug("nvidia-smi query failed, retrying without compute_cap", "error", err)
		fields = smiQueryLegacy
		out, err = runSMI(ctx, fields)
	}
	if err != nil {
		slog.Info("no NVIDIA devices detected", "reason", err)
		return nil
	}

	devices, err := parseSMI(bytes.NewReader(out), fields)
	if err != nil {
		slog.Warn("unable to parse device list", "error", err)
		return nil
	}

	visible, set := envconfig.LookupCudaVisibleDevices()
	devices = filterVisible(devices, visible, set)
	for _, d := range devices {
		slog.Info("training compute", "device", d)
	}
	return devices
}

// filterVisible wendet CUDA_VISIBLE_DEVICES an. Eintraege sind Indizes oder
// UUIDs (auch als Praefix); ungueltige Eintraege beenden die Liste wie bei CUDA.
// Nicht gesetzt heisst alle Geraete, gesetzt und leer keines.
func filterVisible(devices []DeviceInfo, visible string, set bool) []DeviceInfo {
	if !set {
		return devices
	}

	var out []DeviceInfo
	for _, id := range strings.Split(visible, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			break
		}

		i := slices.IndexFunc(devices, func(d DeviceInfo) bool {
			if n, err := strconv.Atoi(id); err == nil {
				return d.Index == n
			}
			return strings.HasPrefix(d.UUID, id)
		})
		if i < 0 {
			slog.Debug("visible device not found, ignoring remaining entries", "id", id)
			break
		}
		out = append(out, devices[i])
	}
	return out
}
