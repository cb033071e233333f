package discover

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// ProcessGroup beschreibt die torch.distributed Initialisierung
type ProcessGroup struct {
	Backend    string `json:"backend"`
	InitMethod string `json:"init_method"`
	Rank       int    `json:"rank"`
	WorldSize  int    `json:"world_size"`

	addr string
	port int
}

// Placement ist das Ergebnis der Geraetewahl fuer einen Lauf
type Placement struct {
	Device       string        `json:"device"`
	Devices      []DeviceInfo  `json:"devices,omitempty"`
	MultiGPU     bool          `json:"multi_gpu"`
	FP16         bool          `json:"fp16"`
	ProcessGroup *ProcessGroup `json:"process_group,omitempty"`
}

// Select waehlt Device, Multi-GPU-Flag und Process-Group. Ohne GPU wird auf
// die CPU ausgewichen; fp16 ist dann nicht moeglich.
func Select(devices []DeviceInfo, fp16, distributed bool, masterPort int) Placement {
	p := Placement{
		Device:   DeviceCUDA,
		Devices:  devices,
		MultiGPU: len(devices) > 1,
		FP16:     fp16,
	}

	if len(devices) == 0 {
		slog.Warn("no CUDA device available, training on cpu")
		p.Device = DeviceCPU
		if fp16 {
			slog.Warn("fp16 requires a CUDA device, disabling")
			p.FP16 = false
		}
	}

	if p.FP16 {
		for _, d := range devices {
			if !d.SupportsFP16() {
				slog.Warn("device has no fp16 tensor cores, mixed precision will be slow", "device", d.Name, "compute", d.ComputeCap)
			}
		}
	}

	if distributed {
		backend := "nccl"
		if p.Device == DeviceCPU {
			backend = "gloo"
		}
		p.ProcessGroup = &ProcessGroup{
			Backend:    backend,
			InitMethod: fmt.Sprintf("tcp://localhost:%d", masterPort),
			Rank:       0,
			WorldSize:  1,
			addr:       "localhost",
			port:       masterPort,
		}
	}

	slog.Info("device selected", "device", p.Device, "gpus", len(devices), "multi_gpu", p.MultiGPU, "fp16", p.FP16, "distributed", distributed)
	return p
}

// Env gibt die Umgebungsvariablen fuer den Runner zurueck
func (p Placement) Env() map[string]string {
	env := map[string]string{}
	if p.Device == DeviceCUDA && len(p.Devices) > 0 {
		ids := make([]string, len(p.Devices))
		for i, d := range p.Devices {
			if d.UUID != "" {
				ids[i] = d.UUID
			} else {
				ids[i] = strconv.Itoa(d.Index)
			}
		}
		env["CUDA_VISIBLE_DEVICES"] = strings.Join(ids, ",")
	} else if p.Device == DeviceCPU {
		env["CUDA_VISIBLE_DEVICES"] = ""
	}

	if pg := p.ProcessGroup; pg != nil {
		env["MASTER_ADDR"] = pg.addr
		env["MASTER_PORT"] = strconv.Itoa(pg.port)
		env["RANK"] = strconv.Itoa(pg.Rank)
		env["WORLD_SIZE"] = strconv.Itoa(pg.WorldSize)
	}
	return env
}
