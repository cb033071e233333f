// device_info.go
// Dieses Modul enthaelt die DeviceInfo-Struktur und die Auswertung von
// nvidia-smi fuer die Geraete-Erkennung.

package discover

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
)

type DeviceInfo struct {
	// Index ist die numerische ID laut nvidia-smi
	Index int `csv:"index" json:"index"`

	// UUID ist die stabile Kennung des Geraets (GPU-xxxxxxxx-...)
	UUID string `csv:"uuid" json:"uuid"`

	// Name is the name of the device as labeled by the driver
	Name string `csv:"name" json:"name"`

	TotalMemory MiB `csv:"memory_total" json:"total_memory"`
	FreeMemory  MiB `csv:"memory_free" json:"free_memory,omitempty"`

	// ComputeCap im Format "8.6", leer bei alten Treibern
	ComputeCap string `csv:"compute_cap" json:"compute_cap,omitempty"`

	DriverVersion string `csv:"driver_version" json:"driver_version,omitempty"`
}

// MiB ist eine Speichergroesse laut nvidia-smi. Nicht abfragbarer Speicher
// ("[N/A]", "[Not Supported]", z.B. bei MIG-Instanzen) wird zu 0.
type MiB uint64

// UnmarshalCSV implementiert gocsv.TypeUnmarshaller
func (m *MiB) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "[") {
		*m = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("memory %q: %w", s, err)
	}
	*m = MiB(n)
	return nil
}

// Bytes gibt die Groesse in Bytes zurueck
func (m MiB) Bytes() int64 {
	return int64(m) << 20
}

// Compute gibt Major/Minor der Compute Capability zurueck, -1 wenn unbekannt
func (d DeviceInfo) Compute() (major, minor int) {
	ma, mi, ok := strings.Cut(d.ComputeCap, ".")
	if !ok {
		return -1, -1
	}
	a, err1 := strconv.Atoi(ma)
	b, err2 := strconv.Atoi(mi)
	if err1 != nil || err2 != nil {
		return -1, -1
	}
	return a, b
}

// SupportsFP16 meldet ob Tensor-Cores fuer Mixed Precision vorhanden sind
func (d DeviceInfo) SupportsFP16() bool {
	major, _ := d.Compute()
	// unbekannte Capability: dem Runner vertrauen
	return major < 0 || major >= 7
}

func (d DeviceInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("index", d.Index),
		slog.String("name", d.Name),
		slog.String("total", fmt.Sprintf("%d MiB", d.TotalMemory)),
		slog.String("free", fmt.Sprintf("%d MiB", d.FreeMemory)),
		slog.String("compute", d.ComputeCap),
		slog.String("driver", d.DriverVersion),
	)
}

// smiQuery sind die Felder der nvidia-smi Abfrage. Aeltere Treiber kennen
// compute_cap nicht, dafuer gibt es smiQueryLegacy.
var (
	smiQuery       = []string{"index", "uuid", "name", "memory.total", "memory.free", "compute_cap", "driver_version"}
	smiQueryLegacy = []string{"index", "uuid", "name", "memory.total", "memory.free", "driver_version"}
)

// smiHeader bildet die Abfragefelder auf die csv-Tags von DeviceInfo ab
func smiHeader(fields []string) string {
	return strings.ReplaceAll(strings.Join(fields, ","), ".", "_") + "\n"
}

// parseSMI liest die Ausgabe von
// nvidia-smi --query-gpu=<fields> --format=csv,noheader,nounits
func parseSMI(r io.Reader, fields []string) ([]DeviceInfo, error) {
	reader := csv.NewReader(io.MultiReader(strings.NewReader(smiHeader(fields)), r))
	reader.TrimLeadingSpace = true

	var devices []DeviceInfo
	if err := gocsv.UnmarshalCSV(reader, &devices); err != nil {
		return nil, fmt.Errorf("parse nvidia-smi output: %w", err)
	}

	for i := range devices {
		devices[i].Name = strings.TrimSpace(devices[i].Name)
		if devices[i].ComputeCap == "[N/A]" {
			devices[i].ComputeCap = ""
		}
	}
	return devices, nil
}
