// Package checkpoint liest Gewichtsdateien eines Checkpoints, ohne sie in ein
// Modell zu laden. Unterstuetzt werden model.safetensors (Header-Parsing) und
// pytorch_model.bin (Pickle-Archiv).
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Datentypen, wie sie im safetensors-Header stehen
const (
	DTypeF32  = "F32"
	DTypeF16  = "F16"
	DTypeBF16 = "BF16"
	DTypeF64  = "F64"
	DTypeI64  = "I64"
)

// Tensor beschreibt einen Eintrag im State-Dict
type Tensor struct {
	Name  string
	DType string
	Shape []int64

	values func() ([]float32, error)
}

// Elements gibt die Anzahl der Werte zurueck
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 1
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Values dekodiert die Werte als float32
func (t Tensor) Values() ([]float32, error) {
	if t.values == nil {
		return nil, fmt.Errorf("tensor %s: values not available", t.Name)
	}
	return t.values()
}

func (t Tensor) String() string {
	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("%s [%s] %s", t.Name, strings.Join(dims, ", "), t.DType)
}

// decode wandelt rohe little-endian Bytes in float32
func decode(dtype string, b []byte) ([]float32, error) {
	switch dtype {
	case DTypeF32:
		f32s := make([]float32, len(b)/4)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return f32s, nil
	case DTypeF16:
		f32s := make([]float32, len(b)/2)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32()
		}
		return f32s, nil
	case DTypeBF16:
		return bfloat16.DecodeFloat32(b), nil
	case DTypeF64:
		f32s := make([]float32, len(b)/8)
		for i := range f32s {
			f32s[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:])))
		}
		return f32s, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
}

// dtypeSize gibt die Bytes pro Wert zurueck, 0 fuer unbekannte Typen
func dtypeSize(dtype string) int64 {
	switch dtype {
	case DTypeF64, DTypeI64:
		return 8
	case DTypeF32, "I32", "U32":
		return 4
	case DTypeF16, DTypeBF16, "I16", "U16":
		return 2
	case "I8", "U8", "BOOL", "F8_E4M3", "F8_E5M2":
		return 1
	}
	return 0
}
