package checkpoint

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/x448/float16"
)

// maxHeaderSize begrenzt den JSON-Header, groessere Werte deuten auf eine
// kaputte Datei hin
const maxHeaderSize = 100 << 20

var ErrInvalidSafetensors = errors.New("invalid safetensors file")

type safetensorsEntry struct {
	DType   string   `json:"dtype"`
	Shape   []int64  `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

func readSafetensors(path string) ([]Tensor, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidSafetensors, path, err)
	}
	if n == 0 || n > maxHeaderSize || int64(n)+8 > stat.Size() {
		return nil, nil, fmt.Errorf("%w: %s: header size %d", ErrInvalidSafetensors, path, n)
	}

	header := make([]byte, n)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidSafetensors, path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidSafetensors, path, err)
	}

	var metadata map[string]string
	if m, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(m, &metadata); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: metadata: %v", ErrInvalidSafetensors, path, err)
		}
		delete(raw, "__metadata__")
	}

	dataStart := int64(n) + 8
	dataSize := stat.Size() - dataStart

	tensors := make([]Tensor, 0, len(raw))
	offsets := make(map[string]int64, len(raw))
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		var e safetensorsEntry
		if err := json.Unmarshal(raw[name], &e); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: tensor %s: %v", ErrInvalidSafetensors, path, name, err)
		}

		begin, end := e.Offsets[0], e.Offsets[1]
		if begin < 0 || end < begin || end > dataSize {
			return nil, nil, fmt.Errorf("%w: %s: tensor %s: offsets %d-%d", ErrInvalidSafetensors, path, name, begin, end)
		}

		t := Tensor{Name: name, DType: e.DType, Shape: e.Shape}
		offsets[name] = begin
		if size := dtypeSize(e.DType); size > 0 && t.Elements()*size != end-begin {
			return nil, nil, fmt.Errorf("%w: %s: tensor %s: %d bytes for %d values", ErrInvalidSafetensors, path, name, end-begin, t.Elements())
		}

		t.values = func() ([]float32, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer f.Close()

			b := make([]byte, end-begin)
			if _, err := f.ReadAt(b, dataStart+begin); err != nil {
				return nil, err
			}
			return decode(e.DType, b)
		}
		tensors = append(tensors, t)
	}

	// Reihenfolge wie in der Datei
	slices.SortStableFunc(tensors, func(a, b Tensor) int {
		return cmp.Compare(offsets[a.Name], offsets[b.Name])
	})
	return tensors, metadata, nil
}

// Array ist ein Tensor mit Werten zum Schreiben
type Array struct {
	Name  string
	DType string // F32 (Standard) oder F16
	Shape []int64
	Data  []float32
}

// WriteSafetensors schreibt arrays in eine safetensors-Datei
func WriteSafetensors(path string, arrays []Array, metadata map[string]string) error {
	header := make(map[string]any, len(arrays)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var data bytes.Buffer
	for _, a := range arrays {
		dtype := cmp.Or(a.DType, DTypeF32)
		begin := int64(data.Len())
		for _, v := range a.Data {
			switch dtype {
			case DTypeF32:
				binary.Write(&data, binary.LittleEndian, math.Float32bits(v))
			case DTypeF16:
				binary.Write(&data, binary.LittleEndian, float16.Fromfloat32(v).Bits())
			default:
				return fmt.Errorf("write %s: unsupported dtype %s", a.Name, dtype)
			}
		}
		header[a.Name] = safetensorsEntry{DType: dtype, Shape: a.Shape, Offsets: [2]int64{begin, int64(data.Len())}}
	}

	b, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Header wird mit Leerzeichen auf 8 Byte ausgerichtet
	if pad := len(b) % 8; pad != 0 {
		b = append(b, []byte(strings.Repeat(" ", 8-pad))...)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if _, err := data.WriteTo(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
