package checkpoint

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

// readTorch liest ein mit torch.save geschriebenes State-Dict
func readTorch(path string) ([]Tensor, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	return stateDict(path, pt)
}

// stateDict sammelt die Tensoren eines State-Dicts. torch.save schreibt
// model.state_dict() als collections.OrderedDict, aeltere Dateien als dict.
func stateDict(path string, pt interface{}) ([]Tensor, error) {
	type entry struct {
		key   interface{}
		value interface{}
	}

	var entries []entry
	switch d := pt.(type) {
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			oe := e.Value.(*types.OrderedDictEntry)
			entries = append(entries, entry{oe.Key, oe.Value})
		}
	case *types.Dict:
		for _, k := range d.Keys() {
			entries = append(entries, entry{k, d.MustGet(k)})
		}
	default:
		return nil, fmt.Errorf("load %s: unexpected checkpoint layout %T", path, pt)
	}

	var tensors []Tensor
	for _, e := range entries {
		name, ok := e.key.(string)
		if !ok {
			continue
		}

		tt, ok := e.value.(*pytorch.Tensor)
		if !ok {
			// num_batches_tracked und aehnliche Skalare
			continue
		}

		shape := make([]int64, len(tt.Size))
		for i, d := range tt.Size {
			shape[i] = int64(d)
		}

		t := Tensor{Name: name, DType: storageDType(tt.Source), Shape: shape}
		offset, count := tt.StorageOffset, int(t.Elements())
		source := tt.Source
		t.values = func() ([]float32, error) {
			data, err := storageData(source)
			if err != nil {
				return nil, fmt.Errorf("tensor %s: %w", name, err)
			}
			if offset+count > len(data) {
				return nil, fmt.Errorf("tensor %s: storage too small", name)
			}
			return data[offset : offset+count], nil
		}
		tensors = append(tensors, t)
	}
	return tensors, nil
}

func storageDType(s pytorch.StorageInterface) string {
	switch s.(type) {
	case *pytorch.FloatStorage:
		return DTypeF32
	case *pytorch.HalfStorage:
		return DTypeF16
	case *pytorch.BFloat16Storage:
		return DTypeBF16
	case *pytorch.DoubleStorage:
		return DTypeF64
	case *pytorch.LongStorage:
		return DTypeI64
	default:
		return fmt.Sprintf("%T", s)
	}
}

// storageData gibt die Werte der Gleitkomma-Storages als float32 zurueck.
// gopickle dekodiert Half und BFloat16 bereits beim Laden.
func storageData(s pytorch.StorageInterface) ([]float32, error) {
	switch s := s.(type) {
	case *pytorch.FloatStorage:
		return s.Data, nil
	case *pytorch.HalfStorage:
		return s.Data, nil
	case *pytorch.BFloat16Storage:
		return s.Data, nil
	case *pytorch.DoubleStorage:
		f32s := make([]float32, len(s.Data))
		for i, v := range s.Data {
			f32s[i] = float32(v)
		}
		return f32s, nil
	default:
		return nil, fmt.Errorf("unsupported storage %T", s)
	}
}
