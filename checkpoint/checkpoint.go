package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fastbert/trainer/huggingface"
)

var (
	ErrNoHead       = errors.New("no classification head")
	ErrHeadMismatch = errors.New("classification head does not match labels")
	ErrNonFinite    = errors.New("classification head contains non-finite values")
)

// Formate der Gewichtsdatei
const (
	FormatSafetensors = "safetensors"
	FormatTorch       = "torch"
)

// headNames sind die Gewichte des Klassifikationskopfs der unterstuetzten
// Modellfamilien, in Prioritaetsreihenfolge
var headNames = []string{
	"classifier.out_proj.weight", // roberta, xlm-roberta, camembert
	"logits_proj.weight",         // xlnet
	"classifier.weight",          // bert, distilbert, albert, electra
	"score.weight",
}

// Summary beschreibt einen Checkpoint
type Summary struct {
	Dir        string
	ModelType  string
	WeightFile string
	Format     string
	Tensors    []Tensor
	Parameters int64
	DTypes     []string
	Metadata   map[string]string

	// aus config.json
	NumLabels int
	Labels    []string

	Head *Tensor
}

// Inspect liest config.json und die Gewichtsdatei in dir
func Inspect(dir string) (*Summary, error) {
	weights, err := huggingface.FindWeights(dir)
	if err != nil {
		return nil, err
	}

	s := Summary{Dir: dir, WeightFile: filepath.Base(weights)}

	modelType, info, err := huggingface.DetectFromDirectory(dir)
	if err != nil {
		return nil, err
	}
	s.ModelType = modelType
	s.Labels = info.Labels()
	s.NumLabels = len(s.Labels)

	switch s.WeightFile {
	case "model.safetensors":
		s.Format = FormatSafetensors
		s.Tensors, s.Metadata, err = readSafetensors(weights)
	default:
		s.Format = FormatTorch
		s.Tensors, err = readTorch(weights)
	}
	if err != nil {
		return nil, err
	}

	for i, t := range s.Tensors {
		s.Parameters += t.Elements()
		if !slices.Contains(s.DTypes, t.DType) {
			s.DTypes = append(s.DTypes, t.DType)
		}
		if s.Head == nil && isHead(t) {
			s.Head = &s.Tensors[i]
		}
	}
	if s.Head == nil {
		s.Head = findHead(s.Tensors)
	}
	slices.Sort(s.DTypes)

	return &s, nil
}

func isHead(t Tensor) bool {
	// DataParallel speichert mit "module." Praefix
	name := strings.TrimPrefix(t.Name, "module.")
	return slices.Contains(headNames, name) && len(t.Shape) == 2
}

// findHead nimmt das letzte 2D-Gewicht mit classifier im Namen
func findHead(tensors []Tensor) *Tensor {
	for i := len(tensors) - 1; i >= 0; i-- {
		t := tensors[i]
		if strings.Contains(t.Name, "classifier") && strings.HasSuffix(t.Name, ".weight") && len(t.Shape) == 2 {
			return &tensors[i]
		}
	}
	return nil
}

// LogValue implementiert slog.LogValuer
func (s *Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("model_type", s.ModelType),
		slog.String("weights", s.WeightFile),
		slog.Int("tensors", len(s.Tensors)),
		slog.Int64("parameters", s.Parameters),
		slog.String("dtype", strings.Join(s.DTypes, ",")),
	}
	if s.Head != nil {
		attrs = append(attrs, slog.String("head", s.Head.String()))
	}
	return slog.GroupValue(attrs...)
}

// VerifyHead prueft, dass der Kopf numLabels Ausgaben hat und nur endliche
// Werte enthaelt
func VerifyHead(s *Summary, numLabels int) error {
	if s.Head == nil {
		return fmt.Errorf("%w in %s", ErrNoHead, s.WeightFile)
	}

	if out := s.Head.Shape[0]; out != int64(numLabels) {
		return fmt.Errorf("%w: %s has %d outputs, want %d", ErrHeadMismatch, s.Head.Name, out, numLabels)
	}

	values, err := s.Head.Values()
	if err != nil {
		return err
	}
	for i, v := range values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: %s[%d] = %v", ErrNonFinite, s.Head.Name, i, v)
		}
	}
	return nil
}
