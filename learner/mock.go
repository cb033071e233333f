package learner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fastbert/trainer/checkpoint"
)

// MockLearner trainiert nicht, sondern zeichnet Aufrufe auf und schreibt beim
// Speichern einen kleinen Checkpoint. Fehler lassen sich pro Schritt setzen.
type MockLearner struct {
	mu sync.Mutex

	LoadErr error
	FitErr  error
	SaveErr error

	// Hidden ist die Breite des geschriebenen Klassifikationskopfs
	Hidden int
	// Progress wird bei Fit an fn uebergeben, Standard ist eine Zeile pro Epoche
	Progress []FitProgress

	LoadCalls  int
	FitCalls   int
	SaveCalls  int
	CloseCalls int

	LoadRequests []LoadRequest
	FitRequests  []FitRequest
	SaveRequests []SaveRequest
}

var _ Learner = (*MockLearner)(nil)

func (m *MockLearner) Load(ctx context.Context, req LoadRequest) (*LoadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LoadCalls++
	m.LoadRequests = append(m.LoadRequests, req)
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return &LoadResponse{Success: true, NumLabels: len(req.DataBunch.Labels)}, nil
}

func (m *MockLearner) Fit(ctx context.Context, req FitRequest, fn func(FitProgress)) (*FitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FitCalls++
	m.FitRequests = append(m.FitRequests, req)
	if m.FitErr != nil {
		return nil, m.FitErr
	}
	if m.LoadCalls == 0 {
		return nil, errors.New("fit before load")
	}

	progress := m.Progress
	if progress == nil {
		for epoch := 1; epoch <= req.Epochs; epoch++ {
			progress = append(progress, FitProgress{Epoch: epoch, Step: epoch, TotalSteps: req.Epochs, Loss: 1 / float64(epoch), LR: req.LR})
		}
		progress = append(progress, FitProgress{Epoch: req.Epochs, Step: req.Epochs, TotalSteps: req.Epochs, Done: true})
	}

	var last FitProgress
	for _, p := range progress {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fn != nil {
			fn(p)
		}
		last = p
	}
	return &FitResult{Epochs: last.Epoch, Steps: last.Step, Loss: last.Loss, Metrics: last.Metrics}, nil
}

// Save schreibt model.safetensors und config.json nach req.OutputDir
func (m *MockLearner) Save(ctx context.Context, req SaveRequest) (*SaveResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls++
	m.SaveRequests = append(m.SaveRequests, req)
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	if len(m.LoadRequests) == 0 {
		return nil, errors.New("save before load")
	}

	load := m.LoadRequests[len(m.LoadRequests)-1]
	labels := load.DataBunch.Labels
	hidden := m.Hidden
	if hidden <= 0 {
		hidden = 4
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, err
	}

	head := make([]float32, len(labels)*hidden)
	for i := range head {
		head[i] = float32(i%7) / 10
	}
	if err := checkpoint.WriteSafetensors(filepath.Join(req.OutputDir, "model.safetensors"), []checkpoint.Array{
		{Name: "classifier.weight", Shape: []int64{int64(len(labels)), int64(hidden)}, Data: head},
		{Name: "classifier.bias", Shape: []int64{int64(len(labels))}, Data: make([]float32, len(labels))},
	}, map[string]string{"format": "pt"}); err != nil {
		return nil, err
	}

	id2label := make(map[string]string, len(labels))
	label2id := make(map[string]int, len(labels))
	for i, l := range labels {
		id2label[strconv.Itoa(i)] = l
		label2id[l] = i
	}

	problem := "single_label_classification"
	if load.MultiLabel {
		problem = "multi_label_classification"
	}

	config, err := json.MarshalIndent(map[string]any{
		"model_type":    load.ModelType,
		"architectures": []string{architecture(load.ModelType)},
		"hidden_size":   hidden,
		"num_labels":    len(labels),
		"id2label":      id2label,
		"label2id":      label2id,
		"problem_type":  problem,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, "config.json"), config, 0o644); err != nil {
		return nil, err
	}

	return &SaveResponse{Files: []string{"model.safetensors", "config.json"}}, nil
}

func (m *MockLearner) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}

func architecture(modelType string) string {
	switch modelType {
	case "bert":
		return "BertForSequenceClassification"
	case "roberta":
		return "RobertaForSequenceClassification"
	case "xlnet":
		return "XLNetForSequenceClassification"
	case "distilbert":
		return "DistilBertForSequenceClassification"
	default:
		return fmt.Sprintf("%sForSequenceClassification", modelType)
	}
}
