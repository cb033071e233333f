package config

import (
	"bytes"
	"encoding/json"
	"os"
	"slices"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ModelTypes sind die vom Runner unterstuetzten Modellfamilien
var ModelTypes = []string{
	"bert", "roberta", "xlnet", "xlm", "distilbert", "albert",
	"camembert", "xlm-roberta", "flaubert", "electra",
}

// Training ist der Inhalt von training_config.json
type Training struct {
	RunText        string `json:"run_text"`
	ModelName      string `json:"model_name"`
	ModelType      string `json:"model_type"`
	FinetunedModel string `json:"finetuned_model,omitempty"`

	MultiLabel  bool `json:"multi_label"`
	FP16        bool `json:"fp16"`
	Distributed bool `json:"distributed"`

	TextCol   string `json:"text_col"`
	LabelCol  string `json:"label_col"`
	TrainFile string `json:"train_file"`
	ValFile   string `json:"val_file"`
	LabelFile string `json:"label_file"`

	LoggingSteps          int    `json:"logging_steps"`
	FP16OptLevel          string `json:"fp16_opt_level"`
	GradAccumulationSteps int    `json:"grad_accumulation_steps"`

	// raw ist das Originaldokument fuer model_config.json
	raw []byte
}

// DefaultTraining liefert die Werte fuer fehlende Schluessel
func DefaultTraining() Training {
	return Training{
		RunText:               "run",
		TextCol:               "text",
		LabelCol:              "label",
		TrainFile:             "train.csv",
		ValFile:               "val.csv",
		LabelFile:             "labels.csv",
		LoggingSteps:          50,
		FP16OptLevel:          "O1",
		GradAccumulationSteps: 1,
	}
}

// LoadTraining liest und validiert training_config.json
func LoadTraining(path string) (*Training, error) {
	t := DefaultTraining()
	if err := load(path, t, "", &t); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	t.raw = raw

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate prueft Pflichtfelder und Wertebereiche
func (t *Training) Validate() error {
	switch {
	case t.ModelName == "":
		return invalid("training config: model_name is required")
	case t.ModelType == "":
		return invalid("training config: model_type is required")
	case !slices.Contains(ModelTypes, t.ModelType):
		return invalid("training config: unsupported model_type %q", t.ModelType)
	case t.TextCol == "":
		return invalid("training config: text_col must not be empty")
	case !t.MultiLabel && t.LabelCol == "":
		return invalid("training config: label_col must not be empty")
	case t.LoggingSteps < 0:
		return invalid("training config: logging_steps must not be negative")
	case t.GradAccumulationSteps < 1:
		return invalid("training config: grad_accumulation_steps must be at least 1")
	}
	return nil
}

// Normalized gibt das Dokument zurueck, wie es als model_config.json
// gespeichert wird: Reihenfolge der Schluessel bleibt erhalten, Boolean-Strings
// werden zu echten Booleans und fehlende Defaults werden angehaengt.
func (t *Training) Normalized() ([]byte, error) {
	om := orderedmap.New[string, any]()
	if len(t.raw) > 0 {
		if err := json.Unmarshal(t.raw, om); err != nil {
			return nil, errors.Wrap(err, "re-reading training config")
		}
	}

	om.Set("multi_label", t.MultiLabel)
	om.Set("fp16", t.FP16)
	if _, ok := om.Get("distributed"); ok {
		om.Set("distributed", t.Distributed)
	}

	for _, kv := range []struct {
		key   string
		value any
	}{
		{"text_col", t.TextCol},
		{"label_col", t.LabelCol},
		{"train_file", t.TrainFile},
		{"val_file", t.ValFile},
		{"label_file", t.LabelFile},
		{"logging_steps", t.LoggingSteps},
		{"fp16_opt_level", t.FP16OptLevel},
		{"grad_accumulation_steps", t.GradAccumulationSteps},
	} {
		if _, ok := om.Get(kv.key); !ok {
			om.Set(kv.key, kv.value)
		}
	}

	data, err := json.Marshal(om)
	if err != nil {
		return nil, errors.Wrap(err, "encoding model config")
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, errors.Wrap(err, "indenting model config")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
