// types.go - Typen fuer Config-Parsing und Model-Detection
//
// Enthaelt Typen fuer:
// - config.json Parsing (ConfigModelInfo) von Sequence-Classification Checkpoints
// - Fehler bei Hub-Operationen (HuggingFaceError)
//
// HINWEIS: APIModelInfo ist in client.go definiert und beschreibt die
// Hub-API-Antwort, ConfigModelInfo dagegen den Inhalt von config.json.
package huggingface

import (
	"strconv"
)

// =============================================================================
// KONSTANTEN - MODEL TYPES
// =============================================================================

// Modellfamilien, die der Runner fuer Textklassifikation unterstuetzt
const (
	ModelTypeBERT       = "bert"
	ModelTypeRoBERTa    = "roberta"
	ModelTypeXLNet      = "xlnet"
	ModelTypeXLM        = "xlm"
	ModelTypeDistilBERT = "distilbert"
	ModelTypeALBERT     = "albert"
	ModelTypeCamemBERT  = "camembert"
	ModelTypeXLMRoBERTa = "xlm-roberta"
	ModelTypeFlauBERT   = "flaubert"
	ModelTypeELECTRA    = "electra"
)

// =============================================================================
// CONFIG PARSING TYPEN
// =============================================================================

// ConfigModelInfo enthaelt die Metadaten aus einer HuggingFace config.json.
// Unterscheidet sich von APIModelInfo (client.go) die fuer API-Responses ist.
type ConfigModelInfo struct {
	// Basis-Identifikation
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures,omitempty"`
	ModelID       string   `json:"-"` // Nicht in JSON, wird extern gesetzt

	// Modell-Dimensionen
	HiddenSize            int `json:"hidden_size,omitempty"`
	IntermediateSize      int `json:"intermediate_size,omitempty"`
	NumHiddenLayers       int `json:"num_hidden_layers,omitempty"`
	NumAttentionHeads     int `json:"num_attention_heads,omitempty"`
	MaxPositionEmbeddings int `json:"max_position_embeddings,omitempty"`

	// DistilBERT und XLNet benennen die Dimensionen anders
	Dim     int `json:"dim,omitempty"`
	DModel  int `json:"d_model,omitempty"`
	NLayers int `json:"n_layers,omitempty"`

	// Tokenizer-Info
	VocabSize     int `json:"vocab_size,omitempty"`
	TypeVocabSize int `json:"type_vocab_size,omitempty"`
	PadTokenID    int `json:"pad_token_id,omitempty"`

	// Klassifikationskopf (nach dem Finetuning gesetzt)
	ID2Label map[string]string `json:"id2label,omitempty"`
	Label2ID map[string]int    `json:"label2id,omitempty"`

	// Zusaetzliche Felder
	TorchDtype          string `json:"torch_dtype,omitempty"`
	TransformersVersion string `json:"transformers_version,omitempty"`
}

// Hidden gibt die Hidden-Size unabhaengig von der Benennung zurueck
func (c *ConfigModelInfo) Hidden() int {
	switch {
	case c.HiddenSize > 0:
		return c.HiddenSize
	case c.Dim > 0:
		return c.Dim
	default:
		return c.DModel
	}
}

// Labels gibt die Label-Namen in Reihenfolge ihrer IDs zurueck
func (c *ConfigModelInfo) Labels() []string {
	if len(c.ID2Label) == 0 {
		return nil
	}
	labels := make([]string, len(c.ID2Label))
	for k, v := range c.ID2Label {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(labels) {
			return nil
		}
		labels[i] = v
	}
	return labels
}

// =============================================================================
// ERROR TYPEN
// =============================================================================

// HuggingFaceError repraesentiert einen Fehler bei HF-Operationen
type HuggingFaceError struct {
	Op      string // Operation (download, detect, resolve)
	ModelID string // Betroffenes Modell
	Err     error  // Urspruenglicher Fehler
}

// Error implementiert das error Interface
func (e *HuggingFaceError) Error() string {
	if e.ModelID != "" {
		return "huggingface " + e.Op + " [" + e.ModelID + "]: " + e.Err.Error()
	}
	return "huggingface " + e.Op + ": " + e.Err.Error()
}

// Unwrap ermoeglicht errors.Is/As
func (e *HuggingFaceError) Unwrap() error {
	return e.Err
}
