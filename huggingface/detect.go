// detect.go - Model-Type Detection aus HuggingFace config.json
//
// Erkennt die Modellfamilie anhand von model_type oder architectures.
package huggingface

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Fehler-Definitionen
var (
	ErrConfigNotFound   = errors.New("config.json nicht gefunden")
	ErrInvalidConfig    = errors.New("ungueltige config.json Struktur")
	ErrUnknownModelType = errors.New("unbekannter model_type")
)

// ReadConfig liest und parst eine config.json Datei.
func ReadConfig(configPath string) (*ConfigModelInfo, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &HuggingFaceError{Op: "detect", Err: ErrConfigNotFound}
		}
		return nil, &HuggingFaceError{Op: "detect", Err: fmt.Errorf("lesen: %w", err)}
	}
	return ParseConfig(data)
}

// ParseConfig parst die rohen JSON-Bytes einer config.json in ConfigModelInfo.
func ParseConfig(data []byte) (*ConfigModelInfo, error) {
	var info ConfigModelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &HuggingFaceError{Op: "parse", Err: fmt.Errorf("%w: %v", ErrInvalidConfig, err)}
	}
	if info.ModelType == "" && len(info.Architectures) == 0 {
		return nil, &HuggingFaceError{Op: "parse", Err: ErrInvalidConfig}
	}
	return &info, nil
}

// normalizeModelType konvertiert model_type in einen internen Typ-String.
func normalizeModelType(info *ConfigModelInfo) string {
	modelType := strings.ToLower(info.ModelType)

	// Direkte Mappings
	typeMap := map[string]string{
		"bert": ModelTypeBERT, "roberta": ModelTypeRoBERTa, "xlnet": ModelTypeXLNet,
		"xlm": ModelTypeXLM, "distilbert": ModelTypeDistilBERT, "albert": ModelTypeALBERT,
		"camembert": ModelTypeCamemBERT, "xlm-roberta": ModelTypeXLMRoBERTa,
		"xlm_roberta": ModelTypeXLMRoBERTa, "flaubert": ModelTypeFlauBERT, "electra": ModelTypeELECTRA,
	}
	if t, ok := typeMap[modelType]; ok {
		return t
	}

	// Aus Architectures ableiten, spezifische Namen zuerst
	for _, arch := range info.Architectures {
		archLower := strings.ToLower(arch)
		switch {
		case strings.HasPrefix(archLower, "xlmroberta"):
			return ModelTypeXLMRoBERTa
		case strings.HasPrefix(archLower, "camembert"):
			return ModelTypeCamemBERT
		case strings.HasPrefix(archLower, "roberta"):
			return ModelTypeRoBERTa
		case strings.HasPrefix(archLower, "distilbert"):
			return ModelTypeDistilBERT
		case strings.HasPrefix(archLower, "albert"):
			return ModelTypeALBERT
		case strings.HasPrefix(archLower, "flaubert"):
			return ModelTypeFlauBERT
		case strings.HasPrefix(archLower, "xlnet"):
			return ModelTypeXLNet
		case strings.HasPrefix(archLower, "xlm"):
			return ModelTypeXLM
		case strings.HasPrefix(archLower, "electra"):
			return ModelTypeELECTRA
		case strings.HasPrefix(archLower, "bert"):
			return ModelTypeBERT
		}
	}
	if modelType != "" {
		return modelType
	}
	return "unknown"
}

// DetectFromDirectory erkennt den Modell-Typ aus einem Verzeichnis.
func DetectFromDirectory(dirPath string) (string, *ConfigModelInfo, error) {
	info, err := ReadConfig(filepath.Join(dirPath, "config.json"))
	if err != nil {
		return "", nil, err
	}
	return normalizeModelType(info), info, nil
}

// CheckModelType vergleicht den konfigurierten model_type mit dem Checkpoint.
func CheckModelType(configured string, info *ConfigModelInfo) error {
	detected := normalizeModelType(info)
	if detected == "unknown" || detected == configured {
		return nil
	}
	return &HuggingFaceError{
		Op:  "detect",
		Err: fmt.Errorf("%w: checkpoint is %q, training config says %q", ErrUnknownModelType, detected, configured),
	}
}
