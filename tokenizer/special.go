package tokenizer

import (
	"encoding/json"
	"errors"
	"os"
)

// Spezielle Token-Typen in der Reihenfolge von special_tokens_map.json
var specialTokenTypes = []string{"bos", "eos", "unk", "sep", "pad", "cls", "mask"}

// SpecialTokens enthaelt die speziellen Token eines Tokenizers
type SpecialTokens struct {
	BOS  string `json:"bos_token,omitempty"`
	EOS  string `json:"eos_token,omitempty"`
	UNK  string `json:"unk_token,omitempty"`
	SEP  string `json:"sep_token,omitempty"`
	PAD  string `json:"pad_token,omitempty"`
	CLS  string `json:"cls_token,omitempty"`
	Mask string `json:"mask_token,omitempty"`
}

func (s *SpecialTokens) field(typ string) *string {
	switch typ {
	case "bos":
		return &s.BOS
	case "eos":
		return &s.EOS
	case "unk":
		return &s.UNK
	case "sep":
		return &s.SEP
	case "pad":
		return &s.PAD
	case "cls":
		return &s.CLS
	case "mask":
		return &s.Mask
	}
	panic("unknown special token type " + typ)
}

// Get gibt das Token eines Typs zurueck
func (s SpecialTokens) Get(typ string) string {
	return *s.field(typ)
}

// defaultSpecialTokens liefert die Standard-Token je Modellfamilie
func defaultSpecialTokens(modelType string) SpecialTokens {
	switch modelType {
	case "roberta", "camembert", "xlm-roberta":
		return SpecialTokens{BOS: "<s>", EOS: "</s>", UNK: "<unk>", SEP: "</s>", PAD: "<pad>", CLS: "<s>", Mask: "<mask>"}
	case "xlnet":
		return SpecialTokens{BOS: "<s>", EOS: "</s>", UNK: "<unk>", SEP: "<sep>", PAD: "<pad>", CLS: "<cls>", Mask: "<mask>"}
	case "albert":
		return SpecialTokens{BOS: "[CLS]", EOS: "[SEP]", UNK: "<unk>", SEP: "[SEP]", PAD: "<pad>", CLS: "[CLS]", Mask: "[MASK]"}
	case "xlm", "flaubert":
		return SpecialTokens{BOS: "<s>", UNK: "<unk>", SEP: "</s>", PAD: "<pad>", CLS: "</s>", Mask: "<special1>"}
	default:
		return SpecialTokens{UNK: "[UNK]", SEP: "[SEP]", PAD: "[PAD]", CLS: "[CLS]", Mask: "[MASK]"}
	}
}

// applySpecialTokens ueberschreibt Token aus einer JSON-Map mit Schluesseln
// der Form <typ>_token. Werte koennen String oder {"content": ...} sein.
func applySpecialTokens(s *SpecialTokens, p map[string]json.RawMessage) error {
	for _, st := range specialTokenTypes {
		bts, ok := p[st+"_token"]
		if !ok || string(bts) == "null" {
			continue
		}
		content, err := parseTokenContent(bts)
		if err != nil {
			return err
		}
		if content != "" {
			*s.field(st) = content
		}
	}
	return nil
}

// readJSONMap liest eine optionale JSON-Datei als rohe Map
func readJSONMap(path string) (map[string]json.RawMessage, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	var p map[string]json.RawMessage
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// parseTokenContent parst den Token-Inhalt (kann String oder Objekt sein)
func parseTokenContent(bts json.RawMessage) (string, error) {
	var content string
	if err := json.Unmarshal(bts, &content); err == nil {
		return content, nil
	}

	var mm map[string]any
	if err := json.Unmarshal(bts, &mm); err != nil {
		return "", err
	}

	content, _ = mm["content"].(string)
	return content, nil
}
