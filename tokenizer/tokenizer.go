// tokenizer.go - Tokenizer-Dateien eines vortrainierten Checkpoints
//
// Dieses Modul enthaelt:
// - Erkennung des Tokenizer-Formats (WordPiece, BPE, SentencePiece, tokenizer.json)
// - Laden von tokenizer_config.json und special_tokens_map.json
// - Abgleich mit der Modell-Config und der maximalen Sequenzlaenge
// - Speichern der Tokenizer-Artefakte
//
// Die Tokenisierung selbst findet im Runner statt.

package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/fastbert/trainer/huggingface"
)

// Kind ist das Format des Vokabulars
type Kind string

const (
	WordPiece     Kind = "wordpiece"
	BPE           Kind = "bpe"
	SentencePiece Kind = "sentencepiece"
	Tokenizers    Kind = "tokenizers"
)

const fastTokenizerFile = "tokenizer.json"

// Groessere Werte in model_max_length bedeuten "unbegrenzt"
const unboundedMaxLength = 1_000_000

var (
	ErrUnknownFormat       = errors.New("unknown tokenizer format")
	ErrVocabMismatch       = errors.New("tokenizer vocabulary larger than model embeddings")
	ErrSequenceTooLong     = errors.New("max_seq_length exceeds model limit")
	ErrMissingSpecialToken = errors.New("special token not in vocabulary")
)

// Tokenizer beschreibt die Tokenizer-Dateien eines Checkpoints
type Tokenizer struct {
	Kind           Kind
	Dir            string
	ModelType      string
	VocabSize      int
	DoLowerCase    bool
	ModelMaxLength int
	Special        SpecialTokens

	vocabFiles []string
	hasFast    bool
	vocab      vocabulary
	config     map[string]json.RawMessage
}

// formats in Reihenfolge der Erkennung
var formats = []struct {
	kind  Kind
	files []string
}{
	{WordPiece, []string{"vocab.txt"}},
	{BPE, []string{"vocab.json", "merges.txt"}},
	{SentencePiece, []string{"spiece.model"}},
	{SentencePiece, []string{"sentencepiece.bpe.model"}},
	{Tokenizers, []string{fastTokenizerFile}},
}

// Load liest die Tokenizer-Dateien aus dir. modelType bestimmt die
// Standard-Token, falls keine special_tokens_map.json vorhanden ist.
func Load(dir, modelType string) (*Tokenizer, error) {
	t := &Tokenizer{
		Dir:       dir,
		ModelType: modelType,
		Special:   defaultSpecialTokens(modelType),
	}

	for _, format := range formats {
		if !allExist(dir, format.files) {
			continue
		}
		t.Kind = format.kind
		t.vocabFiles = format.files
		break
	}
	if t.Kind == "" {
		return nil, fmt.Errorf("%w in %s", ErrUnknownFormat, dir)
	}
	t.hasFast = allExist(dir, []string{fastTokenizerFile})

	var err error
	var fast *tokenizerJSON
	switch t.Kind {
	case WordPiece:
		t.vocab, err = parseWordPiece(filepath.Join(dir, "vocab.txt"))
	case BPE:
		t.vocab, err = parseBPEVocab(filepath.Join(dir, "vocab.json"))
	case SentencePiece:
		t.vocab, _, err = parseSentencePiece(filepath.Join(dir, t.vocabFiles[0]))
	case Tokenizers:
		t.vocab, fast, err = parseTokenizerJSON(filepath.Join(dir, fastTokenizerFile))
	}
	if err != nil {
		return nil, err
	}
	t.VocabSize = t.vocab.size()

	if fast != nil && fast.Normalizer != nil && fast.Normalizer.Lowercase != nil {
		t.DoLowerCase = *fast.Normalizer.Lowercase
	}

	specialMap, err := readJSONMap(filepath.Join(dir, "special_tokens_map.json"))
	if err != nil {
		return nil, fmt.Errorf("special_tokens_map.json: %w", err)
	}
	if err := applySpecialTokens(&t.Special, specialMap); err != nil {
		return nil, fmt.Errorf("special_tokens_map.json: %w", err)
	}

	if err := t.parseConfig(); err != nil {
		return nil, fmt.Errorf("tokenizer_config.json: %w", err)
	}

	slog.Info("tokenizer loaded", "kind", t.Kind, "vocab_size", t.VocabSize, "lower_case", t.DoLowerCase, "files", t.vocabFiles)
	return t, nil
}

func (t *Tokenizer) parseConfig() error {
	p, err := readJSONMap(filepath.Join(t.Dir, "tokenizer_config.json"))
	if err != nil || p == nil {
		return err
	}
	t.config = p

	if bts, ok := p["do_lower_case"]; ok {
		if err := json.Unmarshal(bts, &t.DoLowerCase); err != nil {
			return err
		}
	}
	if bts, ok := p["model_max_length"]; ok {
		var n float64
		if err := json.Unmarshal(bts, &n); err != nil {
			return err
		}
		if n > 0 && n < unboundedMaxLength {
			t.ModelMaxLength = int(n)
		}
	}
	return applySpecialTokens(&t.Special, p)
}

// Validate gleicht den Tokenizer mit der Modell-Config ab
func (t *Tokenizer) Validate(info *huggingface.ConfigModelInfo, maxSeqLength int) error {
	if info != nil && info.VocabSize > 0 && t.VocabSize > info.VocabSize {
		return fmt.Errorf("%w: tokenizer has %d entries, model %d", ErrVocabMismatch, t.VocabSize, info.VocabSize)
	}

	limit := t.ModelMaxLength
	if limit == 0 && info != nil {
		limit = info.MaxPositionEmbeddings
	}
	if limit > 0 && maxSeqLength > limit {
		return fmt.Errorf("%w: max_seq_length %d, limit %d", ErrSequenceTooLong, maxSeqLength, limit)
	}

	// Ohne diese Token kann der Runner keine Klassifikations-Eingaben bauen
	for _, typ := range []string{"unk", "pad", "cls", "sep"} {
		tok := t.Special.Get(typ)
		if tok == "" {
			continue
		}
		if _, ok := t.vocab[tok]; !ok {
			return fmt.Errorf("%w: %s_token %q", ErrMissingSpecialToken, typ, tok)
		}
	}
	return nil
}

// VocabFiles gibt die Namen der Vokabular-Dateien zurueck
func (t *Tokenizer) VocabFiles() []string {
	return slices.Clone(t.vocabFiles)
}

// Save schreibt Vokabular, special_tokens_map.json und tokenizer_config.json
// nach dir und gibt die geschriebenen Dateinamen zurueck.
func (t *Tokenizer) Save(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	files := t.VocabFiles()
	if t.hasFast && !slices.Contains(files, fastTokenizerFile) {
		files = append(files, fastTokenizerFile)
	}
	for _, name := range files {
		if err := copyFile(filepath.Join(t.Dir, name), filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}

	special, err := json.MarshalIndent(t.Special, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "special_tokens_map.json"), special, 0o644); err != nil {
		return nil, err
	}
	files = append(files, "special_tokens_map.json")

	config := make(map[string]any, len(t.config)+3)
	for k, v := range t.config {
		config[k] = v
	}
	config["do_lower_case"] = t.DoLowerCase
	config["model_type"] = t.ModelType
	if t.ModelMaxLength > 0 {
		config["model_max_length"] = t.ModelMaxLength
	}
	bts, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "tokenizer_config.json"), bts, 0o644); err != nil {
		return nil, err
	}
	files = append(files, "tokenizer_config.json")

	slog.Debug("tokenizer saved", "dir", dir, "files", files)
	return files, nil
}

// LogValue implementiert slog.LogValuer
func (t *Tokenizer) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(t.Kind)),
		slog.Int("vocab_size", t.VocabSize),
		slog.Bool("do_lower_case", t.DoLowerCase),
		slog.Int("model_max_length", t.ModelMaxLength),
	)
}

func allExist(dir string, names []string) bool {
	for _, name := range names {
		if stat, err := os.Stat(filepath.Join(dir, name)); err != nil || stat.IsDir() {
			return false
		}
	}
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
