package tokenizer

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fastbert/trainer/huggingface"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

const bertVocab = "[PAD]\n[unused0]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\nthe\n##s\n"

func TestLoadWordPiece(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"vocab.txt":             bertVocab,
		"tokenizer_config.json": `{"do_lower_case": true, "model_max_length": 512}`,
	})

	tok, err := Load(dir, "bert")
	require.NoError(t, err)
	assert.Equal(t, WordPiece, tok.Kind)
	assert.Equal(t, 8, tok.VocabSize)
	assert.True(t, tok.DoLowerCase)
	assert.Equal(t, 512, tok.ModelMaxLength)
	assert.Equal(t, "[CLS]", tok.Special.CLS)
	assert.Equal(t, []string{"vocab.txt"}, tok.VocabFiles())
}

func TestLoadBPEWithSpecialTokensMap(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"vocab.json":              `{"<s>": 0, "<pad>": 1, "</s>": 2, "<unk>": 3, "Ġthe": 4, "<mask>": 5}`,
		"merges.txt":              "#version: 0.2\nĠ t\n",
		"special_tokens_map.json": `{"mask_token": {"content": "<mask>", "lstrip": true}, "unk_token": "<unk>"}`,
		"tokenizer_config.json":   `{"model_max_length": 1000000000000000019884624838656}`,
	})

	tok, err := Load(dir, "roberta")
	require.NoError(t, err)
	assert.Equal(t, BPE, tok.Kind)
	assert.Equal(t, 6, tok.VocabSize)
	assert.Equal(t, "<mask>", tok.Special.Mask)
	assert.Equal(t, "<s>", tok.Special.CLS)
	assert.Zero(t, tok.ModelMaxLength, "sentinel model_max_length bedeutet unbegrenzt")
	assert.Equal(t, []string{"vocab.json", "merges.txt"}, tok.VocabFiles())
}

// spModel baut ein minimales SentencePiece ModelProto
func spModel(pieces ...piece) []byte {
	var b []byte
	for _, p := range pieces {
		var pb []byte
		pb = protowire.AppendTag(pb, 1, protowire.BytesType)
		pb = protowire.AppendString(pb, p.Piece)
		pb = protowire.AppendTag(pb, 2, protowire.Fixed32Type)
		pb = protowire.AppendFixed32(pb, math.Float32bits(p.Score))
		pb = protowire.AppendTag(pb, 3, protowire.VarintType)
		pb = protowire.AppendVarint(pb, uint64(p.Type))

		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	// trainer_spec als unbekanntes Feld
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x08, 0x01})
	return b
}

func TestLoadSentencePiece(t *testing.T) {
	model := spModel(
		piece{"<unk>", 0, tokenTypeUnknown},
		piece{"<s>", 0, tokenTypeControl},
		piece{"</s>", 0, tokenTypeControl},
		piece{"<pad>", 0, tokenTypeControl},
		piece{"[CLS]", 0, tokenTypeControl},
		piece{"[SEP]", 0, tokenTypeControl},
		piece{"▁the", -1.5, tokenTypeNormal},
	)
	dir := writeFiles(t, map[string]string{"spiece.model": string(model)})

	_, pieces, err := parseSentencePiece(filepath.Join(dir, "spiece.model"))
	require.NoError(t, err)
	require.Len(t, pieces, 7)
	assert.Equal(t, piece{"▁the", -1.5, tokenTypeNormal}, pieces[6])

	tok, err := Load(dir, "albert")
	require.NoError(t, err)
	assert.Equal(t, SentencePiece, tok.Kind)
	assert.Equal(t, 7, tok.VocabSize)
	require.NoError(t, tok.Validate(&huggingface.ConfigModelInfo{VocabSize: 30000}, 128))
}

func TestLoadSentencePieceCorrupt(t *testing.T) {
	dir := writeFiles(t, map[string]string{"sentencepiece.bpe.model": "\x0a\xff"})
	_, err := Load(dir, "xlm-roberta")
	require.Error(t, err)
}

func TestLoadTokenizerJSONUnigram(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"tokenizer.json": `{
			"added_tokens": [{"id": 4, "content": "<mask>", "special": true}],
			"normalizer": {"type": "BertNormalizer", "lowercase": true},
			"model": {"type": "Unigram", "vocab": [["<pad>", 0], ["<unk>", 0], ["<s>", 0], ["</s>", 0]]}
		}`,
	})

	tok, err := Load(dir, "xlm-roberta")
	require.NoError(t, err)
	assert.Equal(t, Tokenizers, tok.Kind)
	assert.Equal(t, 5, tok.VocabSize)
	assert.True(t, tok.DoLowerCase)
}

func TestLoadUnknownFormat(t *testing.T) {
	_, err := Load(writeFiles(t, map[string]string{"config.json": "{}"}), "bert")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestValidate(t *testing.T) {
	dir := writeFiles(t, map[string]string{"vocab.txt": bertVocab})
	tok, err := Load(dir, "bert")
	require.NoError(t, err)

	tests := []struct {
		name    string
		info    *huggingface.ConfigModelInfo
		maxSeq  int
		special SpecialTokens
		wantErr error
	}{
		{"Passt", &huggingface.ConfigModelInfo{VocabSize: 30522, MaxPositionEmbeddings: 512}, 256, tok.Special, nil},
		{"Ohne Info", nil, 4096, tok.Special, nil},
		{"Vokabular zu gross", &huggingface.ConfigModelInfo{VocabSize: 4}, 128, tok.Special, ErrVocabMismatch},
		{"Sequenz zu lang", &huggingface.ConfigModelInfo{MaxPositionEmbeddings: 512}, 1024, tok.Special, ErrSequenceTooLong},
		{"Token fehlt", nil, 128, SpecialTokens{UNK: "<unk>"}, ErrMissingSpecialToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok.Special = tt.special
			err := tok.Validate(tt.info, tt.maxSeq)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSave(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"vocab.txt":             bertVocab,
		"tokenizer.json":        `{"model": {"type": "WordPiece", "vocab": {"[PAD]": 0}}}`,
		"tokenizer_config.json": `{"do_lower_case": false, "strip_accents": null}`,
	})
	tok, err := Load(dir, "bert")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "model")
	files, err := tok.Save(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"vocab.txt", "tokenizer.json", "special_tokens_map.json", "tokenizer_config.json"}, files)

	vocab, err := os.ReadFile(filepath.Join(out, "vocab.txt"))
	require.NoError(t, err)
	assert.Equal(t, bertVocab, string(vocab))

	special, err := os.ReadFile(filepath.Join(out, "special_tokens_map.json"))
	require.NoError(t, err)
	assert.True(t, strings.Index(string(special), "unk_token") < strings.Index(string(special), "mask_token"))

	var config map[string]any
	data, err := os.ReadFile(filepath.Join(out, "tokenizer_config.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &config))
	assert.Equal(t, false, config["do_lower_case"])
	assert.Equal(t, "bert", config["model_type"])
	assert.Contains(t, config, "strip_accents")
}
