// vocabulary.go - Vokabular-Parsing fuer Tokenizer-Dateien
// Enthaelt: Parser fuer vocab.txt, vocab.json, SentencePiece-Modelle und tokenizer.json

package tokenizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Token-Typen aus dem SentencePiece-Modell
const (
	_ int32 = iota
	tokenTypeNormal
	tokenTypeUnknown
	tokenTypeControl
	tokenTypeUserDefined
	tokenTypeUnused
	tokenTypeByte
)

// tokenizerJSON repraesentiert die tokenizer.json Struktur
type tokenizerJSON struct {
	AddedTokens []addedToken `json:"added_tokens"`
	Model       struct {
		Type  string          `json:"type"`
		Vocab json.RawMessage `json:"vocab"`
	} `json:"model"`
	Normalizer *struct {
		Type      string `json:"type"`
		Lowercase *bool  `json:"lowercase"`
	} `json:"normalizer"`
}

type addedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// vocabulary ist das geparste Vokabular, Token -> ID
type vocabulary map[string]int

// parseWordPiece liest vocab.txt, ein Token pro Zeile
func parseWordPiece(path string) (vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v := vocabulary{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	id := 0
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r")
		if _, ok := v[tok]; !ok {
			v[tok] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, fmt.Errorf("%s: leeres vokabular", path)
	}
	return v, nil
}

// parseBPEVocab liest vocab.json (Token -> ID)
func parseBPEVocab(path string) (vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v vocabulary
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%s: leeres vokabular", path)
	}
	return v, nil
}

// piece ist ein Eintrag eines SentencePiece-Modells
type piece struct {
	Piece string
	Score float32
	Type  int32
}

// parseSentencePiece liest die Pieces eines SentencePiece ModelProto direkt
// aus dem Wire-Format. Feld 1 des ModelProto sind die Pieces, alle anderen
// Felder (Trainer- und Normalizer-Spec) werden uebersprungen.
func parseSentencePiece(path string) (vocabulary, []piece, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var pieces []piece
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, fmt.Errorf("%s: %w", path, protowire.ParseError(n))
		}
		b = b[n:]

		if num == 1 && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, nil, fmt.Errorf("%s: %w", path, protowire.ParseError(n))
			}
			p, err := parsePiece(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", path, err)
			}
			pieces = append(pieces, p)
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, nil, fmt.Errorf("%s: %w", path, protowire.ParseError(n))
		}
		b = b[n:]
	}

	if len(pieces) == 0 {
		return nil, nil, fmt.Errorf("%s: keine pieces im sentencepiece modell", path)
	}

	v := make(vocabulary, len(pieces))
	for i, p := range pieces {
		if _, ok := v[p.Piece]; !ok {
			v[p.Piece] = i
		}
	}
	return v, pieces, nil
}

func parsePiece(b []byte) (piece, error) {
	p := piece{Type: tokenTypeNormal}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Piece = string(v)
			b = b[n:]
		case num == 2 && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Score = math.Float32frombits(v)
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Type = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return p, nil
}

// parseTokenizerJSON liest das Vokabular aus tokenizer.json. WordPiece und BPE
// speichern ein Objekt Token -> ID, Unigram eine Liste [piece, score].
func parseTokenizerJSON(path string) (vocabulary, *tokenizerJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var tt tokenizerJSON
	if err := json.NewDecoder(f).Decode(&tt); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	v := vocabulary{}
	if len(tt.Model.Vocab) > 0 {
		if err := json.Unmarshal(tt.Model.Vocab, &v); err != nil {
			var unigram [][]any
			if err := json.Unmarshal(tt.Model.Vocab, &unigram); err != nil {
				return nil, nil, errors.New("could not parse tokenizer vocab. expected object or [piece, score] list")
			}
			v = make(vocabulary, len(unigram))
			for i, entry := range unigram {
				if len(entry) == 0 {
					continue
				}
				if s, ok := entry[0].(string); ok {
					v[s] = i
				}
			}
		}
	}

	for _, tok := range tt.AddedTokens {
		v[tok.Content] = tok.ID
	}
	if len(v) == 0 {
		return nil, nil, fmt.Errorf("%s: leeres vokabular", path)
	}
	return v, &tt, nil
}

// size gibt die Anzahl der IDs zurueck (hoechste ID + 1)
func (v vocabulary) size() int {
	n := 0
	for _, id := range v {
		if id+1 > n {
			n = id + 1
		}
	}
	return n
}
