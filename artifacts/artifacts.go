// Package artifacts schreibt und prueft die Dateien im Modell-Verzeichnis
// nach dem Training.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"

	"github.com/fastbert/trainer/format"
	"github.com/fastbert/trainer/huggingface"
)

const (
	ConfigFile        = "config.json"
	SpecialTokensFile = "special_tokens_map.json"
	LabelsFile        = "labels.csv"
	ModelConfigFile   = "model_config.json"
)

var ErrMissing = errors.New("missing artifacts")

// Vocab liefert die Namen der Vokabular-Dateien eines Tokenizers
type Vocab interface {
	VocabFiles() []string
}

// Requirement ist ein Pflicht-Artefakt. Enthaelt es mehrere Namen, reicht
// einer davon.
type Requirement []string

func (r Requirement) String() string {
	return strings.Join(r, " or ")
}

// WriteLabels schreibt die Labels zeilenweise nach labels.csv
func WriteLabels(dir string, labels []string) error {
	return os.WriteFile(filepath.Join(dir, LabelsFile), []byte(strings.Join(labels, "\n")), 0o644)
}

// WriteModelConfig schreibt die normalisierte Trainingskonfiguration
func WriteModelConfig(dir string, data []byte) error {
	return os.WriteFile(filepath.Join(dir, ModelConfigFile), data, 0o644)
}

// Required gibt die Pflicht-Artefakte zurueck. Jede Vokabular-Datei des
// Tokenizers ist einzeln Pflicht, BPE braucht vocab.json und merges.txt.
func Required(tok Vocab) []Requirement {
	reqs := []Requirement{
		slices.Clone(huggingface.WeightFiles),
		{ConfigFile},
	}
	for _, name := range tok.VocabFiles() {
		reqs = append(reqs, Requirement{name})
	}
	return append(reqs,
		Requirement{SpecialTokensFile},
		Requirement{LabelsFile},
		Requirement{ModelConfigFile},
	)
}

// File ist ein vorhandenes Artefakt
type File struct {
	Name string
	Size int64
}

// Verify prueft, dass alle Pflicht-Artefakte existieren und nicht leer sind
func Verify(dir string, required []Requirement) ([]File, error) {
	var files []File
	var missing []string

	for _, req := range required {
		found := false
		for _, name := range req {
			stat, err := os.Stat(filepath.Join(dir, name))
			if err == nil && stat.Mode().IsRegular() && stat.Size() > 0 {
				files = append(files, File{Name: name, Size: stat.Size()})
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, req.String())
		}
	}

	if len(missing) > 0 {
		return files, fmt.Errorf("%w in %s: %s", ErrMissing, dir, strings.Join(missing, ", "))
	}
	return files, nil
}

// List gibt alle Dateien in dir sortiert nach Namen zurueck
func List(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: e.Name(), Size: info.Size()})
	}
	return files, nil
}

// maxNameWidth kuerzt lange Dateinamen in der Tabelle
const maxNameWidth = 48

// Summary schreibt eine Tabelle der Dateien in dir
func Summary(w io.Writer, dir string) error {
	files, err := List(dir)
	if err != nil {
		return err
	}

	var total int64
	var data [][]string
	for _, f := range files {
		total += f.Size
		data = append(data, []string{runewidth.Truncate(f.Name, maxNameWidth, "..."), format.HumanBytes(f.Size)})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ARTIFACT", "SIZE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	_, err = fmt.Fprintf(w, "%d files, %s\n", len(files), format.HumanBytes(total))
	return err
}
