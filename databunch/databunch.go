// Package databunch beschreibt die Trainingsdaten eines Laufs: Train- und
// Validierungs-CSV sowie die Label-Liste. Das Paket liest und prueft die
// Dateien und erzeugt daraus die Beschreibung, mit der der Runner seine
// Datasets baut.
package databunch

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmpty             = errors.New("file has no rows")
	ErrNoLabels          = errors.New("label file has no labels")
	ErrMissingColumn     = errors.New("missing column")
	ErrUnknownLabel      = errors.New("label not in label file")
	ErrInvalidLabelValue = errors.New("multi-label column must be 0 or 1")
)

// Options sind die Eingaben fuer Load
type Options struct {
	Dir       string
	TrainFile string
	ValFile   string
	LabelFile string

	TextCol  string
	LabelCol string

	BatchSizePerGPU int
	MaxSeqLength    int
	MultiGPU        bool
	MultiLabel      bool
	ModelType       string
}

// Split ist eine geladene Train- oder Validierungsdatei
type Split struct {
	Name        string         `json:"name"`
	Path        string         `json:"path"`
	Rows        int            `json:"rows"`
	LabelCounts map[string]int `json:"label_counts"`
	TextLength  TextStats      `json:"text_length"`
}

// DataBunch ist das Ergebnis von Load
type DataBunch struct {
	Options
	Labels []string
	Train  *Split
	Val    *Split
}

// Load liest Train-, Validierungs- und Label-Datei parallel und prueft
// Spalten und Label-Werte.
func Load(ctx context.Context, opts Options) (*DataBunch, error) {
	var train, val *table
	var labels []string

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		train, err = readTable(filepath.Join(opts.Dir, opts.TrainFile))
		return err
	})
	g.Go(func() (err error) {
		val, err = readTable(filepath.Join(opts.Dir, opts.ValFile))
		return err
	})
	g.Go(func() (err error) {
		labels, err = readLabels(filepath.Join(opts.Dir, opts.LabelFile))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	db := &DataBunch{Options: opts, Labels: labels}
	var err error
	if db.Train, err = db.split("train", train); err != nil {
		return nil, err
	}
	if db.Val, err = db.split("val", val); err != nil {
		return nil, err
	}

	if p95 := db.Train.TextLength.P95; opts.MaxSeqLength > 0 && p95 > float64(opts.MaxSeqLength) {
		slog.Warn("most texts are longer than max_seq_length and will be truncated", "p95_words", p95, "max_seq_length", opts.MaxSeqLength)
	}

	slog.Info("databunch loaded", "labels", len(labels), "train", db.Train.Rows, "val", db.Val.Rows, "multi_label", opts.MultiLabel, "text_length", db.Train.TextLength)
	return db, nil
}

// labelColumns gibt die Spalten mit Label-Werten zurueck
func (db *DataBunch) labelColumns() []string {
	if db.MultiLabel {
		return db.Labels
	}
	return []string{db.LabelCol}
}

func (db *DataBunch) split(name string, t *table) (*Split, error) {
	required := append([]string{db.TextCol}, db.labelColumns()...)
	for _, col := range required {
		if !slices.Contains(t.columns, col) {
			return nil, missingColumn(t, col)
		}
	}

	s := &Split{Name: name, Path: t.path, Rows: len(t.rows), LabelCounts: map[string]int{}}
	texts := make([]string, len(t.rows))
	for i, row := range t.rows {
		texts[i] = row[db.TextCol]
		line := i + 2 // Kopfzeile und 1-basiert

		if !db.MultiLabel {
			label := strings.TrimSpace(row[db.LabelCol])
			if !slices.Contains(db.Labels, label) {
				return nil, errors.Wrapf(ErrUnknownLabel, "%s line %d: %q", t.path, line, label)
			}
			s.LabelCounts[label]++
			continue
		}

		for _, label := range db.Labels {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[label]), 64)
			if err != nil || (v != 0 && v != 1) {
				return nil, errors.Wrapf(ErrInvalidLabelValue, "%s line %d column %q: %q", t.path, line, label, row[label])
			}
			if v == 1 {
				s.LabelCounts[label]++
			}
		}
	}
	s.TextLength = textStats(texts)

	for _, label := range db.Labels {
		if s.LabelCounts[label] == 0 {
			slog.Warn("label has no examples", "split", name, "label", label)
		}
	}
	return s, nil
}

// missingColumn baut einen Fehler mit der aehnlichsten vorhandenen Spalte
func missingColumn(t *table, col string) error {
	best, score := "", -1
	for _, c := range t.columns {
		d := levenshtein.ComputeDistance(strings.ToLower(col), strings.ToLower(c))
		if score < 0 || d < score {
			best, score = c, d
		}
	}

	// Nur naheliegende Vorschlaege
	if best != "" && score <= max(2, len(col)/3) {
		return errors.Wrapf(ErrMissingColumn, "%q in %s, did you mean %q?", col, t.path, best)
	}
	return errors.Wrapf(ErrMissingColumn, "%q in %s (columns: %s)", col, t.path, strings.Join(t.columns, ", "))
}

// Spec ist die Beschreibung, mit der der Runner die Datasets baut
type Spec struct {
	DataDir         string   `json:"data_dir"`
	LabelDir        string   `json:"label_dir"`
	TrainFile       string   `json:"train_file"`
	ValFile         string   `json:"val_file"`
	LabelFile       string   `json:"label_file"`
	TextCol         string   `json:"text_col"`
	LabelCol        string   `json:"label_col,omitempty"`
	LabelCols       []string `json:"label_cols,omitempty"`
	Labels          []string `json:"labels"`
	BatchSizePerGPU int      `json:"batch_size_per_gpu"`
	MaxSeqLength    int      `json:"max_seq_length"`
	MultiGPU        bool     `json:"multi_gpu"`
	MultiLabel      bool     `json:"multi_label"`
	ModelType       string   `json:"model_type"`
}

// Spec erzeugt die Runner-Beschreibung
func (db *DataBunch) Spec() Spec {
	s := Spec{
		DataDir:         db.Dir,
		LabelDir:        db.Dir,
		TrainFile:       db.TrainFile,
		ValFile:         db.ValFile,
		LabelFile:       db.LabelFile,
		TextCol:         db.TextCol,
		Labels:          slices.Clone(db.Labels),
		BatchSizePerGPU: db.BatchSizePerGPU,
		MaxSeqLength:    db.MaxSeqLength,
		MultiGPU:        db.MultiGPU,
		MultiLabel:      db.MultiLabel,
		ModelType:       db.ModelType,
	}
	if db.MultiLabel {
		s.LabelCols = slices.Clone(db.Labels)
	} else {
		s.LabelCol = db.LabelCol
	}
	return s
}

// Distribution gibt die Label-Verteilung des Trainings-Splits sortiert aus
func (db *DataBunch) Distribution() string {
	var b strings.Builder
	for _, label := range slices.Sorted(maps.Keys(db.Train.LabelCounts)) {
		fmt.Fprintf(&b, "%s=%d ", label, db.Train.LabelCounts[label])
	}
	return strings.TrimSpace(b.String())
}
