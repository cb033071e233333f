package databunch

import (
	"log/slog"
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// TextStats beschreibt die Textlaengen einer Datei in Woertern
type TextStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	P95  float64 `json:"p95"`
	Max  float64 `json:"max"`
}

func (s TextStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("mean", s.Mean),
		slog.Float64("p95", s.P95),
		slog.Float64("max", s.Max),
	)
}

func textStats(texts []string) TextStats {
	if len(texts) == 0 {
		return TextStats{}
	}
	lengths := make([]float64, len(texts))
	for i, text := range texts {
		lengths[i] = float64(len(strings.Fields(text)))
	}
	slices.Sort(lengths)

	mean, std := stat.MeanStdDev(lengths, nil)
	if len(lengths) == 1 {
		std = 0
	}
	return TextStats{
		Mean: mean,
		Std:  std,
		P95:  stat.Quantile(0.95, stat.Empirical, lengths, nil),
		Max:  lengths[len(lengths)-1],
	}
}
