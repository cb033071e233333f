// Package metrics waehlt die Metriken, die der Runner waehrend der
// Validierung berechnet. Die Berechnung selbst ist Sache des Runners.
package metrics

import "slices"

// Metric benennt eine Runner-Metrik
type Metric struct {
	Name     string  `json:"name"`
	Function string  `json:"function"`
	Thresh   float64 `json:"thresh,omitempty"`
	Beta     float64 `json:"beta,omitempty"`
}

var (
	singleLabel = []Metric{
		{Name: "accuracy", Function: "accuracy"},
	}

	multiLabel = []Metric{
		{Name: "accuracy_thresh", Function: "accuracy_thresh", Thresh: 0.5},
		{Name: "roc_auc", Function: "roc_auc"},
		{Name: "fbeta", Function: "fbeta", Thresh: 0.2, Beta: 2},
	}
)

// Select gibt die Metriken fuer Single- oder Multi-Label-Klassifikation zurueck
func Select(isMultiLabel bool) []Metric {
	if isMultiLabel {
		return slices.Clone(multiLabel)
	}
	return slices.Clone(singleLabel)
}

// Names gibt die Namen der Metriken zurueck
func Names(metrics []Metric) []string {
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = m.Name
	}
	return names
}
