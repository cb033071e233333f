package config

import (
	"slices"
)

// LRSchedules sind die Lernraten-Verlaeufe, die der Runner kennt
var LRSchedules = []string{
	"none", "warmup_constant", "warmup_linear", "warmup_cosine", "warmup_cosine_hard_restarts",
}

// OptimizerTypes sind die unterstuetzten Optimizer
var OptimizerTypes = []string{"adamw", "lamb"}

// Hyperparameters ist der Inhalt von hyperparameters.json
type Hyperparameters struct {
	Epochs         int     `json:"epochs"`
	LR             float64 `json:"lr"`
	TrainBatchSize int     `json:"train_batch_size"`
	MaxSeqLength   int     `json:"max_seq_length"`

	LRSchedule    string `json:"lr_schedule"`
	WarmupSteps   int    `json:"warmup_steps"`
	OptimizerType string `json:"optimizer_type"`

	// LossScale 0 bedeutet dynamisches Loss-Scaling bei fp16
	LossScale int `json:"loss_scale"`
}

// DefaultHyperparameters liefert die Werte fuer optionale Schluessel
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LRSchedule:    "warmup_cosine",
		OptimizerType: "lamb",
	}
}

// LoadHyperparameters liest hyperparameters.json. Umgebungsvariablen mit
// dem Prefix FASTBERT_HP_ ueberschreiben einzelne Werte.
func LoadHyperparameters(path string) (*Hyperparameters, error) {
	h := DefaultHyperparameters()
	if err := load(path, h, EnvOverridePrefix, &h); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// Validate prueft Pflichtfelder und Wertebereiche
func (h *Hyperparameters) Validate() error {
	switch {
	case h.Epochs <= 0:
		return invalid("hyperparameters: epochs must be positive, got %d", h.Epochs)
	case h.LR <= 0:
		return invalid("hyperparameters: lr must be positive, got %g", h.LR)
	case h.TrainBatchSize <= 0:
		return invalid("hyperparameters: train_batch_size must be positive, got %d", h.TrainBatchSize)
	case h.MaxSeqLength <= 0:
		return invalid("hyperparameters: max_seq_length must be positive, got %d", h.MaxSeqLength)
	case h.WarmupSteps < 0:
		return invalid("hyperparameters: warmup_steps must not be negative")
	case h.LossScale < 0:
		return invalid("hyperparameters: loss_scale must not be negative")
	case !slices.Contains(LRSchedules, h.LRSchedule):
		return invalid("hyperparameters: unknown lr_schedule %q", h.LRSchedule)
	case !slices.Contains(OptimizerTypes, h.OptimizerType):
		return invalid("hyperparameters: unknown optimizer_type %q", h.OptimizerType)
	}
	return nil
}
