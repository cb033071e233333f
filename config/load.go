// Package config - Laden von training_config.json und hyperparameters.json
//
// Beide Dateien sind untypisierte JSON-Dokumente. SageMaker uebergibt
// Hyperparameter grundsaetzlich als Strings ("8", "6e-5", "True"), daher
// wird schwach typisiert dekodiert: Defaults (structs) < Datei < Umgebung.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvOverridePrefix markiert Umgebungsvariablen, die Hyperparameter ueberschreiben
const EnvOverridePrefix = "FASTBERT_HP_"

// ErrInvalid wird von allen Validierungsfehlern umschlossen
var ErrInvalid = errors.New("invalid configuration")

// load liest defaults, dann die JSON-Datei und optional Umgebungsvariablen
// und dekodiert das Ergebnis nach out.
func load(path string, defaults any, envPrefix string, out any) error {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults, "json"), nil); err != nil {
		return errors.Wrap(err, "loading defaults")
	}

	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}

	if envPrefix != "" {
		err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
			return strings.ToLower(strings.TrimPrefix(s, envPrefix))
		}), nil)
		if err != nil {
			return errors.Wrapf(err, "loading %s* overrides", envPrefix)
		}
	}

	if err := k.UnmarshalWithConf("", out, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}
