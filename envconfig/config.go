// config.go - Haupt-Konfigurationsfunktionen fuer den Trainings-Job
//
// Dieses Modul enthaelt:
// - Prefix: Gibt das Job-Wurzelverzeichnis zurueck (FASTBERT_PREFIX)
// - Runner: Gibt die Kommandozeile des ML-Runners zurueck (FASTBERT_RUNNER)
// - Python: Gibt den Interpreter des mitgelieferten Runners zurueck (FASTBERT_PYTHON)
// - LoadTimeout: Gibt Load-Timeout zurueck (FASTBERT_LOAD_TIMEOUT)
// - MasterPort: Gibt den Port der Process-Group zurueck (FASTBERT_MASTER_PORT)
// - S3Output: Gibt das S3-Ziel fuer Artefakte zurueck (FASTBERT_S3_OUTPUT)
// - LogLevel: Gibt Log-Level zurueck (FASTBERT_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_devices.go: GPU-Variablen und Feature-Flags
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPrefix ist das Wurzelverzeichnis eines SageMaker-Trainings-Containers
const DefaultPrefix = "/opt/ml"

// DefaultPython ist der Interpreter fuer den mitgelieferten Runner
const DefaultPython = "python3"

// Prefix gibt das Job-Wurzelverzeichnis zurueck
// Konfigurierbar via FASTBERT_PREFIX
// Default: /opt/ml
func Prefix() string {
	if s := Var("FASTBERT_PREFIX"); s != "" {
		return s
	}
	return DefaultPrefix
}

// Runner gibt die Kommandozeile des ML-Runners als Argument-Liste zurueck
// Konfigurierbar via FASTBERT_RUNNER (durch Leerzeichen getrennt)
// Leer = mitgelieferter Runner mit Python()
func Runner() []string {
	return strings.Fields(Var("FASTBERT_RUNNER"))
}

// Python gibt den Interpreter fuer den mitgelieferten Runner zurueck
// Konfigurierbar via FASTBERT_PYTHON
// Default: python3
func Python() string {
	if s := Var("FASTBERT_PYTHON"); s != "" {
		return s
	}
	return DefaultPython
}

// LoadTimeout gibt das Timeout fuer das Laden im Runner zurueck
// Konfigurierbar via FASTBERT_LOAD_TIMEOUT
// 0 oder negative Werte = unendlich
// Default: 5 Minuten
func LoadTimeout() (loadTimeout time.Duration) {
	loadTimeout = 5 * time.Minute
	if s := Var("FASTBERT_LOAD_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			loadTimeout = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			loadTimeout = time.Duration(n) * time.Second
		}
	}

	if loadTimeout <= 0 {
		return time.Duration(math.MaxInt64)
	}

	return loadTimeout
}

// MasterPort gibt den TCP-Port fuer die Process-Group zurueck
// Konfigurierbar via FASTBERT_MASTER_PORT
// Default: 23459
func MasterPort() int {
	const defaultPort = 23459
	s := Var("FASTBERT_MASTER_PORT")
	if s == "" {
		return defaultPort
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n <= 0 || n > 65535 {
		slog.Warn("invalid port, using default", "port", s, "default", defaultPort)
		return defaultPort
	}
	return int(n)
}

// S3Output gibt das S3-Ziel fuer die Artefakte zurueck (leer = kein Upload)
func S3Output() string {
	return Var("FASTBERT_S3_OUTPUT")
}

// AWSRegion gibt die Region fuer den S3-Client zurueck
// Default: us-east-1
func AWSRegion() string {
	for _, k := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if s := Var(k); s != "" {
			return s
		}
	}
	return "us-east-1"
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via FASTBERT_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("FASTBERT_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
