package databunch

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/emirpasic/gods/v2/sets/linkedhashset"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// table ist eine eingelesene CSV-Datei
type table struct {
	path    string
	columns []string
	rows    []map[string]string
}

// openDecoded oeffnet path und entfernt ein UTF-8/UTF-16 BOM
func openDecoded(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	tr := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	return struct {
		io.Reader
		io.Closer
	}{transform.NewReader(f, tr), f}, nil
}

// readTable liest eine CSV-Datei mit Kopfzeile
func readTable(path string) (*table, error) {
	rc, err := openDecoded(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err == io.EOF {
		return nil, errors.Wrapf(ErrEmpty, "%s", path)
	} else if err != nil {
		return nil, errors.Wrapf(err, "parse header of %s", path)
	}

	rows, err := gocsv.CSVToMaps(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrEmpty, "%s", path)
	}
	return &table{path: path, columns: header, rows: rows}, nil
}

// readLabels liest eine Label-Datei, ein Label pro Zeile. Doppelte Eintraege
// werden entfernt, die Reihenfolge bleibt erhalten.
func readLabels(path string) ([]string, error) {
	rc, err := openDecoded(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer rc.Close()

	set := linkedhashset.New[string]()
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		label := strings.TrimSpace(scanner.Text())
		// Anfuehrungszeichen aus Excel-Exporten
		label = strings.Trim(label, `"`)
		if label == "" {
			continue
		}
		if set.Contains(label) {
			continue
		}
		set.Add(label)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if set.Size() == 0 {
		return nil, errors.Wrapf(ErrNoLabels, "%s", path)
	}
	return set.Values(), nil
}
