package roster

import (
	"encoding/csv"
	"io"

	"github.com/pkg/errors"
)

// ReadCSV reads a header row followed by data rows. Ragged rows are kept as is.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, errors.Wrap(err, "failed to read roster header")
	}

	t := Table{Header: header}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, errors.Wrap(err, "failed to read roster row")
		}
		if isBlank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// Load reads a CSV roster and normalizes it.
func Load(r io.Reader) (*Roster, error) {
	t, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return Normalize(t)
}

func isBlank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
