package table

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ReadCSV parses a table whose first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return New()
	}
	if err != nil {
		return nil, eris.Wrap(err, "table: read header")
	}
	// Spreadsheet exports often start with a byte order mark.
	if len(header) > 0 && len(header[0]) >= 3 && header[0][:3] == "\xef\xbb\xbf" {
		header[0] = header[0][3:]
	}

	t, err := New(header...)
	if err != nil {
		return nil, err
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "table: read row")
		}
		if len(record) != len(header) {
			return nil, eris.Errorf("table: record %d has %d fields, header has %d", line, len(record), len(header))
		}
		t.rows = append(t.rows, record)
	}
	return t, nil
}

// WriteCSV writes the header followed by every row.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.columns); err != nil {
		return eris.Wrap(err, "table: write header")
	}
	for _, row := range t.rows {
		if err := writer.Write(row); err != nil {
			return eris.Wrap(err, "table: write row")
		}
	}
	writer.Flush()
	return eris.Wrap(writer.Error(), "table: flush")
}

// ReadFile loads a CSV file.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "table: open %s", path)
	}
	defer func() { _ = f.Close() }()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, eris.Wrapf(err, "table: %s", path)
	}
	return t, nil
}

// WriteFile saves the table as CSV. The file is replaced atomically so a
// crash never leaves a truncated table behind.
func (t *Table) WriteFile(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "table: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "table: create temp for %s", path)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := t.WriteCSV(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "table: close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "table: rename to %s", path)
	}
	return nil
}
