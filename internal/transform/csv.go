// Package transform parses the published CSV files into records, applying
// column remapping and per-field value transforms.
package transform

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sgcars-go/internal/model"
	"sgcars-go/internal/updater"
)

const bom = "\ufeff"

// CSV is the Row Transformer for comma-separated files with a header row.
type CSV struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
}

var _ updater.Transformer = CSV{}

// Transform parses the file at path.
func (c CSV) Transform(path string, cfg updater.TransformConfig) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &updater.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	return c.Parse(f, filepath.Base(path), cfg)
}

// Parse reads delimited text from r. name is used in errors only.
// Every row must have as many cells as the header; any other shape fails the
// whole parse rather than dropping rows.
func (c CSV) Parse(r io.Reader, name string, cfg updater.TransformConfig) ([]model.Record, error) {
	reader := csv.NewReader(r)
	if c.Comma != 0 {
		reader.Comma = c.Comma
	}
	reader.FieldsPerRecord = 0

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &updater.ParseError{File: name, Err: fmt.Errorf("missing header row")}
	}
	if err != nil {
		return nil, csvError(name, err)
	}

	fields, err := destinationFields(header, cfg.Columns)
	if err != nil {
		return nil, &updater.ParseError{File: name, Line: 1, Err: err}
	}
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f] = true
	}
	for field := range cfg.Steps {
		if !present[field] {
			return nil, &updater.ParseError{File: name, Line: 1, Err: fmt.Errorf("transform declared for field %q which the file does not contain", field)}
		}
	}

	var records []model.Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(name, err)
		}

		rec := make(model.Record, len(fields))
		for i, field := range fields {
			v, err := apply(cfg.Steps[field], row[i])
			if err != nil {
				line, _ := reader.FieldPos(i)
				return nil, &updater.ParseError{File: name, Line: line, Err: fmt.Errorf("field %s: %w", field, err)}
			}
			rec[field] = v
		}
		records = append(records, rec)
	}

	return records, nil
}

// destinationFields trims header names, strips a leading byte order mark and
// applies the column mapping.
func destinationFields(header []string, columns map[string]string) ([]string, error) {
	fields := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, bom)
		}
		h = strings.TrimSpace(h)
		if mapped, ok := columns[h]; ok {
			h = mapped
		}
		if h == "" {
			return nil, fmt.Errorf("empty column name at position %d", i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
		fields[i] = h
	}
	return fields, nil
}

func apply(steps []updater.TransformStep, raw string) (any, error) {
	var v any = raw
	for _, s := range steps {
		var err error
		if v, err = s.Apply(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func csvError(name string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &updater.ParseError{File: name, Line: pe.Line, Err: pe.Err}
	}
	return &updater.IOError{Op: "read", Path: name, Err: err}
}
