package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gokmeans/dtypes"
	"github.com/gomlx/gokmeans/layout"
	"github.com/pkg/errors"
)

// readPoints reads a CSV file with one point per row into a layout.Host of float32 or float64, stored with
// the given order.
func readPoints(path string, useFloat32 bool, order layout.Order) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open points file")
	}
	defer func() { _ = f.Close() }()
	rows, err := parseRows(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading points from %q", path)
	}
	if useFloat32 {
		return toHost[float32](rows, order)
	}
	return toHost[float64](rows, order)
}

// parseRows parses CSV rows of numbers. Empty lines and lines starting with "#" are skipped, and all rows must
// have the same number of fields.
func parseRows(r io.Reader) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	var rows [][]float64
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "invalid CSV")
		}
		row := make([]float64, len(record))
		for j, field := range record {
			row[j], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				line, _ := reader.FieldPos(j)
				return nil, errors.Wrapf(err, "line %d, field %d", line, j+1)
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("no rows found")
	}
	return rows, nil
}

func toHost[T dtypes.Float](rows [][]float64, order layout.Order) (*layout.Host[T], error) {
	host, err := layout.NewHost[T](len(rows), len(rows[0]), order, nil)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		for j, v := range row {
			host.Set(i, j, T(v))
		}
	}
	return host, nil
}

// readLabels reads one label per line, from the first field of a CSV file.
func readLabels(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open labels file")
	}
	defer func() { _ = f.Close() }()
	reader := csv.NewReader(f)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	var labels []float64
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "invalid labels file %q", path)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, errors.Wrapf(err, "labels file %q, line %d", path, line)
		}
		labels = append(labels, v)
	}
	return labels, nil
}
