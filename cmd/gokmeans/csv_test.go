package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gokmeans"
	"github.com/gomlx/gokmeans/devices"
	"github.com/gomlx/gokmeans/layout"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestParseRows(t *testing.T) {
	rows, err := parseRows(strings.NewReader("# x, y\n1, 2\n\n3,4.5\n-1e3, 0\n"))
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 2}, {3, 4.5}, {-1000, 0}}, rows)

	_, err = parseRows(strings.NewReader("1,2\n3\n"))
	require.Error(t, err)
	_, err = parseRows(strings.NewReader("1,x\n"))
	require.Error(t, err)
	_, err = parseRows(strings.NewReader("# nothing\n"))
	require.Error(t, err)
}

func TestReadPointsAndFit(t *testing.T) {
	dir := t.TempDir()
	pointsPath := filepath.Join(dir, "points.csv")
	labelsPath := filepath.Join(dir, "labels.csv")
	require.NoError(t, os.WriteFile(pointsPath, []byte("0,0\n0,1\n10,10\n10,11\n"), 0o644))
	require.NoError(t, os.WriteFile(labelsPath, []byte("0\n0\n1\n1\n"), 0o644))

	points := must.M1(readPoints(pointsPath, true, layout.ColMajor))
	host, ok := points.(*layout.Host[float32])
	require.True(t, ok)
	require.Equal(t, layout.ColMajor, host.Order)
	require.Equal(t, []float32{0, 0, 10, 10, 0, 1, 10, 11}, host.Data)

	labels := must.M1(readLabels(labelsPath))
	require.Equal(t, []float64{0, 0, 1, 1}, labels)

	solver := must.M1(gokmeans.New().WithK(2).WithInitFromLabels(true).
		WithDeviceContext(devices.NewContext(&devices.StaticProber{})).Done())
	defer func() { _ = solver.Close() }()
	fit := must.M1(solver.Fit(points, labels))
	require.Equal(t, []float64{0, 0.5}, fit.Centroids.RawRowView(0))

	_, err := readPoints(filepath.Join(dir, "missing.csv"), false, layout.RowMajor)
	require.Error(t, err)

	// Save the model, and assign the points with the loaded one.
	modelPath := filepath.Join(dir, "model.bin")
	model := must.M1(solver.Model())
	require.NoError(t, os.WriteFile(modelPath, must.M1(model.MarshalBinary()), 0o644))
	loaded := must.M1(loadModel(modelPath))
	require.Equal(t, 2, loaded.K)
	restored := must.M1(gokmeans.New().WithK(*flagK).WithModel(loaded).
		WithDeviceContext(devices.NewContext(&devices.StaticProber{})).Done())
	defer func() { _ = restored.Close() }()
	require.Equal(t, []int{0, 0, 1, 1}, must.M1(restored.Predict(points)))

	_, err = loadModel(filepath.Join(dir, "missing.bin"))
	require.Error(t, err)
	require.NoError(t, os.WriteFile(modelPath, []byte{0xff}, 0o644))
	_, err = loadModel(modelPath)
	require.Error(t, err)
}
