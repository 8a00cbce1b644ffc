// gokmeans clusters the points of a CSV file with k-means, and prints the centroids.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gokmeans"
	"github.com/gomlx/gokmeans/devices"
	"github.com/gomlx/gokmeans/kmeans"
	"github.com/gomlx/gokmeans/layout"
	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

var (
	flagData           = flag.String("data", "", "CSV file with one point per row")
	flagLabels         = flag.String("labels", "", "Optional file with one label per point, used with -init_from_labels")
	flagK              = flag.Int("k", gokmeans.DefaultK, "Number of clusters")
	flagMaxIterations  = flag.Int("max_iterations", gokmeans.DefaultMaxIterations, "Maximum number of iterations")
	flagThreshold      = flag.Float64("threshold", gokmeans.DefaultThreshold, "Fraction of points changing cluster below which the fit is converged")
	flagNumDevices     = flag.Int("n_gpus", gokmeans.DefaultDeviceCount, "Number of devices to use: 0 for the CPU, -1 for all")
	flagDeviceID       = flag.Int("gpu_id", 0, "First device to use")
	flagInitFromLabels = flag.Bool("init_from_labels", false, "Initialize the centroids with the mean of the points of each label")
	flagInitLabels     = flag.String("init_labels", "randomselect", "Starting assignment of points: random or randomselect")
	flagInitData       = flag.String("init_data", "randomselect", "Starting centroids: random, selectstrat or randomselect")
	flagSeed           = flag.Uint64("seed", 0, "Seed of the random initialization")
	flagFloat32        = flag.Bool("float32", false, "Cluster in float32 precision")
	flagColMajor       = flag.Bool("col_major", false, "Store the points column-major")
	flagEngine         = flag.String("engine", "", "Engine to use: cpu, accelerated or auto (default from $"+gokmeans.EngineEnv+")")
	flagSave           = flag.String("save", "", "File where to save the fitted model")
	flagLoad           = flag.String("load", "", "File of a saved model: the points are assigned to its clusters instead of fitted")
	flagListDevices    = flag.Bool("list_devices", false, "List the devices found and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `gokmeans clusters the points of a CSV file with k-means.

$ gokmeans -data=<points.csv> -k=<number of clusters> [-save=<model.bin>]
$ gokmeans -data=<points.csv> -load=<model.bin>

Each row of the CSV file is a point, and all rows must have the same number of columns. The fitted centroids
are printed, along with the number of empty clusters dropped and the timings. With -load, the points are
assigned to the clusters of the saved model instead, and their labels printed one per line.

Usage:
`)
		flag.PrintDefaults()
	}
	klog.InitFlags(nil)
	flag.Parse()

	if *flagListDevices {
		listDevices()
		return
	}
	if *flagData == "" {
		fmt.Fprintln(os.Stderr, "The points must be given with the -data flag!")
		fmt.Fprintln(os.Stderr)
		flag.Usage()
		os.Exit(1)
	}

	order := layout.RowMajor
	if *flagColMajor {
		order = layout.ColMajor
	}
	points := must.M1(readPoints(*flagData, *flagFloat32, order))
	var labels any
	if *flagLabels != "" {
		labels = must.M1(readLabels(*flagLabels))
	}

	config := gokmeans.New().
		WithK(*flagK).
		WithMaxIterations(*flagMaxIterations).
		WithThreshold(*flagThreshold).
		WithDeviceCount(*flagNumDevices).
		WithDeviceID(*flagDeviceID).
		WithInitFromLabels(*flagInitFromLabels).
		WithInitLabels(must.M1(kmeans.ParseInitLabelsMode(*flagInitLabels))).
		WithInitData(must.M1(kmeans.ParseInitDataMode(*flagInitData))).
		WithSeed(*flagSeed)
	if *flagEngine != "" {
		config = config.WithEngine(*flagEngine)
	}
	if *flagLoad != "" {
		config = config.WithModel(must.M1(loadModel(*flagLoad)))
	}
	solver, err := config.Done()
	if err != nil {
		klog.Fatal(err)
	}
	defer func() { _ = solver.Close() }()

	if *flagLoad != "" {
		labels, err := solver.Predict(points)
		if err != nil {
			klog.Fatal(err)
		}
		for _, label := range labels {
			fmt.Println(label)
		}
		return
	}

	fit, err := solver.Fit(points, labels)
	if err != nil {
		klog.Fatal(err)
	}
	fmt.Printf("Engine %q on %d device(s): %d iterations (converged=%v)\n",
		solver.EngineName(), solver.DeviceCount(), fit.Iterations, fit.Converged)
	fmt.Printf("Centroids (k=%d, %d empty clusters dropped):\n%v\n",
		fit.K, fit.Dropped, mat.Formatted(fit.Centroids, mat.Prefix(""), mat.Squeeze()))
	fmt.Printf("Timings: init %s, iterations %s, total %s\n", fit.InitTime, fit.IterTime, fit.TotalTime)

	if *flagSave != "" {
		model := must.M1(solver.Model())
		must.M(os.WriteFile(*flagSave, must.M1(model.MarshalBinary()), 0o644))
		fmt.Printf("Model saved to %q\n", *flagSave)
	}
}

func listDevices() {
	devs := devices.NewContext(nil)
	defer devs.Shutdown()
	n, found := devs.Discover()
	fmt.Printf("Host: %s\n", devices.HostDescription())
	if err := devs.Err(); err != nil {
		fmt.Printf("Device discovery failed: %v\n", err)
	}
	fmt.Printf("%d device(s) found", n)
	if version := devs.DriverVersion(); version != "" {
		fmt.Printf(", driver version %s", version)
	}
	fmt.Println()
	for _, d := range found {
		fmt.Printf("\t%s\n", d)
	}
	fmt.Printf("Engines: %q\n", kmeans.Names())
}
