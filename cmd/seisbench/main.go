// Command seisbench writes, inspects and plots waveform datasets.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/seisbench/internal/catalog"
	"github.com/banshee-data/seisbench/internal/config"
	"github.com/banshee-data/seisbench/internal/dataset"
	"github.com/banshee-data/seisbench/internal/plotting"
	"github.com/banshee-data/seisbench/internal/version"
	"github.com/banshee-data/seisbench/internal/writer"
)

var showVersion = flag.Bool("version", false, "Print version information and exit")

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion(os.Stdout)
		return
	}
	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	if err := run(flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case "dummy":
		return handleDummy(args, out)
	case "info":
		return handleInfo(args, out)
	case "plot":
		return handlePlot(args, out)
	case "map":
		return handleMap(args, out)
	case "sessions":
		return handleSessions(args, out)
	case "version":
		printVersion(out)
		return nil
	case "help":
		printUsage()
		return nil
	}
	return fmt.Errorf("unknown command: %s", command)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "seisbench v%s (git SHA: %s, built: %s)\n", version.Version, version.GitSHA, version.BuildTime)
}

func printUsage() {
	fmt.Println(`seisbench - waveform dataset tool

Usage: seisbench <command> [options]

Commands:
  dummy      Write the deterministic dummy dataset to a directory
  info       Print trace count, splits and amplitude summary of a dataset
  plot       Plot one trace of a dataset to a PNG file
  map        Write an HTML map of receiver and source coordinates
  sessions   List writer sessions recorded in a catalog
  version    Show seisbench version
  help       Show this help message

Examples:
  seisbench dummy -out ./dummy -catalog ./catalog.db
  seisbench info -dir ./dummy -config dataset.json
  seisbench plot -dir ./dummy -trace dummy_0000 -out trace.png
  seisbench map -dir ./dummy -out stations.html
  seisbench sessions -catalog ./catalog.db`)
}

func handleDummy(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dummy", flag.ContinueOnError)
	dir := fs.String("out", "", "Target dataset directory (required)")
	traces := fs.Int("traces", 0, "Number of traces (default 100)")
	samples := fs.Int("samples", 0, "Samples per channel (default 1200)")
	seed := fs.Uint64("seed", 0, "Random seed (default 42)")
	catalogPath := fs.String("catalog", "", "Record the writer session in this SQLite catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("-out flag is required")
	}

	opts := []writer.Option{writer.WithDataFormat(dataset.DummyFormat)}
	if *catalogPath != "" {
		cat, err := catalog.Open(*catalogPath)
		if err != nil {
			return err
		}
		defer cat.Close()
		opts = append(opts, writer.WithRecorder(cat))
	}

	generated := dataset.DummyTraces(dataset.DummyOptions{Traces: *traces, Samples: *samples, Seed: *seed})
	err := writer.Write(*dir, func(w *writer.Writer) error {
		for _, tr := range generated {
			if err := w.AddTrace(tr.Meta, tr.Waveform); err != nil {
				return err
			}
		}
		return nil
	}, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %d traces to %s\n", len(generated), *dir)
	return nil
}

// openDataset registers the flags shared by commands that read a dataset and
// returns a loader for after parsing.
func openDataset(fs *flag.FlagSet) func() (*dataset.Dataset, error) {
	dir := fs.String("dir", "", "Dataset directory (required)")
	configPath := fs.String("config", "", "Dataset config JSON file")
	return func() (*dataset.Dataset, error) {
		if *dir == "" {
			return nil, errors.New("-dir flag is required")
		}
		cfg := config.DefaultDatasetConfig()
		if *configPath != "" {
			loaded, err := config.LoadDatasetConfig(*configPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
		return dataset.Load(*dir, cfg)
	}
}

func handleInfo(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	load := openDataset(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := load()
	if err != nil {
		return err
	}
	defer d.Close()

	s, err := d.Summary()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Traces: %d\n", s.Traces)
	for _, name := range s.SplitNames() {
		label := name
		if label == "" {
			label = "(none)"
		}
		fmt.Fprintf(out, "  %-8s %d\n", label, s.Splits[name])
	}
	if s.Traces > 0 {
		fmt.Fprintf(out, "Samples: %d..%d\n", s.MinSamples, s.MaxSamples)
		fmt.Fprintf(out, "Peak amplitude: mean=%.4g std=%.4g max=%.4g\n", s.PeakMean, s.PeakStdDev, s.PeakMax)
	}
	return nil
}

func handlePlot(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	load := openDataset(fs)
	trace := fs.String("trace", "", "Trace name (default: first trace)")
	output := fs.String("out", "", "Output image path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		return errors.New("-out flag is required")
	}
	d, err := load()
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.SetDimensionOrder(config.DefaultDimensionOrder); err != nil {
		return err
	}

	index := 0
	if *trace != "" {
		names, err := d.Metadata().Column(dataset.TraceNameColumn)
		if err != nil {
			return err
		}
		index = -1
		for i, n := range names {
			if n == *trace {
				index = i
				break
			}
		}
		if index < 0 {
			return fmt.Errorf("trace %q not found", *trace)
		}
	}

	wf, row, err := d.GetSample(index)
	if err != nil {
		return err
	}
	if err := plotting.WaveformPNG(*output, row[dataset.TraceNameColumn], wf, d.ComponentOrder()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Plotted %s to %s\n", row[dataset.TraceNameColumn], *output)
	return nil
}

func handleMap(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("map", flag.ContinueOnError)
	load := openDataset(fs)
	output := fs.String("out", "", "Output HTML path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		return errors.New("-out flag is required")
	}
	d, err := load()
	if err != nil {
		return err
	}
	defer d.Close()

	var sets []plotting.Points
	for _, prefix := range []string{"receiver", "source"} {
		meta := d.Metadata()
		if !meta.Has(prefix+"_latitude") || !meta.Has(prefix+"_longitude") {
			continue
		}
		lats, err := meta.Float(prefix + "_latitude")
		if err != nil {
			return err
		}
		lons, err := meta.Float(prefix + "_longitude")
		if err != nil {
			return err
		}
		sets = append(sets, plotting.Points{Name: prefix + "s", Latitudes: lats, Longitudes: lons})
	}
	if len(sets) == 0 {
		return errors.New("dataset has no receiver or source coordinates")
	}

	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	if err := plotting.StationMap(f, fmt.Sprintf("Stations (%d traces)", d.Len()), sets...); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote map to %s\n", *output)
	return nil
}

func handleSessions(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	catalogPath := fs.String("catalog", "", "SQLite catalog path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *catalogPath == "" {
		return errors.New("-catalog flag is required")
	}
	cat, err := catalog.Open(*catalogPath)
	if err != nil {
		return err
	}
	defer cat.Close()

	sessions, err := cat.Sessions()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATE\tTRACES\tSTARTED\tPATH\tERROR")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			s.ID, s.State, s.Traces, s.StartedAt.Format(time.RFC3339), s.Path, s.Error)
	}
	return tw.Flush()
}
