package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/paveg/tabula"
	"github.com/paveg/tabula/internal/chart"
	"github.com/paveg/tabula/internal/config"
	"github.com/paveg/tabula/internal/logging"
	"github.com/paveg/tabula/internal/store"
	"github.com/paveg/tabula/internal/version"
)

func usage(fs *flag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "tabula CLI (version %s)\n\n", version.Version)
		fmt.Fprintf(w, "Usage:\n")
		fmt.Fprintf(w, "  tabula-cli -profile FILE [-export OUT.parquet]\n")
		fmt.Fprintf(w, "  tabula-cli -chart FILE -request JSON|@FILE\n\n")
		fmt.Fprintf(w, "Options:\n")
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}

type options struct {
	profile string
	export  string
	chart   string
	request string
	format  string
	engine  string
	config  string
	version bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tabula-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var opts options
	fs.StringVar(&opts.profile, "profile", "", "Profile FILE and print its schema")
	fs.StringVar(&opts.export, "export", "", "With -profile, also write FILE as Parquet to OUT")
	fs.StringVar(&opts.chart, "chart", "", "Build a chart from FILE")
	fs.StringVar(&opts.request, "request", "", "Chart parameters as JSON, or @FILE to read them from a file")
	fs.StringVar(&opts.format, "format", "json", "Output format: json or yaml")
	fs.StringVar(&opts.engine, "engine", "", "Chart engine: arrow or sqlite (default from config)")
	fs.StringVar(&opts.config, "config", "", "YAML or JSON config file (TABULA_* variables override it)")
	fs.BoolVar(&opts.version, "version", false, "Print version information and exit")
	fs.BoolVar(&opts.version, "v", false, "Print version information and exit")
	fs.Usage = usage(fs, stderr)

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			fs.Usage()
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		fs.Usage()
		return 2
	}

	if opts.version {
		fmt.Fprint(stdout, version.Info().String())
		return 0
	}
	if opts.format != "json" && opts.format != "yaml" {
		fmt.Fprintf(stderr, "error: unknown format %q\n", opts.format)
		return 2
	}
	if (opts.profile == "") == (opts.chart == "") {
		fs.Usage()
		return 2
	}
	if opts.export != "" && opts.profile == "" {
		fmt.Fprintln(stderr, "error: -export needs -profile")
		return 2
	}
	if opts.chart != "" && opts.request == "" {
		fmt.Fprintln(stderr, "error: -chart needs -request")
		return 2
	}

	out, err := execute(ctx, opts)
	if err != nil {
		fmt.Fprintf(stderr, "error: %s\n", logging.SanitizeError(err))
		return 1
	}
	if err := write(stdout, opts.format, out); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, opts options) (any, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, err
	}
	if opts.engine != "" {
		cfg.Engine.Kind = opts.engine
	}
	cfg.Store.Driver = config.DriverMemory

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	// one-shot runs never persist datasets
	svc, err := tabula.New(cfg, store.NewMemoryStore(), nil, tabula.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	if opts.profile != "" {
		f, err := os.Open(opts.profile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if opts.export != "" {
			return export(ctx, svc, f, opts.profile, opts.export)
		}
		return svc.Profile(ctx, f, opts.profile)
	}

	params, err := requestBody(opts.request)
	if err != nil {
		return nil, err
	}
	req, err := chart.Decode(params)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(opts.chart)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return svc.ChartFile(ctx, f, opts.chart, req)
}

// export writes the Parquet copy to a temporary file and renames it into
// place once complete.
func export(ctx context.Context, svc *tabula.Service, r io.Reader, filename, out string) (*tabula.DatasetSchema, error) {
	tmp, err := os.CreateTemp(filepath.Dir(out), ".tabula-export-*")
	if err != nil {
		return nil, fmt.Errorf("create export: %w", err)
	}
	defer os.Remove(tmp.Name())

	ds, err := svc.Export(ctx, r, filename, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close export: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return nil, fmt.Errorf("create export: %w", err)
	}
	return ds, nil
}

func requestBody(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
		return data, nil
	}
	return []byte(arg), nil
}

// write renders v with its JSON field names in either format.
func write(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if format == "json" {
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(numbersToFloats(generic)); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}

// numbersToFloats turns json.Number leaves into int64 or float64 for YAML.
func numbersToFloats(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = numbersToFloats(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = numbersToFloats(e)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
