package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v3"

	"github.com/omaskery/tracemap/pkg/symbols"
)

const (
	tefFormatArray  = "array"
	tefFormatObject = "object"
)

var (
	inputHelp     = "Record dump to correlate: a JSON array or JSON lines, optionally zstd compressed. '-' reads stdin."
	outputHelp    = "Where to write the correlated tables as JSON. '-' writes stdout."
	tefHelp       = "Optional path of a Trace Event Format file to export for chrome://tracing or Perfetto."
	tefFormatHelp = fmt.Sprintf("Trace Event Format flavour, '%s' streams events, '%s' adds file metadata.",
		tefFormatArray, tefFormatObject)
	actionsHelp    = "Optional JSON file of action intervals to merge into the result."
	cacheSizeHelp  = "Number of demangled names to memoise, 0 disables the cache."
	shortNamesHelp = "Abbreviate well known long function names in the exported trace."
	diagHelp       = "Include correlation diagnostics in the result file."
	verbosityHelp  = "Log verbosity, 1 lists skipped records and missing callbacks."
	configHelp     = "Optional config file of 'flag value' lines."
)

type config struct {
	Input       string
	Output      string
	Tef         string
	TefFormat   string
	Actions     string
	CacheSize   uint
	ShortNames  bool
	Diagnostics bool
	Verbosity   int
}

func parseArgs(args []string) (*config, error) {
	var cfg config

	fs := flag.NewFlagSet("tracemap", flag.ExitOnError)

	fs.StringVar(&cfg.Actions, "actions", "", actionsHelp)
	fs.String("config", "", configHelp)
	fs.UintVar(&cfg.CacheSize, "demangle-cache-size", symbols.DefaultCacheSize, cacheSizeHelp)
	fs.BoolVar(&cfg.Diagnostics, "diagnostics", true, diagHelp)
	fs.StringVar(&cfg.Input, "input", "-", inputHelp)
	fs.StringVar(&cfg.Output, "output", "-", outputHelp)
	fs.BoolVar(&cfg.ShortNames, "short-names", false, shortNamesHelp)
	fs.StringVar(&cfg.Tef, "tef", "", tefHelp)
	fs.StringVar(&cfg.TefFormat, "tef-format", tefFormatArray, tefFormatHelp)
	fs.IntVar(&cfg.Verbosity, "v", 0, verbosityHelp)

	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "usage: tracemap [flags]\n")
		fs.PrintDefaults()
	}

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("TRACEMAP"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	)
	if err != nil {
		return nil, err
	}

	if cfg.TefFormat != tefFormatArray && cfg.TefFormat != tefFormatObject {
		return nil, fmt.Errorf("unknown trace event format '%s'", cfg.TefFormat)
	}
	if cfg.CacheSize > uint(^uint32(0)) {
		return nil, fmt.Errorf("demangle cache size %d is too large", cfg.CacheSize)
	}

	return &cfg, nil
}
