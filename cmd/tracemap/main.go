package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/omaskery/tracemap/pkg/export"
	tio "github.com/omaskery/tracemap/pkg/io"
	"github.com/omaskery/tracemap/pkg/mapping"
	"github.com/omaskery/tracemap/pkg/model"
	"github.com/omaskery/tracemap/pkg/symbols"
)

// errCorrelationAborted marks a trace that could only be correlated up to a broken record
var errCorrelationAborted = errors.New("correlation aborted")

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		abortWithErr("failed to parse arguments", err)
	}

	stdr.SetVerbosity(cfg.Verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("tracemap")

	if err := run(cfg, logger); err != nil {
		abortWithErr("failed to correlate trace", err)
	}
}

// run correlates the input and writes the outputs. A trace that aborts on a broken record still
// has everything correlated before it written out before the error is returned.
func run(cfg *config, logger logr.Logger) error {
	result, diagnostics, correlateErr := correlate(cfg, logger)
	if correlateErr != nil && !errors.Is(correlateErr, errCorrelationAborted) {
		return correlateErr
	}

	if cfg.Actions != "" {
		actions, err := readActions(cfg.Actions)
		if err != nil {
			return err
		}
		result = result.WithActions(actions)
		logger.V(1).Info("merged actions", "count", len(actions))
	}

	var diagnosticsOut *mapping.Diagnostics
	if cfg.Diagnostics {
		diagnosticsOut = &diagnostics
	}
	if err := writeResult(cfg.Output, result, diagnosticsOut); err != nil {
		return err
	}

	if cfg.Tef != "" {
		if err := writeTef(cfg, result, logger); err != nil {
			return err
		}
	}

	if correlateErr != nil {
		return correlateErr
	}

	logger.Info("correlated trace",
		"records", diagnostics.Records,
		"functions", len(result.Functions),
		"invocations", len(result.Invocations),
		"missingCallbacks", diagnostics.MissingCallbacks,
		"unmatchedEnds", diagnostics.UnmatchedEnds,
		"malformedRecords", diagnostics.MalformedRecords)
	return nil
}

func correlate(cfg *config, logger logr.Logger) (model.ResultAggregate, mapping.Diagnostics, error) {
	in, err := openInput(cfg.Input)
	if err != nil {
		return model.ResultAggregate{}, mapping.Diagnostics{}, err
	}
	defer func() {
		_ = in.Close()
	}()

	src, err := tio.NewSource(in)
	if err != nil {
		return model.ResultAggregate{}, mapping.Diagnostics{}, err
	}
	defer func() {
		_ = src.Close()
	}()

	resolver, err := symbols.NewResolver(symbols.WithCacheSize(uint32(cfg.CacheSize)))
	if err != nil {
		return model.ResultAggregate{}, mapping.Diagnostics{}, err
	}

	result, diagnostics, err := mapping.Map(src,
		mapping.WithLogger(logger.WithName("mapping")),
		mapping.WithNameResolver(resolver.Resolve),
	)
	if err != nil {
		logger.Error(err, "correlation aborted, keeping partial result", "recordsHandled", diagnostics.Records)
		return result, diagnostics, fmt.Errorf("%w: %w", errCorrelationAborted, err)
	}
	return result, diagnostics, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record dump: %w", err)
	}
	return f, nil
}

func readActions(path string) ([]model.ActionInterval, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open actions file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return tio.ParseActions(f)
}

func writeResult(path string, result model.ResultAggregate, diagnostics *mapping.Diagnostics) error {
	if path == "-" {
		return tio.WriteResult(os.Stdout, result, diagnostics)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	if err := tio.WriteResult(f, result, diagnostics); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeTef(cfg *config, result model.ResultAggregate, logger logr.Logger) error {
	options := []export.ExporterOption{
		export.WithLogger(logger.WithName("export")),
	}
	if cfg.ShortNames {
		options = append(options, export.WithNameFormatter(symbols.Shorten))
	}

	if cfg.TefFormat == tefFormatObject {
		data := &tio.TefData{}
		data.SetDisplayTimeUnit(tio.DisplayTimeMs)
		data.SetMetadata("source", cfg.Input)
		exporter := export.NewExporter(data, options...)
		exporter.Export(result)
		if exporter.Failures() > 0 {
			return fmt.Errorf("failed to export %d trace events", exporter.Failures())
		}

		f, err := os.Create(cfg.Tef)
		if err != nil {
			return fmt.Errorf("failed to create trace event file: %w", err)
		}
		if err := tio.WriteJsonObject(f, *data); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}

	exporter, err := export.ExportToFile(cfg.Tef, options...)
	if err != nil {
		return err
	}
	exporter.Export(result)
	if err := exporter.Close(); err != nil {
		return err
	}
	if exporter.Failures() > 0 {
		return fmt.Errorf("failed to export %d trace events", exporter.Failures())
	}
	return nil
}

func abortWithErr(reason string, err error) {
	abort(fmt.Sprintf("%s: %v\n", reason, err))
}

func abort(reason string) {
	_, err := os.Stderr.WriteString(reason)
	if err != nil {
		panic(fmt.Sprintf("failed while writing error to terminal: %v", err))
	}
	os.Exit(1)
}
