package main

import (
	"errors"
	"flag"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user-supplied flag values prior to validation, mirroring
// the split between flag parsing and config translation used elsewhere in
// this module's command-line tools.
type cliConfig struct {
	jobsPath    string
	input       string
	output      string
	inputFormat string
	outputFmt   string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("containertool", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.jobsPath, "jobs", "", "YAML job file describing one or more probe/remux operations")
	fs.StringVar(&cfg.input, "i", "", "single input URI (alternative to -jobs)")
	fs.StringVar(&cfg.output, "o", "", "single output URI; omitted means probe-only")
	fs.StringVar(&cfg.inputFormat, "input-format", "", "explicit input format short name (skips probing)")
	fs.StringVar(&cfg.outputFmt, "output-format", "", "explicit output format short name (skips extension guessing)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: " + cfg.logLevel)
	}

	if cfg.showVersion {
		return cfg, nil
	}
	if cfg.jobsPath == "" && cfg.input == "" {
		return nil, errors.New("one of -jobs or -i is required")
	}
	if cfg.jobsPath != "" && cfg.input != "" {
		return nil, errors.New("-jobs and -i are mutually exclusive")
	}

	return cfg, nil
}
