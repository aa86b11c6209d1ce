// Command containertool drives the container muxers/demuxers in this module
// against one or more probe/remux jobs, either a single -i/-o pair or a
// declarative -jobs YAML file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alxayo/go-container/internal/logger"
	"github.com/alxayo/go-container/internal/urlproto"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "containertool:", err)
		return 2
	}

	if cfg.showVersion {
		fmt.Println("containertool", version)
		return 0
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "containertool:", err)
		return 2
	}
	log := logger.Logger().With("component", "cli")

	ctx := context.Background()
	formats := registerFormats()
	protos := urlproto.Default()

	var jobs []job
	if cfg.jobsPath != "" {
		jf, err := loadJobFile(cfg.jobsPath)
		if err != nil {
			log.Error("loading job file", "error", err)
			return 1
		}
		jobs = jf.Jobs
	} else {
		jobs = []job{{
			Name:        "cli",
			Input:       cfg.input,
			InputFormat: cfg.inputFormat,
			Output:      cfg.output,
			OutputFmt:   cfg.outputFmt,
		}}
	}

	exit := 0
	for _, j := range jobs {
		if err := runJob(ctx, formats, protos, j); err != nil {
			log.Error("job failed", "job", j.Name, "error", err)
			exit = 1
			continue
		}
	}
	return exit
}
