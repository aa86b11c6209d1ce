package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"code.cloudfoundry.org/bytefmt"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/logger"
	"github.com/alxayo/go-container/internal/urlproto"
)

// jobFile is the top-level YAML document accepted by -jobs: a list of
// independent remux or probe operations run in order.
type jobFile struct {
	Jobs []job `yaml:"jobs"`
}

// job describes one remux (Output set) or probe (Output empty) operation.
type job struct {
	Name        string `yaml:"name"`
	Input       string `yaml:"input"`
	InputFormat string `yaml:"input_format,omitempty"`
	Output      string `yaml:"output,omitempty"`
	OutputFmt   string `yaml:"output_format,omitempty"`
	Streams     []int  `yaml:"streams,omitempty"` // stream indices to carry; empty means all
}

func loadJobFile(path string) (*jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	var jf jobFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("parsing job file: %w", err)
	}
	if len(jf.Jobs) == 0 {
		return nil, fmt.Errorf("job file %q declares no jobs", path)
	}
	for i, j := range jf.Jobs {
		if j.Input == "" {
			return nil, fmt.Errorf("job %d (%q): input is required", i, j.Name)
		}
	}
	return &jf, nil
}

// runJob executes one job: probes (if Output is empty) or remuxes (copies
// every selected packet from the input demuxer straight into the output
// muxer, codec payloads untouched).
func runJob(ctx context.Context, formats *avformat.Registry, protos *urlproto.Registry, j job) error {
	log := logger.Logger().With("job", j.Name, "input", j.Input)

	in, err := avformat.OpenInput(ctx, protos, formats, j.Input, j.InputFormat)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close(ctx)

	if err := avformat.FindStreamInfo(ctx, in, 64); err != nil {
		return fmt.Errorf("probing streams: %w", err)
	}

	if j.Output == "" {
		return printProbe(log, in)
	}

	out, err := avformat.OpenOutput(ctx, protos, formats, j.Output, j.OutputFmt, "")
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer out.Close(ctx)

	wanted := make(map[int]bool)
	for _, idx := range j.Streams {
		wanted[idx] = true
	}
	selectAll := len(j.Streams) == 0

	streamMap := make(map[int]int) // input index -> output index
	for _, st := range in.Streams() {
		if selectAll || wanted[st.Index] {
			outSt, err := out.NewStream()
			if err != nil {
				return fmt.Errorf("mapping stream %d: %w", st.Index, err)
			}
			outSt.Codec = st.Codec
			streamMap[st.Index] = outSt.Index
		}
	}

	var packets, bytesCopied int64
	for {
		pkt, err := in.ReadPacket(ctx)
		if err != nil {
			break // EOF or unrecoverable read error ends the job
		}
		outIdx, ok := streamMap[pkt.StreamIndex]
		if !ok {
			continue
		}
		pkt.StreamIndex = outIdx
		if err := out.WritePacket(ctx, pkt); err != nil {
			return fmt.Errorf("writing packet: %w", err)
		}
		packets++
		bytesCopied += int64(pkt.Size())
	}

	log.Info("remux complete", "packets", packets, "bytes", bytesCopied, "size", bytefmt.ByteSize(uint64(bytesCopied)))
	return nil
}

func printProbe(log *slog.Logger, fc *avformat.FormatContext) error {
	fmt.Printf("input: %s\n", fc.Filename)
	for _, st := range fc.Streams() {
		fmt.Printf("  stream %d: type=%s codec=%s width=%d height=%d duration_ms=%d\n",
			st.Index, st.Codec.Type, st.Codec.ID, st.Codec.Width, st.Codec.Height, st.DurationMS)
	}
	log.Info("probe complete", "streams", len(fc.Streams()))
	return nil
}
