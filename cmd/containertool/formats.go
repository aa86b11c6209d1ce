package main

import (
	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/container/asf"
	"github.com/alxayo/go-container/internal/container/au"
	"github.com/alxayo/go-container/internal/container/avi"
	"github.com/alxayo/go-container/internal/container/crc"
	"github.com/alxayo/go-container/internal/container/gif"
	"github.com/alxayo/go-container/internal/container/imageseq"
	"github.com/alxayo/go-container/internal/container/mjpeg"
	"github.com/alxayo/go-container/internal/container/mov"
	"github.com/alxayo/go-container/internal/container/mpegps"
	"github.com/alxayo/go-container/internal/container/ogg"
	"github.com/alxayo/go-container/internal/container/raw"
	"github.com/alxayo/go-container/internal/container/wav"
)

// registerFormats wires every container package this module implements
// into one process-wide registry, in the order spec.md §2 lists the
// per-container modules.
func registerFormats() *avformat.Registry {
	formats := avformat.NewRegistry()

	formats.RegisterOutput(wav.Muxer{})
	formats.RegisterInput(wav.Demuxer{})

	formats.RegisterOutput(au.Muxer{})
	formats.RegisterInput(au.Demuxer{})

	formats.RegisterOutput(crc.Muxer{})

	formats.RegisterOutput(avi.Muxer{})
	formats.RegisterInput(avi.Demuxer{})

	formats.RegisterOutput(asf.Muxer{})
	formats.RegisterInput(asf.Demuxer{})

	formats.RegisterInput(mov.Demuxer{}) // demux only, matching the source

	formats.RegisterOutput(mpegps.Muxer{})
	formats.RegisterInput(mpegps.Demuxer{})

	raw.RegisterAll(formats)
	imageseq.RegisterAll(formats)
	gif.RegisterAll(formats)  // mux only
	ogg.RegisterAll(formats)  // mux only
	mjpeg.RegisterAll(formats)

	return formats
}
