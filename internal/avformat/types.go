// Package avformat implements the top-level container model of spec.md
// §2 items 5–7: the muxer/demuxer trait, the format registry with
// guess-by-name/extension/MIME scoring, and the FormatContext lifecycle
// (open-for-read/open-for-write, info-probing, close).
package avformat

import (
	"context"

	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/codectags"
)

// Constants the external caller must know (spec.md §6).
const (
	MaxStreams     = 20
	FFMPacketSize  = 4096
	ASFPacketSize  = 3200
	FrameRateBase  = 1000000
)

// AVFMTNeedNumber declares that an output format requires a %d token in its
// filename template (image sequences, spec.md §6).
const AVFMTNeedNumber = 1

// CodecParameters mirrors spec.md §3 Stream's embedded codec parameters.
type CodecParameters struct {
	Type          codectags.CodecType
	ID            codectags.ID
	Tag           uint32
	BitRate       int64
	Width         int
	Height        int
	FrameRateNum  int // numerator over FrameRateBase
	Channels      int
	SampleRate    int
	BitsPerSample int
	BlockAlign    int
	KeyFrame      bool
	FrameSize     int // samples per encoded audio frame; used by ASF's per-frame PTS derivation
}

// Stream is a single elementary stream within a FormatContext (spec.md §3).
type Stream struct {
	Index    int
	ID       int // format-specific stream id (e.g. ASF's 1-based stream number)
	Codec    CodecParameters
	Priv     any // per-demuxer private state (tagged by the owning format)
	RFrameRate   int   // real frame rate (numerator over FrameRateBase); no code in this module sets it, FindStreamInfo included
	DurationMS   int64 // stream duration; no code in this module sets it, FindStreamInfo included
}

// Metadata is the textual metadata carried on a FormatContext (spec.md §6;
// up to 512 bytes each, UTF-8 at the API edge — not enforced here since Go
// strings are already UTF-8 and truncation is a muxer-specific concern).
type Metadata struct {
	Title     string
	Author    string
	Copyright string
	Comment   string
}

// Muxer is the write-side trait (spec.md §2 item 6 / §9 "Callback tables
// vs traits"). Every method must be implemented; a format with nothing
// useful to do in WriteTrailer still implements it as a no-op.
type Muxer interface {
	ShortName() string
	Extensions() string // comma-separated, case-insensitive
	MimeType() string
	NeedsNumber() bool
	WriteHeader(ctx context.Context, fc *FormatContext) error
	WritePacket(ctx context.Context, fc *FormatContext, pkt *avpacket.Packet) error
	WriteTrailer(ctx context.Context, fc *FormatContext) error
}

// Demuxer is the read-side trait. Seeking is optional and offered through
// the separate Seeker interface.
type Demuxer interface {
	ShortName() string
	Extensions() string
	MimeType() string
	ReadHeader(ctx context.Context, fc *FormatContext) error
	ReadPacket(ctx context.Context, fc *FormatContext) (*avpacket.Packet, error)
	ReadClose(fc *FormatContext) error
}

// Prober is implemented by demuxers that can sniff their own header
// (spec.md §4.4: "Input formats with no read_probe are matched by
// extension only").
type Prober interface {
	// Probe scores how confident the format is that buf is an instance of
	// it, 0 (no match) to 100 (certain).
	Probe(buf []byte) int
}

// Seeker is implemented by demuxers that support ReadSeek.
type Seeker interface {
	ReadSeek(ctx context.Context, fc *FormatContext, streamIndex int, timestampMS int64) error
}
