// Package raw implements the trivial pass-through formats of spec.md
// §4.5.6: PCM, AC3, H.263, MJPEG, MPEG1-video, and mp2 elementary streams
// muxed or demuxed with no container framing at all. A raw.Descriptor picks
// out one such format; the package registers one Muxer/Demuxer pair per
// descriptor.
package raw

import (
	"context"
	"io"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/codectags"
)

// readPacketSize is the fixed chunk size raw demuxers emit per Packet
// (spec.md §4.5.6).
const readPacketSize = 1024

// Descriptor names one raw elementary-stream format bound to a single
// codec id and type.
type Descriptor struct {
	Name       string
	Extensions string
	MimeType   string
	CodecID    codectags.ID
	CodecType  codectags.CodecType
}

var (
	PCMS16LE   = Descriptor{Name: "s16le", Extensions: "sw", MimeType: "audio/basic", CodecID: codectags.IDPCMS16LE, CodecType: codectags.CodecTypeAudio}
	PCMU8      = Descriptor{Name: "u8", Extensions: "ub", MimeType: "audio/basic", CodecID: codectags.IDPCMU8, CodecType: codectags.CodecTypeAudio}
	AC3        = Descriptor{Name: "ac3", Extensions: "ac3", MimeType: "audio/ac3", CodecID: codectags.IDAC3, CodecType: codectags.CodecTypeAudio}
	MP2        = Descriptor{Name: "mp2", Extensions: "mp2,m2a", MimeType: "audio/mpeg", CodecID: codectags.IDMP2, CodecType: codectags.CodecTypeAudio}
	H263       = Descriptor{Name: "h263", Extensions: "h263", MimeType: "video/h263", CodecID: codectags.IDH263, CodecType: codectags.CodecTypeVideo}
	MJPEGRaw   = Descriptor{Name: "mjpegraw", Extensions: "mjpg", MimeType: "video/x-motion-jpeg", CodecID: codectags.IDMJPEG, CodecType: codectags.CodecTypeVideo}
	MPEG1Video = Descriptor{Name: "m1v", Extensions: "m1v", MimeType: "video/mpeg", CodecID: codectags.IDMPEG1Video, CodecType: codectags.CodecTypeVideo}

	// All lists every descriptor this package registers, for RegisterAll
	// callers (spec.md §9 "register_all").
	All = []Descriptor{PCMS16LE, PCMU8, AC3, MP2, H263, MJPEGRaw, MPEG1Video}
)

// Muxer implements avformat.Muxer by writing packet payloads verbatim.
type Muxer struct{ D Descriptor }

func (m Muxer) ShortName() string  { return m.D.Name }
func (m Muxer) Extensions() string { return m.D.Extensions }
func (m Muxer) MimeType() string   { return m.D.MimeType }
func (m Muxer) NeedsNumber() bool  { return false }

func (m Muxer) WriteHeader(context.Context, *avformat.FormatContext) error { return nil }

func (m Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	return fc.IOCtx.PutBuffer(ctx, pkt.Data)
}

func (m Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	return fc.IOCtx.FlushPacket(ctx)
}

// Demuxer implements avformat.Demuxer by allocating one stream of the
// descriptor's fixed codec id and reading fixed-size packets.
type Demuxer struct{ D Descriptor }

func (d Demuxer) ShortName() string  { return d.D.Name }
func (d Demuxer) Extensions() string { return d.D.Extensions }
func (d Demuxer) MimeType() string   { return d.D.MimeType }

func (d Demuxer) ReadHeader(ctx context.Context, fc *avformat.FormatContext) error {
	st, err := fc.NewStream()
	if err != nil {
		return err
	}
	st.Codec.Type = d.D.CodecType
	st.Codec.ID = d.D.CodecID
	return nil
}

func (d Demuxer) ReadPacket(ctx context.Context, fc *avformat.FormatContext) (*avpacket.Packet, error) {
	buf := make([]byte, readPacketSize)
	n, err := fc.IOCtx.GetBuffer(ctx, buf)
	if n == 0 {
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	pkt := avpacket.FromBytes(buf[:n])
	pkt.StreamIndex = 0
	return pkt, nil
}

func (d Demuxer) ReadClose(*avformat.FormatContext) error { return nil }

// RegisterAll registers a Muxer and Demuxer for every descriptor in All.
func RegisterAll(formats *avformat.Registry) {
	for _, d := range All {
		formats.RegisterOutput(Muxer{D: d})
		formats.RegisterInput(Demuxer{D: d})
	}
}
