// Package gif implements the animated-GIF muxer of spec.md §4.5.6: a fixed
// 216-color web-safe palette, one Graphic Control Extension + Image
// Descriptor pair per frame, and a 9-bit-code, no-LZW bitstream framed into
// 255-byte GIF sub-blocks. There is no corresponding demuxer — the format
// this package models is write-only, matching the source it's grounded on.
package gif

import (
	"context"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bitio"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
)

// chunkPixels is the number of 9-bit pixel codes gathered between
// sub-block flushes (the source's GIF_CHUNKS).
const chunkPixels = 100

// clut is the 216-entry 6x6x6 web-safe palette (r,g,b each one of
// 0x00,0x33,0x66,0x99,0xcc,0xff), generated in the same nested-loop order
// as the source's gif_clut table.
var clut = buildCLUT()

func buildCLUT() [216 * 3]byte {
	steps := [6]byte{0x00, 0x33, 0x66, 0x99, 0xcc, 0xff}
	var out [216 * 3]byte
	i := 0
	for _, r := range steps {
		for _, g := range steps {
			for _, b := range steps {
				out[i] = r
				out[i+1] = g
				out[i+2] = b
				i += 3
			}
		}
	}
	return out
}

// clutIndex maps an RGB24 pixel to its palette entry, the source's
// gif_clut_index: each channel divided into 6 bins of width 47.
func clutIndex(r, g, b byte) byte {
	return byte((r/47)%6*36 + (g/47)%6*6 + (b/47)%6)
}

type state struct {
	videoStreamIndex int
}

// Muxer implements avformat.Muxer for animated GIF output.
type Muxer struct{}

func (Muxer) ShortName() string  { return "gif" }
func (Muxer) Extensions() string { return "gif" }
func (Muxer) MimeType() string   { return "image/gif" }
func (Muxer) NeedsNumber() bool  { return false }

func (Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	videoIdx := -1
	for i, st := range fc.Streams() {
		if st.Codec.Type != codectags.CodecTypeAudio {
			videoIdx = i
		}
	}
	if videoIdx < 0 {
		return ioerr.NewUnsupportedError("gif.WriteHeader", nil)
	}
	st := fc.Stream(videoIdx)
	st.Codec.ID = codectags.IDRawVideo

	bc := fc.IOCtx
	if err := bc.PutBuffer(ctx, []byte("GIF89a")); err != nil {
		return ioerr.NewIOError("gif.WriteHeader", err)
	}
	if err := bc.PutLE16(ctx, uint16(st.Codec.Width)); err != nil {
		return ioerr.NewIOError("gif.WriteHeader", err)
	}
	if err := bc.PutLE16(ctx, uint16(st.Codec.Height)); err != nil {
		return ioerr.NewIOError("gif.WriteHeader", err)
	}
	if err := bc.PutByte(ctx, 0xf7); err != nil { // global clut, 256 entries
		return ioerr.NewIOError("gif.WriteHeader", err)
	}
	if err := bc.PutByte(ctx, 0x1f); err != nil { // background color index
		return ioerr.NewIOError("gif.WriteHeader", err)
	}
	if err := bc.PutByte(ctx, 0); err != nil { // aspect ratio
		return ioerr.NewIOError("gif.WriteHeader", err)
	}
	if err := bc.PutBuffer(ctx, clut[:]); err != nil {
		return ioerr.NewIOError("gif.WriteHeader", err)
	}
	for i := 0; i < (256-216)*3; i++ {
		if err := bc.PutByte(ctx, 0); err != nil {
			return ioerr.NewIOError("gif.WriteHeader", err)
		}
	}

	fc.Priv = &state{videoStreamIndex: videoIdx}
	return bc.FlushPacket(ctx)
}

func (Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	s := fc.Priv.(*state)
	if pkt.StreamIndex != s.videoStreamIndex {
		return nil // ignore non-video packets, per the source's gif_write_packet
	}
	st := fc.Stream(pkt.StreamIndex)
	return writeFrame(ctx, fc.IOCtx, st, pkt.Data)
}

func writeFrame(ctx context.Context, bc *bytestream.Context, st *avformat.Stream, data []byte) error {
	width, height := st.Codec.Width, st.Codec.Height
	if len(data) != width*height*3 {
		return ioerr.NewMalformedError("gif.WritePacket", nil)
	}

	if err := bc.PutByte(ctx, 0x21); err != nil { // extension introducer
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutByte(ctx, 0xf9); err != nil { // graphic control label
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutByte(ctx, 0x04); err != nil { // block size
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutByte(ctx, 0x04); err != nil { // flags
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	rate := st.Codec.FrameRateNum
	if rate <= 0 {
		rate = avformat.FrameRateBase
	}
	jiffies := (70*avformat.FrameRateBase)/rate - 1
	if jiffies < 0 {
		jiffies = 0
	}
	if err := bc.PutLE16(ctx, uint16(jiffies)); err != nil {
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutByte(ctx, 0x1f); err != nil { // transparent color index
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutByte(ctx, 0x00); err != nil {
		return ioerr.NewIOError("gif.WritePacket", err)
	}

	if err := bc.PutByte(ctx, 0x2c); err != nil { // image separator
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutLE16(ctx, 0); err != nil { // left
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutLE16(ctx, 0); err != nil { // top
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutLE16(ctx, uint16(width)); err != nil {
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutLE16(ctx, uint16(height)); err != nil {
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutByte(ctx, 0x00); err != nil { // no local clut
		return ioerr.NewIOError("gif.WritePacket", err)
	}
	if err := bc.PutByte(ctx, 0x08); err != nil { // LZW minimum code size
		return ioerr.NewIOError("gif.WritePacket", err)
	}

	if err := writeImageData(ctx, bc, data); err != nil {
		return err
	}
	return bc.FlushPacket(ctx)
}

// writeImageData emits the 9-bit-code bitstream: a clear code followed by
// up to chunkPixels pixel codes, repeated once per chunk until the frame is
// exhausted, with a trailing end-of-stream code on the final chunk. The bit
// register is never reset mid-stream — only the whole bytes it has already
// drained are dequeued into a sub-block after each chunk — so a clear code
// is reissued every chunkPixels pixels but the underlying bitstream is
// otherwise continuous, per the source's gif_write_video.
func writeImageData(ctx context.Context, bc *bytestream.Context, data []byte) error {
	var sub []byte
	w := bitio.NewReverseWriter(sliceWriter{&sub})

	pixels := len(data) / 3
	left := pixels
	for left > 0 {
		w.PutBits(9, 0x100) // clear code
		n := chunkPixels
		if left < n {
			n = left
		}
		off := (pixels - left) * 3
		for i := 0; i < n; i++ {
			p := data[off+i*3:]
			w.PutBits(9, uint32(clutIndex(p[0], p[1], p[2])))
		}
		if left <= chunkPixels {
			w.PutBits(9, 0x101) // end of stream
			if err := w.Flush(); err != nil {
				return ioerr.NewIOError("gif.writeImageData", err)
			}
		}
		if len(sub) > 0 {
			if err := bc.PutByte(ctx, byte(len(sub))); err != nil {
				return ioerr.NewIOError("gif.writeImageData", err)
			}
			if err := bc.PutBuffer(ctx, sub); err != nil {
				return ioerr.NewIOError("gif.writeImageData", err)
			}
			sub = sub[:0]
		}
		if left <= chunkPixels {
			if err := bc.PutByte(ctx, 0x00); err != nil { // end of image block
				return ioerr.NewIOError("gif.writeImageData", err)
			}
		}
		left -= chunkPixels
	}
	return nil
}

// sliceWriter is an io.Writer appending to a *[]byte.
type sliceWriter struct {
	buf *[]byte
}

func (s sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}

func (Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	bc := fc.IOCtx
	if err := bc.PutByte(ctx, 0x3b); err != nil { // trailer
		return ioerr.NewIOError("gif.WriteTrailer", err)
	}
	return bc.FlushPacket(ctx)
}

// RegisterAll registers the GIF muxer. There is no decoder: the format is
// write-only, matching the source.
func RegisterAll(formats *avformat.Registry) {
	formats.RegisterOutput(Muxer{})
}
