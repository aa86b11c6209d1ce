// Package mpegps implements the MPEG-PS (program stream) muxer/demuxer of
// spec.md §4.5.5: pack/system header emission cadence, PES packetization
// with PTS/DTS encoding, and a start-code-resynchronising demuxer.
package mpegps

import (
	"context"

	"github.com/alxayo/go-container/internal/bytestream"
)

// Start codes and stream-id ranges (spec.md §4.5.5 / original source
// constants PACK_START_CODE et al.).
const (
	packStartCode          = 0x000001ba
	systemHeaderStartCode  = 0x000001bb
	isoEndCode             = 0x000001b9
	programStreamMap       = 0x1bc
	privateStream1         = 0x1bd
	paddingStream          = 0x1be
	privateStream2         = 0x1bf

	audioIDBase = 0xc0
	videoIDBase = 0xe0
	ac3IDBase   = 0x80

	maxSyncSize = 100000
)

// ticker is the rational-arithmetic PTS accumulator of spec.md §4.5.5:
// "PTS is advanced by a Ticker with (inrate, outrate) ... so the tick is
// exact in rational arithmetic" — a Bresenham-style running remainder, so
// that no per-frame rounding error accumulates over a long mux run.
type ticker struct {
	inRate, outRate int64
	frac            int64
}

func newTicker(inRate, outRate int64) ticker {
	return ticker{inRate: inRate, outRate: outRate}
}

func (t *ticker) tick(n int64) int64 {
	if t.inRate <= 0 {
		return 0
	}
	t.frac += n * t.outRate
	d := t.frac / t.inRate
	t.frac -= d * t.inRate
	return d
}

// bcWriter adapts a bytestream.Context to io.Writer so bitio.Writer can
// pack the pack/system header's sub-byte fields directly onto the wire.
type bcWriter struct {
	ctx context.Context
	bc  *bytestream.Context
	err error
}

func (w *bcWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if err := w.bc.PutBuffer(w.ctx, p); err != nil {
		w.err = err
		return 0, err
	}
	return len(p), nil
}

// getPTS decodes one of the 5-byte (PTS-only) or trailing 5-byte halves of
// a 10-byte (PTS+DTS) marker-bit-interleaved timestamp, per spec.md
// §4.5.5's PES parsing description. If firstByte >= 0 it is used as the
// already-consumed marker byte (matching the original's get_pts(pb, c)
// overload where c may be pre-read); otherwise a fresh byte is read.
func getPTS(ctx context.Context, bc *bytestream.Context, firstByte int) (int64, error) {
	c := firstByte
	if c < 0 {
		b, err := bc.GetByte(ctx)
		if err != nil {
			return 0, err
		}
		c = int(b)
	}
	pts := int64(c>>1&0x07) << 30
	v1, err := bc.GetBE16(ctx)
	if err != nil {
		return 0, err
	}
	pts |= int64(v1>>1) << 15
	v2, err := bc.GetBE16(ctx)
	if err != nil {
		return 0, err
	}
	pts |= int64(v2 >> 1)
	return pts, nil
}
