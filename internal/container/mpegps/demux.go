package mpegps

import (
	"context"
	"io"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
)

// demuxState is MpegDemuxContext.
type demuxState struct {
	headerState uint32
	muxRate     int // 50 bytes/s units
}

// Demuxer implements avformat.Demuxer for MPEG program-stream input
// (spec.md §4.5.5).
type Demuxer struct{}

func (Demuxer) ShortName() string  { return "mpeg" }
func (Demuxer) Extensions() string { return "mpg,mpeg,vob" }
func (Demuxer) MimeType() string   { return "video/x-mpeg" }

// findStartCode scans up to size bytes for the next 00 00 01 xx start code,
// returning the matched 4-byte value, or -1 if size bytes are exhausted or
// EOF is hit first — the source's find_start_code.
func findStartCode(ctx context.Context, bc *bytestream.Context, size *int, headerState *uint32) int {
	state := *headerState
	n := *size
	for n > 0 {
		if bc.Eof() {
			break
		}
		v, err := bc.GetByte(ctx)
		if err != nil {
			break
		}
		n--
		if state == 0x000001 {
			state = ((state << 8) | uint32(v)) & 0xffffff
			*headerState = state
			*size = n
			return int(state)
		}
		state = ((state << 8) | uint32(v)) & 0xffffff
	}
	*headerState = state
	*size = n
	return -1
}

func (Demuxer) ReadHeader(ctx context.Context, fc *avformat.FormatContext) error {
	bc := fc.IOCtx
	ds := &demuxState{headerState: 0xff}

	size := maxSyncSize
	var startcode int
	for {
		startcode = findStartCode(ctx, bc, &size, &ds.headerState)
		if startcode == packStartCode || size <= 0 {
			break
		}
	}
	if startcode != packStartCode {
		return ioerr.NewMalformedError("mpegps.ReadHeader", nil)
	}

	// Parse the pack header.
	if _, err := bc.GetByte(ctx); err != nil { // ts1
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	if _, err := bc.GetBE16(ctx); err != nil { // ts2
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	if _, err := bc.GetBE16(ctx); err != nil { // ts3
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	b1, err := bc.GetByte(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	b2, err := bc.GetByte(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	b3, err := bc.GetByte(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	muxRate := int(b1)<<16 | int(b2)<<8 | int(b3)
	ds.muxRate = muxRate & ((1 << 22) - 1)

	size = maxSyncSize
	startcode = findStartCode(ctx, bc, &size, &ds.headerState)
	if startcode != systemHeaderStartCode {
		return ioerr.NewMalformedError("mpegps.ReadHeader", nil)
	}

	if err := parseSystemHeader(ctx, fc, ds); err != nil {
		return err
	}
	fc.Priv = ds
	return nil
}

func parseSystemHeader(ctx context.Context, fc *avformat.FormatContext, ds *demuxState) error {
	bc := fc.IOCtx
	size, err := bc.GetBE16(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	rb1, err := bc.GetByte(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	rb2, err := bc.GetByte(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	rb3, err := bc.GetByte(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	_ = (int(rb1)<<16 | int(rb2)<<8 | int(rb3) >> 1) & ((1 << 22) - 1) // rate_bound, informational only
	ab, err := bc.GetByte(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	audioBound := int(ab) >> 2
	vb, err := bc.GetByte(ctx)
	if err != nil {
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}
	videoBound := int(vb) & 0x1f
	if _, err := bc.GetByte(ctx); err != nil { // reserved byte
		return ioerr.NewIOError("mpegps.ReadHeader", err)
	}

	remaining := int(size) - 6
	for remaining > 0 {
		c, err := bc.GetByte(ctx)
		if err != nil {
			return ioerr.NewIOError("mpegps.ReadHeader", err)
		}
		remaining--
		if c&0x80 == 0 {
			break
		}
		if _, err := bc.GetBE16(ctx); err != nil {
			return ioerr.NewIOError("mpegps.ReadHeader", err)
		}
		remaining -= 2

		var kind codectags.CodecType
		var id codectags.ID
		var n, base int
		switch {
		case c >= 0xc0 && c <= 0xdf:
			kind, id, n, base = codectags.CodecTypeAudio, codectags.IDMP2, 1, int(c)|0x100
		case c >= 0xe0 && c <= 0xef:
			kind, id, n, base = codectags.CodecTypeVideo, codectags.IDMPEG1Video, 1, int(c)|0x100
		case c == 0xb8:
			// "all audio streams": a DVD-specific heuristic that coerces
			// the declared id to AC3 when audio_bound wasn't otherwise
			// signalled, preserved per spec.md §9.
			kind, id = codectags.CodecTypeAudio, codectags.IDAC3
			if audioBound == 0 {
				audioBound++
			}
			n, base = audioBound, 0x80
		case c == 0xb9:
			kind, id, n, base = codectags.CodecTypeVideo, codectags.IDMPEG1Video, videoBound, 0x1e0
		}
		for i := 0; i < n; i++ {
			st, err := fc.NewStream()
			if err != nil {
				return err
			}
			st.ID = base + i
			st.Codec.Type = kind
			st.Codec.ID = id
		}
	}
	return nil
}

func (Demuxer) ReadPacket(ctx context.Context, fc *avformat.FormatContext) (*avpacket.Packet, error) {
	ds := fc.Priv.(*demuxState)
	bc := fc.IOCtx

redo:
	ds.headerState = 0xff
	size := maxSyncSize
	startcode := findStartCode(ctx, bc, &size, &ds.headerState)
	if startcode < 0 {
		return nil, io.EOF
	}
	if startcode == packStartCode || startcode == systemHeaderStartCode {
		goto redo
	}
	if startcode == paddingStream || startcode == privateStream2 {
		n, err := bc.GetBE16(ctx)
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		if err := bc.Skip(ctx, int64(n)); err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		goto redo
	}
	if !((startcode >= 0x1c0 && startcode <= 0x1df) ||
		(startcode >= 0x1e0 && startcode <= 0x1ef) ||
		startcode == privateStream1) {
		goto redo
	}

	lenField, err := bc.GetBE16(ctx)
	if err != nil {
		return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
	}
	length := int(lenField)
	var pts, dts int64
	var c byte
	for {
		c, err = bc.GetByte(ctx)
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		length--
		if c != 0xff {
			break
		}
	}
	if c&0xc0 == 0x40 {
		if _, err := bc.GetByte(ctx); err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		c, err = bc.GetByte(ctx)
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		length -= 2
	}
	switch {
	case c&0xf0 == 0x20:
		pts, err = getPTS(ctx, bc, int(c))
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		length -= 4
		dts = pts
	case c&0xf0 == 0x30:
		pts, err = getPTS(ctx, bc, int(c))
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		dts, err = getPTS(ctx, bc, -1)
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		length -= 9
	case c&0xc0 == 0x80:
		flags, err := bc.GetByte(ctx)
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		headerLen, err := bc.GetByte(ctx)
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		length -= 2
		hl := int(headerLen)
		if hl > length {
			goto redo
		}
		if flags&0xc0 == 0x40 {
			pts, err = getPTS(ctx, bc, -1)
			if err != nil {
				return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
			}
			dts = pts
			hl -= 5
			length -= 5
		}
		if flags&0xc0 == 0xc0 {
			pts, err = getPTS(ctx, bc, -1)
			if err != nil {
				return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
			}
			dts, err = getPTS(ctx, bc, -1)
			if err != nil {
				return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
			}
			hl -= 10
			length -= 10
		}
		length -= hl
		if err := bc.Skip(ctx, int64(hl)); err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
	}

	id := startcode
	if startcode == privateStream1 {
		sub, err := bc.GetByte(ctx)
		if err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		length--
		id = int(sub)
		if id >= 0x80 && id <= 0xbf {
			if err := bc.Skip(ctx, 3); err != nil {
				return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
			}
			length -= 3
		}
	}

	streamIdx := -1
	for i, st := range fc.Streams() {
		if st.ID == id {
			streamIdx = i
			break
		}
	}
	if streamIdx < 0 {
		if err := bc.Skip(ctx, int64(length)); err != nil {
			return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
		}
		goto redo
	}

	data := make([]byte, length)
	if _, err := bc.GetBuffer(ctx, data); err != nil {
		return nil, ioerr.NewIOError("mpegps.ReadPacket", err)
	}
	pkt := avpacket.FromBytes(data)
	pkt.PTS = pts
	pkt.DTS = dts
	pkt.StreamIndex = streamIdx
	return pkt, nil
}

func (Demuxer) ReadClose(*avformat.FormatContext) error { return nil }
