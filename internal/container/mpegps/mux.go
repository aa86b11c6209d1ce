package mpegps

import (
	"context"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bitio"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
	"golang.org/x/time/rate"
)

// streamInfo is the per-stream PES assembly buffer (spec.md §3 "MPEG-PS
// packetizer StreamInfo").
type streamInfo struct {
	id            byte
	buffer        []byte
	maxBufferSize int
	packetNumber  int
	pts           int64
	startPts      int64
	tick          ticker
}

// muxState is MpegMuxContext.
type muxState struct {
	packetSize        int
	packetDataMaxSize int
	packetNumber      int
	packHeaderFreq    int
	systemHeaderFreq  int
	muxRate           int // 50 bytes/s units
	audioBound        int
	videoBound        int
	limiter           *rate.Limiter // paces WriteTrailer-visible throughput to muxRate*50 B/s
	streams           []*streamInfo
}

// Muxer implements avformat.Muxer for MPEG program-stream output (spec.md
// §4.5.5).
type Muxer struct{}

func (Muxer) ShortName() string  { return "mpeg" }
func (Muxer) Extensions() string { return "mpg,mpeg,vob" }
func (Muxer) MimeType() string   { return "video/x-mpeg" }
func (Muxer) NeedsNumber() bool  { return false }

func (Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	streams := fc.Streams()
	if len(streams) == 0 {
		return ioerr.NewUnsupportedError("mpegps.WriteHeader", nil)
	}

	ms := &muxState{
		packetSize: 2048, // XXX: hardcoded, matching the source's packet size choice
	}
	ms.packetDataMaxSize = ms.packetSize - 7 // startcode(4) + length(2) + flags(1)

	mpaID := byte(audioIDBase)
	ac3ID := byte(ac3IDBase)
	mpvID := byte(videoIDBase)
	var bitrate int64 = 2000 // headroom for header overhead, XXX: compute it exactly

	for _, st := range streams {
		si := &streamInfo{startPts: -1}
		switch st.Codec.Type {
		case codectags.CodecTypeAudio:
			if st.Codec.ID == codectags.IDAC3 {
				si.id = ac3ID
				ac3ID++
			} else {
				si.id = mpaID
				mpaID++
			}
			si.maxBufferSize = 4 * 1024
			ms.audioBound++
			si.tick = newTicker(int64(st.Codec.SampleRate), 90000*int64(maxInt(st.Codec.FrameSize, 1)))
		case codectags.CodecTypeVideo:
			si.id = mpvID
			mpvID++
			si.maxBufferSize = 46 * 1024
			ms.videoBound++
			si.tick = newTicker(int64(st.Codec.FrameRateNum), 90000*int64(avformat.FrameRateBase))
		}
		st.Priv = si
		ms.streams = append(ms.streams, si)
		bitrate += st.Codec.BitRate
	}

	ms.muxRate = int((bitrate + 399) / 400)
	if ms.muxRate <= 0 {
		ms.muxRate = 1
	}
	ms.packHeaderFreq = int(2 * bitrate / int64(ms.packetSize) / 8) // every ~2s
	if ms.packHeaderFreq <= 0 {
		ms.packHeaderFreq = 1
	}
	ms.systemHeaderFreq = ms.packHeaderFreq * 5 // every ~10s
	ms.limiter = rate.NewLimiter(rate.Limit(ms.muxRate*50), ms.packetSize)

	fc.Priv = ms
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	ms := fc.Priv.(*muxState)
	st := fc.Stream(pkt.StreamIndex)
	if st == nil {
		return ioerr.NewProgrammerError("mpegps.WritePacket", nil)
	}
	si := st.Priv.(*streamInfo)

	if si.startPts == -1 {
		if pkt.PTS != 0 {
			si.pts = pkt.PTS
		}
		si.startPts = si.pts
	}
	si.buffer = append(si.buffer, pkt.Data...)
	for len(si.buffer) >= ms.packetDataMaxSize {
		if si.startPts == -1 {
			si.startPts = si.pts
		}
		if err := flushPacket(ctx, fc, ms, si); err != nil {
			return err
		}
	}
	si.pts += si.tick.tick(1)
	return nil
}

func putPackHeader(w *bitio.Writer, timestamp int64, muxRate int) {
	w.PutBits(32, packStartCode)
	w.PutBits(4, 0x2)
	w.PutBits(3, uint32((timestamp>>30)&0x07))
	w.PutBits(1, 1)
	w.PutBits(15, uint32((timestamp>>15)&0x7fff))
	w.PutBits(1, 1)
	w.PutBits(15, uint32(timestamp&0x7fff))
	w.PutBits(1, 1)
	w.PutBits(1, 1)
	w.PutBits(22, uint32(muxRate))
	w.PutBits(1, 1)
}

func putSystemHeader(w *bitio.Writer, ms *muxState) int {
	w.PutBits(32, systemHeaderStartCode)
	w.PutBits(16, 0) // patched below by the caller once the real size is known
	w.PutBits(1, 1)
	w.PutBits(22, uint32(ms.muxRate))
	w.PutBits(1, 1)
	w.PutBits(6, uint32(ms.audioBound))
	w.PutBits(1, 1)
	w.PutBits(1, 1)
	w.PutBits(1, 0)
	w.PutBits(1, 0)
	w.PutBits(1, 1)
	w.PutBits(5, uint32(ms.videoBound))
	w.PutBits(8, 0xff)

	privateStreamCoded := false
	n := 0
	for _, si := range ms.streams {
		id := int(si.id)
		if id < 0xc0 {
			if privateStreamCoded {
				continue
			}
			privateStreamCoded = true
			id = 0xbd
		}
		w.PutBits(8, uint32(id))
		w.PutBits(2, 3)
		if id < 0xe0 {
			w.PutBits(1, 0)
			w.PutBits(13, uint32(si.maxBufferSize/128))
		} else {
			w.PutBits(1, 1)
			w.PutBits(13, uint32(si.maxBufferSize/1024))
		}
		n++
	}
	return n
}

// flushPacket emits one fixed-size MPEG-PS packet for the given stream,
// optionally preceded by a pack header (and, less often, a system header),
// mirroring the source's flush_packet.
func flushPacket(ctx context.Context, fc *avformat.FormatContext, ms *muxState, si *streamInfo) error {
	bc := fc.IOCtx
	timestamp := si.startPts

	var headerBuf []byte
	if ms.packetNumber%ms.packHeaderFreq == 0 {
		bw := bitio.NewWriter(sliceWriter{&headerBuf})
		putPackHeader(bw, timestamp, ms.muxRate)
		bw.Flush()
		if ms.packetNumber%ms.systemHeaderFreq == 0 {
			var sysBuf []byte
			sw := bitio.NewWriter(sliceWriter{&sysBuf})
			putSystemHeader(sw, ms)
			sw.Flush()
			size := len(sysBuf)
			sysBuf[4] = byte((size - 6) >> 8)
			sysBuf[5] = byte((size - 6) & 0xff)
			headerBuf = append(headerBuf, sysBuf...)
		}
	}
	if err := bc.PutBuffer(ctx, headerBuf); err != nil {
		return ioerr.NewIOError("mpegps.flushPacket", err)
	}

	id := int(si.id)
	var startcode int
	payloadSize := ms.packetSize - (len(headerBuf) + 6 + 5)
	if id < 0xc0 {
		startcode = privateStream1
		payloadSize -= 4
	} else {
		startcode = 0x100 + id
	}
	stuffingSize := payloadSize - len(si.buffer)
	if stuffingSize < 0 {
		stuffingSize = 0
	}

	if err := bc.PutBE32(ctx, uint32(startcode)); err != nil {
		return ioerr.NewIOError("mpegps.flushPacket", err)
	}
	if err := bc.PutBE16(ctx, uint16(payloadSize+5)); err != nil {
		return ioerr.NewIOError("mpegps.flushPacket", err)
	}
	for i := 0; i < stuffingSize; i++ {
		if err := bc.PutByte(ctx, 0xff); err != nil {
			return ioerr.NewIOError("mpegps.flushPacket", err)
		}
	}

	if err := bc.PutByte(ctx, byte((0x02<<4)|(((timestamp>>30)&0x07)<<1)|1)); err != nil {
		return ioerr.NewIOError("mpegps.flushPacket", err)
	}
	if err := bc.PutBE16(ctx, uint16((((timestamp>>15)&0x7fff)<<1)|1)); err != nil {
		return ioerr.NewIOError("mpegps.flushPacket", err)
	}
	if err := bc.PutBE16(ctx, uint16(((timestamp&0x7fff)<<1)|1)); err != nil {
		return ioerr.NewIOError("mpegps.flushPacket", err)
	}

	if startcode == privateStream1 {
		if err := bc.PutByte(ctx, si.id); err != nil {
			return ioerr.NewIOError("mpegps.flushPacket", err)
		}
		if si.id >= 0x80 && si.id <= 0xbf {
			for _, b := range []byte{1, 0, 2} {
				if err := bc.PutByte(ctx, b); err != nil {
					return ioerr.NewIOError("mpegps.flushPacket", err)
				}
			}
		}
	}

	dataLen := payloadSize - stuffingSize
	if dataLen > len(si.buffer) {
		dataLen = len(si.buffer)
	}
	if dataLen < 0 {
		dataLen = 0
	}
	if err := bc.PutBuffer(ctx, si.buffer[:dataLen]); err != nil {
		return ioerr.NewIOError("mpegps.flushPacket", err)
	}
	if err := bc.FlushPacket(ctx); err != nil {
		return err
	}
	if ms.limiter != nil {
		_ = ms.limiter.WaitN(ctx, ms.packetSize)
	}

	si.buffer = append([]byte{}, si.buffer[dataLen:]...)
	ms.packetNumber++
	si.packetNumber++
	si.startPts = -1
	return nil
}

// sliceWriter is an io.Writer appending to a *[]byte, used to assemble the
// pack/system headers in memory before sizing and emitting them.
type sliceWriter struct {
	buf *[]byte
}

func (s sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}

func (Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	ms := fc.Priv.(*muxState)
	for _, st := range fc.Streams() {
		si := st.Priv.(*streamInfo)
		for len(si.buffer) > 0 {
			if si.startPts == -1 {
				si.startPts = si.pts
			}
			if err := flushPacket(ctx, fc, ms, si); err != nil {
				return err
			}
		}
	}
	if err := fc.IOCtx.PutBE32(ctx, isoEndCode); err != nil {
		return ioerr.NewIOError("mpegps.WriteTrailer", err)
	}
	return fc.IOCtx.FlushPacket(ctx)
}
