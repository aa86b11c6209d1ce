package asf

import (
	"context"
	"fmt"
	"unicode/utf16"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
)

const (
	packetHeaderSize = 12
	frameHeaderSize  = 17
)

// scratch is the packet-assembly buffer mirroring libav's ASFContext.pb: a
// fixed-size page that frame fragments are written into before the whole
// thing is flushed as one ASFPacketSize-byte packet.
type scratch struct {
	buf []byte
	pos int
}

func (s *scratch) putByte(b byte) { s.buf[s.pos] = b; s.pos++ }

func (s *scratch) putLE16(v uint16) {
	s.buf[s.pos] = byte(v)
	s.buf[s.pos+1] = byte(v >> 8)
	s.pos += 2
}

func (s *scratch) putLE32(v uint32) {
	s.buf[s.pos] = byte(v)
	s.buf[s.pos+1] = byte(v >> 8)
	s.buf[s.pos+2] = byte(v >> 16)
	s.buf[s.pos+3] = byte(v >> 24)
	s.pos += 4
}

func (s *scratch) putBuffer(b []byte) { copy(s.buf[s.pos:], b); s.pos += len(b) }

type muxStreamState struct {
	num       int
	seq       int
	frameNum  int64
}

type muxState struct {
	dataOffset     int64
	headerOffset   int64
	nbPackets      int64
	duration100ns  int64
	packetSize     int
	packetSizeLeft int
	tsStartMS      int
	tsEndMS        int
	nbFrames       int
	pk             scratch
	streams        []*muxStreamState
}

// Muxer implements avformat.Muxer for ASF output (spec.md §4.5.3).
type Muxer struct{}

func (Muxer) ShortName() string  { return "asf" }
func (Muxer) Extensions() string { return "asf,wmv" }
func (Muxer) MimeType() string   { return "application/octet-stream" }
func (Muxer) NeedsNumber() bool  { return false }

func putStr16(ctx context.Context, bc *bytestream.Context, s string) error {
	if err := bc.PutLE16(ctx, uint16(2*(len(s)+1))); err != nil {
		return err
	}
	return putStr16NoLen(ctx, bc, s)
}

func putStr16NoLen(ctx context.Context, bc *bytestream.Context, s string) error {
	for _, r := range utf16.Encode([]rune(s)) {
		if err := bc.PutLE16(ctx, r); err != nil {
			return err
		}
	}
	return bc.PutLE16(ctx, 0)
}

func putHeader(ctx context.Context, bc *bytestream.Context, g GUID) (int64, error) {
	pos, _ := bc.Tell(ctx)
	if err := putGUID(ctx, bc, g); err != nil {
		return 0, err
	}
	if err := bc.PutLE64(ctx, 24); err != nil {
		return 0, err
	}
	return pos, nil
}

func endHeader(ctx context.Context, bc *bytestream.Context, pos int64) error {
	pos1, _ := bc.Tell(ctx)
	if _, err := bc.Seek(ctx, pos+16, bytestream.SeekSet); err != nil {
		return err
	}
	if err := bc.PutLE64(ctx, uint64(pos1-pos)); err != nil {
		return err
	}
	_, err := bc.Seek(ctx, pos1, bytestream.SeekSet)
	return err
}

// writeHeader1 writes the full object tree. It is called once from
// WriteHeader and again from WriteTrailer (seeked back to offset 0) to
// patch in the final file size and data chunk size on seekable outputs.
func writeHeader1(ctx context.Context, fc *avformat.FormatContext, ms *muxState, fileSize, dataChunkSize int64) error {
	bc := fc.IOCtx
	hasTitle := fc.Meta.Title != ""

	if !bc.IsStreamed() {
		if err := putGUID(ctx, bc, asfHeader); err != nil {
			return err
		}
		if err := bc.PutLE64(ctx, 0); err != nil { // header length, patched below
			return err
		}
		numChunks := 3 + len(ms.streams)
		if hasTitle {
			numChunks++
		}
		if err := bc.PutLE32(ctx, uint32(numChunks)); err != nil {
			return err
		}
		if err := bc.PutByte(ctx, 1); err != nil {
			return err
		}
		if err := bc.PutByte(ctx, 2); err != nil {
			return err
		}
	}

	headerOffset, _ := bc.Tell(ctx)
	ms.headerOffset = headerOffset

	hpos, err := putHeader(ctx, bc, fileHeader)
	if err != nil {
		return err
	}
	if err := putGUID(ctx, bc, myGUID); err != nil {
		return err
	}
	if err := bc.PutLE64(ctx, uint64(fileSize)); err != nil {
		return err
	}
	if err := bc.PutLE64(ctx, uint64(unixToFileTime(0))); err != nil {
		return err
	}
	if err := bc.PutLE64(ctx, uint64(ms.nbPackets)); err != nil {
		return err
	}
	if err := bc.PutLE64(ctx, uint64(ms.duration100ns)); err != nil {
		return err
	}
	if err := bc.PutLE64(ctx, uint64(ms.duration100ns)); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, 0); err != nil { // start timestamp
		return err
	}
	if err := bc.PutLE32(ctx, 0); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, 0); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(ms.packetSize)); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(ms.packetSize)); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(80*ms.packetSize)); err != nil {
		return err
	}
	if err := endHeader(ctx, bc, hpos); err != nil {
		return err
	}

	hpos, err = putHeader(ctx, bc, head1GUID)
	if err != nil {
		return err
	}
	if err := putGUID(ctx, bc, head2GUID); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, 6); err != nil {
		return err
	}
	if err := bc.PutLE16(ctx, 0); err != nil {
		return err
	}
	if err := endHeader(ctx, bc, hpos); err != nil {
		return err
	}

	if hasTitle {
		hpos, err = putHeader(ctx, bc, commentHeader)
		if err != nil {
			return err
		}
		m := fc.Meta
		if err := bc.PutLE16(ctx, uint16(2*(len(m.Title)+1))); err != nil {
			return err
		}
		if err := bc.PutLE16(ctx, uint16(2*(len(m.Author)+1))); err != nil {
			return err
		}
		if err := bc.PutLE16(ctx, uint16(2*(len(m.Copyright)+1))); err != nil {
			return err
		}
		if err := bc.PutLE16(ctx, uint16(2*(len(m.Comment)+1))); err != nil {
			return err
		}
		if err := bc.PutLE16(ctx, 0); err != nil {
			return err
		}
		for _, s := range []string{m.Title, m.Author, m.Copyright, m.Comment} {
			if err := putStr16NoLen(ctx, bc, s); err != nil {
				return err
			}
		}
		if err := endHeader(ctx, bc, hpos); err != nil {
			return err
		}
	}

	for _, st := range fc.Streams() {
		msSt := ms.streams[st.Index]
		var extraSize uint32
		if st.Codec.Type == codectags.CodecTypeAudio {
			extraSize = 18
		} else {
			extraSize = 0x33
		}
		hpos, err = putHeader(ctx, bc, streamHeader)
		if err != nil {
			return err
		}
		if st.Codec.Type == codectags.CodecTypeAudio {
			if err := putGUID(ctx, bc, audioStream); err != nil {
				return err
			}
			if err := putGUID(ctx, bc, audioConcealNone); err != nil {
				return err
			}
		} else {
			if err := putGUID(ctx, bc, videoStream); err != nil {
				return err
			}
			if err := putGUID(ctx, bc, videoConcealNone); err != nil {
				return err
			}
		}
		if err := bc.PutLE64(ctx, 0); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, extraSize); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, 0); err != nil { // additional error-correction data length
			return err
		}
		if err := bc.PutLE16(ctx, uint16(msSt.num)); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, 0); err != nil {
			return err
		}
		if st.Codec.Type == codectags.CodecTypeAudio {
			formatTag, _ := codectags.GetTag(codectags.WAVTags, st.Codec.ID)
			blockAlign := st.Codec.BlockAlign
			if blockAlign == 0 {
				blockAlign = st.Codec.Channels * st.Codec.BitsPerSample / 8
			}
			if err := bc.PutLE16(ctx, uint16(formatTag)); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, uint16(st.Codec.Channels)); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, uint32(st.Codec.SampleRate)); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, uint32(st.Codec.SampleRate*blockAlign)); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, uint16(blockAlign)); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, uint16(st.Codec.BitsPerSample)); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, 0); err != nil { // cbSize
				return err
			}
		} else {
			bmpTag, _ := codectags.GetTag(codectags.BMPTags, st.Codec.ID)
			if err := bc.PutLE32(ctx, uint32(st.Codec.Width)); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, uint32(st.Codec.Height)); err != nil {
				return err
			}
			if err := bc.PutByte(ctx, 2); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, 40); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, 40); err != nil { // biSize
				return err
			}
			if err := bc.PutLE32(ctx, uint32(st.Codec.Width)); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, uint32(st.Codec.Height)); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, 1); err != nil { // planes
				return err
			}
			if err := bc.PutLE16(ctx, 24); err != nil { // bitcount
				return err
			}
			if err := bc.PutLE32(ctx, bmpTag); err != nil {
				return err
			}
			for i := 0; i < 5; i++ {
				if err := bc.PutLE32(ctx, 0); err != nil {
					return err
				}
			}
		}
		if err := endHeader(ctx, bc, hpos); err != nil {
			return err
		}
	}

	hpos, err = putHeader(ctx, bc, codecCommentHeader)
	if err != nil {
		return err
	}
	if err := putGUID(ctx, bc, codecComment1Header); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(len(ms.streams))); err != nil {
		return err
	}
	for _, st := range fc.Streams() {
		msSt := ms.streams[st.Index]
		if err := bc.PutLE16(ctx, uint16(msSt.num)); err != nil {
			return err
		}
		if err := putStr16(ctx, bc, st.Codec.ID.String()); err != nil {
			return err
		}
		if err := bc.PutLE16(ctx, 0); err != nil { // no parameters
			return err
		}
		if st.Codec.Type == codectags.CodecTypeAudio {
			if err := bc.PutLE16(ctx, 2); err != nil {
				return err
			}
			tag, _ := codectags.GetTag(codectags.WAVTags, st.Codec.ID)
			if err := bc.PutLE16(ctx, uint16(tag)); err != nil {
				return err
			}
		} else {
			if err := bc.PutLE16(ctx, 4); err != nil {
				return err
			}
			tag, _ := codectags.GetTag(codectags.BMPTags, st.Codec.ID)
			if err := bc.PutLE32(ctx, tag); err != nil {
				return err
			}
		}
	}
	if err := endHeader(ctx, bc, hpos); err != nil {
		return err
	}

	curPos, _ := bc.Tell(ctx)
	headerSize := curPos - headerOffset
	if !bc.IsStreamed() {
		headerSize += 24 + 6
		if _, err := bc.Seek(ctx, headerOffset-14, bytestream.SeekSet); err != nil {
			return err
		}
		if err := bc.PutLE64(ctx, uint64(headerSize)); err != nil {
			return err
		}
	}
	if _, err := bc.Seek(ctx, curPos, bytestream.SeekSet); err != nil {
		return err
	}

	ms.dataOffset = curPos
	if err := putGUID(ctx, bc, dataHeader); err != nil {
		return err
	}
	if err := bc.PutLE64(ctx, uint64(dataChunkSize)); err != nil {
		return err
	}
	if err := putGUID(ctx, bc, myGUID); err != nil {
		return err
	}
	if err := bc.PutLE64(ctx, uint64(ms.nbPackets)); err != nil {
		return err
	}
	if err := bc.PutByte(ctx, 1); err != nil {
		return err
	}
	return bc.PutByte(ctx, 1)
}

func unixToFileTime(unixSeconds int64) int64 {
	return unixSeconds*10000000 + 116444736000000000
}

func (Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	streams := fc.Streams()
	if len(streams) == 0 {
		return ioerr.NewProgrammerError("asf.WriteHeader", fmt.Errorf("no streams registered"))
	}
	ms := &muxState{packetSize: avformat.ASFPacketSize}
	for i, st := range streams {
		ms.streams = append(ms.streams, &muxStreamState{num: i + 1})
	}
	if err := writeHeader1(ctx, fc, ms, 0, 24); err != nil {
		return err
	}
	if err := fc.IOCtx.FlushPacket(ctx); err != nil {
		return err
	}
	ms.packetSizeLeft = ms.packetSize - packetHeaderSize
	ms.tsStartMS = -1
	ms.tsEndMS = -1
	ms.pk = scratch{buf: make([]byte, ms.packetSize)}
	fc.Priv = ms
	return nil
}

func (Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	ms := fc.Priv.(*muxState)
	st := fc.Stream(pkt.StreamIndex)
	if st == nil {
		return ioerr.NewProgrammerError("asf.WritePacket", fmt.Errorf("unknown stream %d", pkt.StreamIndex))
	}
	msSt := ms.streams[pkt.StreamIndex]

	var timestampMS int64
	var duration100ns int64
	if st.Codec.Type == codectags.CodecTypeAudio {
		frameSize := st.Codec.FrameSize
		if frameSize == 0 {
			frameSize = 1
		}
		sampleRate := st.Codec.SampleRate
		if sampleRate == 0 {
			sampleRate = 1
		}
		timestampMS = msSt.frameNum * int64(frameSize) * 1000 / int64(sampleRate)
		duration100ns = msSt.frameNum * int64(frameSize) * 10000000 / int64(sampleRate)
	} else {
		frameRate := st.Codec.FrameRateNum
		if frameRate == 0 {
			frameRate = avformat.FrameRateBase
		}
		timestampMS = msSt.frameNum * 1000 * int64(avformat.FrameRateBase) / int64(frameRate)
		duration100ns = msSt.frameNum * (10000000 * int64(avformat.FrameRateBase) / int64(frameRate))
	}
	if duration100ns > ms.duration100ns {
		ms.duration100ns = duration100ns
	}
	msSt.frameNum++

	if err := putFrame(ctx, fc, ms, msSt, int(timestampMS), pkt); err != nil {
		return err
	}
	return nil
}

func putFrame(ctx context.Context, fc *avformat.FormatContext, ms *muxState, st *muxStreamState, timestampMS int, pkt *avpacket.Packet) error {
	buf := pkt.Data
	payloadSize := len(buf)
	fragPos := 0
	for fragPos < payloadSize {
		fragLen := payloadSize - fragPos
		fragLen1 := ms.packetSizeLeft - frameHeaderSize
		if fragLen1 > 0 {
			if fragLen > fragLen1 {
				fragLen = fragLen1
			}
			num := st.num
			if pkt.IsKeyFrame() {
				num |= 0x80
			}
			ms.pk.putByte(byte(num))
			ms.pk.putByte(byte(st.seq))
			ms.pk.putLE32(uint32(fragPos))
			ms.pk.putByte(0x08)
			ms.pk.putLE32(uint32(payloadSize))
			ms.pk.putLE32(uint32(timestampMS))
			ms.pk.putLE16(uint16(fragLen))
			ms.pk.putBuffer(buf[fragPos : fragPos+fragLen])
			ms.packetSizeLeft -= fragLen + frameHeaderSize
			ms.tsEndMS = timestampMS
			if ms.tsStartMS == -1 {
				ms.tsStartMS = timestampMS
			}
			ms.nbFrames++
		} else {
			fragLen = 0
		}
		fragPos += fragLen
		if ms.packetSizeLeft <= frameHeaderSize {
			if err := flushASFPacket(ctx, fc, ms); err != nil {
				return err
			}
		}
	}
	st.seq++
	return nil
}

func writeASFPacketHeader(ctx context.Context, bc *bytestream.Context, timestampMS int, durationMS int, nbFrames int, padSize int) error {
	if err := bc.PutByte(ctx, 0x82); err != nil {
		return err
	}
	if err := bc.PutLE16(ctx, 0); err != nil {
		return err
	}
	flags := byte(0x01)
	if padSize > 0 {
		if padSize < 256 {
			flags |= 0x08
		} else {
			flags |= 0x10
		}
	}
	if err := bc.PutByte(ctx, flags); err != nil {
		return err
	}
	if err := bc.PutByte(ctx, 0x5d); err != nil {
		return err
	}
	if flags&0x10 != 0 {
		if err := bc.PutLE16(ctx, uint16(padSize)); err != nil {
			return err
		}
	}
	if flags&0x08 != 0 {
		if err := bc.PutByte(ctx, byte(padSize)); err != nil {
			return err
		}
	}
	if err := bc.PutLE32(ctx, uint32(timestampMS)); err != nil {
		return err
	}
	if err := bc.PutLE16(ctx, uint16(durationMS)); err != nil {
		return err
	}
	return bc.PutByte(ctx, byte(nbFrames)|0x80)
}

func flushASFPacket(ctx context.Context, fc *avformat.FormatContext, ms *muxState) error {
	bc := fc.IOCtx
	tsStart := ms.tsStartMS
	if tsStart == -1 {
		tsStart = 0
	}
	if err := writeASFPacketHeader(ctx, bc, tsStart, ms.tsEndMS-tsStart, ms.nbFrames, ms.packetSizeLeft); err != nil {
		return err
	}

	hdrSize := packetHeaderSize
	if ms.packetSizeLeft > 0 {
		hdrSize++
		ms.packetSizeLeft--
		if ms.packetSizeLeft > 200 {
			hdrSize++
			ms.packetSizeLeft--
		}
	}
	ptr := ms.packetSize - hdrSize - ms.packetSizeLeft
	for i := ptr; i < ptr+ms.packetSizeLeft; i++ {
		ms.pk.buf[i] = 0
	}
	if err := bc.PutBuffer(ctx, ms.pk.buf[:ms.packetSize-hdrSize]); err != nil {
		return err
	}
	if err := bc.FlushPacket(ctx); err != nil {
		return err
	}
	ms.nbPackets++
	ms.nbFrames = 0
	ms.tsStartMS = -1
	ms.tsEndMS = -1
	ms.packetSizeLeft = ms.packetSize - packetHeaderSize
	ms.pk = scratch{buf: make([]byte, ms.packetSize)}
	return nil
}

func (Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	ms := fc.Priv.(*muxState)
	if ms.pk.pos > 0 {
		if err := flushASFPacket(ctx, fc, ms); err != nil {
			return err
		}
	}
	bc := fc.IOCtx
	if bc.IsStreamed() {
		return bc.FlushPacket(ctx)
	}
	fileSize, err := bc.Tell(ctx)
	if err != nil {
		return err
	}
	if _, err := bc.Seek(ctx, 0, bytestream.SeekSet); err != nil {
		return err
	}
	if err := writeHeader1(ctx, fc, ms, fileSize, fileSize-ms.dataOffset); err != nil {
		return err
	}
	if _, err := bc.Seek(ctx, fileSize, bytestream.SeekSet); err != nil {
		return err
	}
	return bc.FlushPacket(ctx)
}
