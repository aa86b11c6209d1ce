// Package avi implements the RIFF/AVI muxer and demuxer of spec.md §4.5.2:
// a hdrl/strl header section, a movi chunk list carrying `NNdc`/`NNwb`
// tagged packets, and an idx1 trailer index patched onto seekable outputs.
package avi

import (
	"context"
	"fmt"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
)

const (
	aviHeaderSize   = 56
	strHeaderSize   = 56
	bmpHeaderSize   = 40
	wavHeaderSize   = 16
	flagTrustCktype = 0x00000800
	flagHasIndex    = 0x00000010
	flagInterleaved = 0x00000100
)

func tag4(s string) [4]byte { var t [4]byte; copy(t[:], s); return t }

func putTag(ctx context.Context, bc *bytestream.Context, s string) error {
	t := tag4(s)
	return bc.PutBuffer(ctx, t[:])
}

func getTag(ctx context.Context, bc *bytestream.Context) (string, error) {
	var t [4]byte
	if _, err := bc.GetBuffer(ctx, t[:]); err != nil {
		return "", err
	}
	return string(t[:]), nil
}

// indexEntry is one idx1 record (spec.md §3 "AVI index entry").
type indexEntry struct {
	Tag    string
	Flags  uint32
	Offset uint32 // relative to the first byte after the "movi" fourcc
	Length uint32
}

type muxState struct {
	riffSizeOffset  int64
	movListOffset   int64
	movListSizeOff  int64
	movDataStart    int64
	frameCountOff   []int64 // per-stream dwLength patch offsets
	frameCounts     []uint32
	index           []indexEntry
	streamTagPrefix []string // "00", "01", ... per stream index
}

// Muxer implements avformat.Muxer for AVI output.
type Muxer struct{}

func (Muxer) ShortName() string  { return "avi" }
func (Muxer) Extensions() string { return "avi" }
func (Muxer) MimeType() string   { return "video/x-msvideo" }
func (Muxer) NeedsNumber() bool  { return false }

func (Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	bc := fc.IOCtx
	streams := fc.Streams()
	if len(streams) == 0 {
		return ioerr.NewProgrammerError("avi.WriteHeader", fmt.Errorf("no streams registered"))
	}

	if err := putTag(ctx, bc, "RIFF"); err != nil {
		return err
	}
	riffSizeOffset, _ := bc.Tell(ctx)
	if err := bc.PutLE32(ctx, 0); err != nil {
		return err
	}
	if err := putTag(ctx, bc, "AVI "); err != nil {
		return err
	}

	// LIST hdrl
	if err := putTag(ctx, bc, "LIST"); err != nil {
		return err
	}
	hdrlSizeOffset, _ := bc.Tell(ctx)
	if err := bc.PutLE32(ctx, 0); err != nil {
		return err
	}
	if err := putTag(ctx, bc, "hdrl"); err != nil {
		return err
	}

	videoRate, videoScale, width, height := 25, 1, 0, 0
	for _, st := range streams {
		if st.Codec.Type == codectags.CodecTypeVideo {
			width, height = st.Codec.Width, st.Codec.Height
			if st.Codec.FrameRateNum > 0 {
				videoRate = st.Codec.FrameRateNum
				videoScale = avformat.FrameRateBase
			}
			break
		}
	}
	microSecPerFrame := uint32(int64(1000000) * int64(videoScale) / int64(videoRate))

	if err := putTag(ctx, bc, "avih"); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, aviHeaderSize); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, microSecPerFrame); err != nil {
		return err
	}
	totalBitrate := int64(0)
	for _, st := range streams {
		totalBitrate += st.Codec.BitRate
	}
	if err := bc.PutLE32(ctx, uint32(totalBitrate/8)); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, 0); err != nil { // padding granularity
		return err
	}
	if err := bc.PutLE32(ctx, flagTrustCktype|flagHasIndex|flagInterleaved); err != nil {
		return err
	}
	totalFramesOffset, _ := bc.Tell(ctx)
	if err := bc.PutLE32(ctx, 0); err != nil { // dwTotalFrames placeholder
		return err
	}
	if err := bc.PutLE32(ctx, 0); err != nil { // dwInitialFrames
		return err
	}
	if err := bc.PutLE32(ctx, uint32(len(streams))); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, 0); err != nil { // dwSuggestedBufferSize
		return err
	}
	if err := bc.PutLE32(ctx, uint32(width)); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(height)); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if err := bc.PutLE32(ctx, 0); err != nil {
			return err
		}
	}

	ms := &muxState{riffSizeOffset: riffSizeOffset}
	for i, st := range streams {
		if err := putTag(ctx, bc, "LIST"); err != nil {
			return err
		}
		strlSizeOffset, _ := bc.Tell(ctx)
		if err := bc.PutLE32(ctx, 0); err != nil {
			return err
		}
		if err := putTag(ctx, bc, "strl"); err != nil {
			return err
		}

		if err := putTag(ctx, bc, "strh"); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, strHeaderSize); err != nil {
			return err
		}
		var scale, rate uint32
		var fccType string
		if st.Codec.Type == codectags.CodecTypeVideo {
			fccType = "vids"
			scale = uint32(avformat.FrameRateBase)
			rate = uint32(st.Codec.FrameRateNum)
			if rate == 0 {
				rate = uint32(25 * avformat.FrameRateBase)
				scale = uint32(avformat.FrameRateBase)
			}
		} else {
			fccType = "auds"
			rate = uint32(st.Codec.BitRate / 8)
			scale = 1
			if rate == 0 {
				rate = 1
			}
		}
		if err := putTag(ctx, bc, fccType); err != nil {
			return err
		}
		fourcc := uint32(0)
		if st.Codec.Type == codectags.CodecTypeVideo {
			fourcc, _ = codectags.GetTag(codectags.BMPTags, st.Codec.ID)
		}
		if err := bc.PutLE32(ctx, fourcc); err != nil { // fccHandler
			return err
		}
		if err := bc.PutLE32(ctx, 0); err != nil { // dwFlags
			return err
		}
		if err := bc.PutLE16(ctx, 0); err != nil { // wPriority
			return err
		}
		if err := bc.PutLE16(ctx, 0); err != nil { // wLanguage
			return err
		}
		if err := bc.PutLE32(ctx, 0); err != nil { // dwInitialFrames
			return err
		}
		if err := bc.PutLE32(ctx, scale); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, rate); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, 0); err != nil { // dwStart
			return err
		}
		lengthOffset, _ := bc.Tell(ctx)
		if err := bc.PutLE32(ctx, 0); err != nil { // dwLength placeholder
			return err
		}
		if err := bc.PutLE32(ctx, 0); err != nil { // dwSuggestedBufferSize
			return err
		}
		if err := bc.PutLE32(ctx, 0xFFFFFFFF); err != nil { // dwQuality
			return err
		}
		if err := bc.PutLE32(ctx, 0); err != nil { // dwSampleSize
			return err
		}
		for j := 0; j < 4; j++ { // rcFrame
			if err := bc.PutLE16(ctx, 0); err != nil {
				return err
			}
		}
		ms.frameCountOff = append(ms.frameCountOff, lengthOffset)
		ms.frameCounts = append(ms.frameCounts, 0)
		ms.streamTagPrefix = append(ms.streamTagPrefix, fmt.Sprintf("%02d", i))

		if err := putTag(ctx, bc, "strf"); err != nil {
			return err
		}
		if st.Codec.Type == codectags.CodecTypeVideo {
			if err := bc.PutLE32(ctx, bmpHeaderSize); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, bmpHeaderSize); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, uint32(st.Codec.Width)); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, uint32(st.Codec.Height)); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, 1); err != nil { // biPlanes
				return err
			}
			if err := bc.PutLE16(ctx, 24); err != nil { // biBitCount
				return err
			}
			if err := bc.PutLE32(ctx, fourcc); err != nil { // biCompression
				return err
			}
			for k := 0; k < 5; k++ {
				if err := bc.PutLE32(ctx, 0); err != nil {
					return err
				}
			}
		} else {
			wavTag, _ := codectags.GetTag(codectags.WAVTags, st.Codec.ID)
			if err := bc.PutLE32(ctx, wavHeaderSize); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, uint16(wavTag)); err != nil {
				return err
			}
			if err := bc.PutLE16(ctx, uint16(st.Codec.Channels)); err != nil {
				return err
			}
			if err := bc.PutLE32(ctx, uint32(st.Codec.SampleRate)); err != nil {
				return err
			}
			blockAlign := st.Codec.BlockAlign
			if blockAlign == 0 {
				blockAlign = st.Codec.Channels * st.Codec.BitsPerSample / 8
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
		}

		strlEnd, _ := bc.Tell(ctx)
		if err := patchSize(ctx, bc, strlSizeOffset, strlEnd-(strlSizeOffset+4)); err != nil {
			return err
		}
	}

	hdrlEnd, _ := bc.Tell(ctx)
	if err := patchSize(ctx, bc, hdrlSizeOffset, hdrlEnd-(hdrlSizeOffset+4)); err != nil {
		return err
	}
	_ = totalFramesOffset

	if err := putTag(ctx, bc, "LIST"); err != nil {
		return err
	}
	movListSizeOff, _ := bc.Tell(ctx)
	if err := bc.PutLE32(ctx, 0); err != nil {
		return err
	}
	if err := putTag(ctx, bc, "movi"); err != nil {
		return err
	}
	movDataStart, _ := bc.Tell(ctx)

	ms.movListOffset = hdrlEnd
	ms.movListSizeOff = movListSizeOff
	ms.movDataStart = movDataStart
	fc.Priv = ms
	return nil
}

func patchSize(ctx context.Context, bc *bytestream.Context, sizeFieldOffset, size int64) error {
	cur, err := bc.Tell(ctx)
	if err != nil {
		return err
	}
	if _, err := bc.Seek(ctx, sizeFieldOffset, bytestream.SeekSet); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(size)); err != nil {
		return err
	}
	_, err = bc.Seek(ctx, cur, bytestream.SeekSet)
	return err
}

func (Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	ms := fc.Priv.(*muxState)
	bc := fc.IOCtx
	st := fc.Stream(pkt.StreamIndex)
	if st == nil {
		return ioerr.NewProgrammerError("avi.WritePacket", fmt.Errorf("unknown stream %d", pkt.StreamIndex))
	}

	suffix := "wb"
	flags := uint32(0)
	if st.Codec.Type == codectags.CodecTypeVideo {
		suffix = "dc"
		if pkt.IsKeyFrame() {
			flags = 0x10 // AVIIF_KEYFRAME
		}
	} else {
		flags = 0x10
	}
	chunkTag := ms.streamTagPrefix[pkt.StreamIndex] + suffix

	offset, err := bc.Tell(ctx)
	if err != nil {
		return err
	}
	if err := putTag(ctx, bc, chunkTag); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(len(pkt.Data))); err != nil {
		return err
	}
	if err := bc.PutBuffer(ctx, pkt.Data); err != nil {
		return err
	}
	if len(pkt.Data)%2 == 1 {
		if err := bc.PutByte(ctx, 0); err != nil {
			return err
		}
	}

	ms.index = append(ms.index, indexEntry{
		Tag:    chunkTag,
		Flags:  flags,
		Offset: uint32(offset - ms.movDataStart),
		Length: uint32(len(pkt.Data)),
	})
	ms.frameCounts[pkt.StreamIndex]++
	return nil
}

func (Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	ms := fc.Priv.(*muxState)
	bc := fc.IOCtx

	movEnd, err := bc.Tell(ctx)
	if err != nil {
		return err
	}
	if err := patchSize(ctx, bc, ms.movListSizeOff, movEnd-(ms.movListSizeOff+4)); err != nil {
		return err
	}

	if err := putTag(ctx, bc, "idx1"); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(len(ms.index)*16)); err != nil {
		return err
	}
	for _, e := range ms.index {
		if err := putTag(ctx, bc, e.Tag); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, e.Flags); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, e.Offset); err != nil {
			return err
		}
		if err := bc.PutLE32(ctx, e.Length); err != nil {
			return err
		}
	}

	if err := bc.FlushPacket(ctx); err != nil {
		return err
	}
	if bc.IsStreamed() {
		return nil
	}
	endPos, err := bc.Tell(ctx)
	if err != nil {
		return err
	}
	if err := patchSize(ctx, bc, ms.riffSizeOffset, endPos-(ms.riffSizeOffset+4)); err != nil {
		return err
	}
	for i, off := range ms.frameCountOff {
		if err := patchSize(ctx, bc, off, int64(ms.frameCounts[i])); err != nil {
			return err
		}
	}
	_, err = bc.Seek(ctx, endPos, bytestream.SeekSet)
	return err
}
