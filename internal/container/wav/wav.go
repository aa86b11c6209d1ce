// Package wav implements the RIFF/WAVE muxer and demuxer of spec.md
// §4.5.1: a "fmt " chunk carrying a classic WAVEFORMAT record followed by a
// "data" chunk, with RIFF/data sizes patched at trailer time on seekable
// outputs.
package wav

import (
	"context"
	"fmt"
	"io"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
)

func tag(a, b, c, d byte) [4]byte { return [4]byte{a, b, c, d} }

var (
	tagRIFF = tag('R', 'I', 'F', 'F')
	tagWAVE = tag('W', 'A', 'V', 'E')
	tagFmt  = tag('f', 'm', 't', ' ')
	tagData = tag('d', 'a', 't', 'a')
)

func putTag(ctx context.Context, bc *bytestream.Context, t [4]byte) error {
	return bc.PutBuffer(ctx, t[:])
}

func getTag(ctx context.Context, bc *bytestream.Context) ([4]byte, error) {
	var t [4]byte
	_, err := bc.GetBuffer(ctx, t[:])
	return t, err
}

// muxState is the per-FormatContext private data the wav Muxer attaches to
// FormatContext.Priv.
type muxState struct {
	riffSizeOffset int64
	dataSizeOffset int64
	dataBytes      int64
}

// Muxer implements avformat.Muxer for RIFF/WAVE output.
type Muxer struct{}

func (Muxer) ShortName() string  { return "wav" }
func (Muxer) Extensions() string { return "wav" }
func (Muxer) MimeType() string   { return "audio/x-wav" }
func (Muxer) NeedsNumber() bool  { return false }

func (Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	st := fc.Stream(0)
	if st == nil {
		return ioerr.NewProgrammerError("wav.WriteHeader", fmt.Errorf("no audio stream registered"))
	}
	formatTag, ok := codectags.GetTag(codectags.WAVTags, st.Codec.ID)
	if !ok {
		return ioerr.NewUnsupportedError("wav.WriteHeader", fmt.Errorf("codec %s has no WAV tag", st.Codec.ID))
	}

	bc := fc.IOCtx
	if err := putTag(ctx, bc, tagRIFF); err != nil {
		return err
	}
	riffSizeOffset, _ := bc.Tell(ctx)
	if err := bc.PutLE32(ctx, 0); err != nil {
		return err
	}
	if err := putTag(ctx, bc, tagWAVE); err != nil {
		return err
	}
	if err := putTag(ctx, bc, tagFmt); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, 16); err != nil {
		return err
	}
	blockAlign := st.Codec.BlockAlign
	if blockAlign == 0 {
		blockAlign = st.Codec.Channels * st.Codec.BitsPerSample / 8
	}
	avgBytesPerSec := st.Codec.SampleRate * blockAlign
	if err := bc.PutLE16(ctx, uint16(formatTag)); err != nil {
		return err
	}
	if err := bc.PutLE16(ctx, uint16(st.Codec.Channels)); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(st.Codec.SampleRate)); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(avgBytesPerSec)); err != nil {
		return err
	}
	if err := bc.PutLE16(ctx, uint16(blockAlign)); err != nil {
		return err
	}
	if err := bc.PutLE16(ctx, uint16(st.Codec.BitsPerSample)); err != nil {
		return err
	}
	if err := putTag(ctx, bc, tagData); err != nil {
		return err
	}
	dataSizeOffset, _ := bc.Tell(ctx)
	if err := bc.PutLE32(ctx, 0); err != nil {
		return err
	}

	fc.Priv = &muxState{riffSizeOffset: riffSizeOffset, dataSizeOffset: dataSizeOffset}
	return nil
}

func (Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	ms := fc.Priv.(*muxState)
	if err := fc.IOCtx.PutBuffer(ctx, pkt.Data); err != nil {
		return err
	}
	ms.dataBytes += int64(len(pkt.Data))
	return nil
}

func (Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	bc := fc.IOCtx
	if err := bc.FlushPacket(ctx); err != nil {
		return err
	}
	ms := fc.Priv.(*muxState)
	if bc.IsStreamed() {
		return nil
	}
	endPos, err := bc.Tell(ctx)
	if err != nil {
		return err
	}
	if _, err := bc.Seek(ctx, ms.riffSizeOffset, bytestream.SeekSet); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(endPos-8)); err != nil {
		return err
	}
	if _, err := bc.Seek(ctx, ms.dataSizeOffset, bytestream.SeekSet); err != nil {
		return err
	}
	if err := bc.PutLE32(ctx, uint32(ms.dataBytes)); err != nil {
		return err
	}
	_, err = bc.Seek(ctx, endPos, bytestream.SeekSet)
	return err
}

// demuxState tracks the data chunk's remaining byte count so ReadPacket
// knows when the stream is exhausted.
type demuxState struct {
	dataRemaining int64
}

// Demuxer implements avformat.Demuxer for RIFF/WAVE input.
type Demuxer struct{}

func (Demuxer) ShortName() string  { return "wav" }
func (Demuxer) Extensions() string { return "wav" }
func (Demuxer) MimeType() string   { return "audio/x-wav" }

func (Demuxer) Probe(buf []byte) int {
	if len(buf) >= 12 && string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "WAVE" {
		return 100
	}
	return 0
}

func (Demuxer) ReadHeader(ctx context.Context, fc *avformat.FormatContext) error {
	bc := fc.IOCtx
	riff, err := getTag(ctx, bc)
	if err != nil {
		return ioerr.NewIOError("wav.ReadHeader", err)
	}
	if riff != tagRIFF {
		return ioerr.NewMalformedError("wav.ReadHeader", fmt.Errorf("missing RIFF magic"))
	}
	if _, err := bc.GetLE32(ctx); err != nil { // riff size, unused
		return ioerr.NewIOError("wav.ReadHeader", err)
	}
	wave, err := getTag(ctx, bc)
	if err != nil {
		return ioerr.NewIOError("wav.ReadHeader", err)
	}
	if wave != tagWAVE {
		return ioerr.NewMalformedError("wav.ReadHeader", fmt.Errorf("missing WAVE magic"))
	}

	st, err := fc.NewStream()
	if err != nil {
		return err
	}
	st.Codec.Type = codectags.CodecTypeAudio

	sawFmt := false
	var dataSize int64
chunks:
	for {
		ckTag, err := getTag(ctx, bc)
		if err != nil {
			return ioerr.NewIOError("wav.ReadHeader", err)
		}
		size, err := bc.GetLE32(ctx)
		if err != nil {
			return ioerr.NewIOError("wav.ReadHeader", err)
		}
		switch ckTag {
		case tagFmt:
			formatTag, err := bc.GetLE16(ctx)
			if err != nil {
				return err
			}
			channels, err := bc.GetLE16(ctx)
			if err != nil {
				return err
			}
			sampleRate, err := bc.GetLE32(ctx)
			if err != nil {
				return err
			}
			if _, err := bc.GetLE32(ctx); err != nil { // avg bytes/sec
				return err
			}
			blockAlign, err := bc.GetLE16(ctx)
			if err != nil {
				return err
			}
			bitsPerSample, err := bc.GetLE16(ctx)
			if err != nil {
				return err
			}
			remaining := int64(size) - 16
			if remaining > 0 {
				if err := bc.Skip(ctx, remaining); err != nil {
					return err
				}
			}
			st.Codec.Tag = uint32(formatTag)
			st.Codec.Channels = int(channels)
			st.Codec.SampleRate = int(sampleRate)
			st.Codec.BlockAlign = int(blockAlign)
			st.Codec.BitsPerSample = int(bitsPerSample)
			st.Codec.ID = codectags.WAVCodecGetID(formatTag, int(bitsPerSample))
			sawFmt = true
		case tagData:
			dataSize = int64(size)
			break chunks
		default:
			if err := bc.Skip(ctx, int64(size)+int64(size&1)); err != nil {
				return err
			}
		}
	}
	if !sawFmt {
		return ioerr.NewMalformedError("wav.ReadHeader", fmt.Errorf("missing fmt chunk"))
	}
	fc.Priv = &demuxState{dataRemaining: dataSize}
	return nil
}

const readChunk = 4096

func (Demuxer) ReadPacket(ctx context.Context, fc *avformat.FormatContext) (*avpacket.Packet, error) {
	ds := fc.Priv.(*demuxState)
	if ds.dataRemaining <= 0 {
		return nil, io.EOF
	}
	n := int64(readChunk)
	if ds.dataRemaining < n {
		n = ds.dataRemaining
	}
	buf := make([]byte, n)
	read, err := fc.IOCtx.GetBuffer(ctx, buf)
	if read == 0 && err != nil {
		return nil, ioerr.NewIOError("wav.ReadPacket", err)
	}
	ds.dataRemaining -= int64(read)
	pkt := avpacket.FromBytes(buf[:read])
	pkt.StreamIndex = 0
	pkt.Flags = avpacket.FlagKey
	return pkt, nil
}

func (Demuxer) ReadClose(*avformat.FormatContext) error { return nil }
