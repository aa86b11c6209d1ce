package avi

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

type demuxStreamState struct {
	prefix string
}

type demuxState struct {
	streams []demuxStreamState
}

// Demuxer implements avformat.Demuxer for AVI input.
type Demuxer struct{}

func (Demuxer) ShortName() string  { return "avi" }
func (Demuxer) Extensions() string { return "avi" }
func (Demuxer) MimeType() string   { return "video/x-msvideo" }

func (Demuxer) Probe(buf []byte) int {
	if len(buf) >= 12 && string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "AVI " {
		return 100
	}
	return 0
}

func (Demuxer) ReadHeader(ctx context.Context, fc *avformat.FormatContext) error {
	bc := fc.IOCtx
	riff, err := getTag(ctx, bc)
	if err != nil {
		return ioerr.NewIOError("avi.ReadHeader", err)
	}
	if riff != "RIFF" {
		return ioerr.NewMalformedError("avi.ReadHeader", fmt.Errorf("missing RIFF magic"))
	}
	if _, err := bc.GetLE32(ctx); err != nil {
		return ioerr.NewIOError("avi.ReadHeader", err)
	}
	avi, err := getTag(ctx, bc)
	if err != nil {
		return ioerr.NewIOError("avi.ReadHeader", err)
	}
	if avi != "AVI " {
		return ioerr.NewMalformedError("avi.ReadHeader", fmt.Errorf("missing AVI magic"))
	}

	ds := &demuxState{}
	var curStream *avformat.Stream

	for {
		ckTag, err := getTag(ctx, bc)
		if err != nil {
			return ioerr.NewIOError("avi.ReadHeader", err)
		}
		size, err := bc.GetLE32(ctx)
		if err != nil {
			return ioerr.NewIOError("avi.ReadHeader", err)
		}
		switch ckTag {
		case "LIST":
			listType, err := getTag(ctx, bc)
			if err != nil {
				return ioerr.NewIOError("avi.ReadHeader", err)
			}
			switch listType {
			case "hdrl", "strl":
				// descend: nested chunks are read by the same loop.
				continue
			case "movi":
				fc.Priv = ds
				return nil
			default:
				if err := bc.Skip(ctx, int64(size)-4); err != nil {
					return err
				}
			}
		case "avih":
			microSecPerFrame, err := bc.GetLE32(ctx)
			if err != nil {
				return err
			}
			if err := bc.Skip(ctx, int64(size)-4); err != nil {
				return err
			}
			_ = microSecPerFrame
		case "strh":
			fccType, err := getTag(ctx, bc)
			if err != nil {
				return err
			}
			if _, err := bc.GetLE32(ctx); err != nil { // fccHandler
				return err
			}
			if _, err := bc.GetLE32(ctx); err != nil { // dwFlags
				return err
			}
			if _, err := bc.GetLE16(ctx); err != nil { // wPriority
				return err
			}
			if _, err := bc.GetLE16(ctx); err != nil { // wLanguage
				return err
			}
			if _, err := bc.GetLE32(ctx); err != nil { // dwInitialFrames
				return err
			}
			scale, err := bc.GetLE32(ctx)
			if err != nil {
				return err
			}
			rate, err := bc.GetLE32(ctx)
			if err != nil {
				return err
			}
			remaining := int64(size) - (4 + 4 + 4 + 2 + 2 + 4 + 4 + 4)
			if remaining > 0 {
				if err := bc.Skip(ctx, remaining); err != nil {
					return err
				}
			}

			st, err := fc.NewStream()
			if err != nil {
				return err
			}
			if fccType == "vids" {
				st.Codec.Type = codectags.CodecTypeVideo
				if scale > 0 {
					st.Codec.FrameRateNum = int(int64(rate) * int64(avformat.FrameRateBase) / int64(scale))
				}
			} else {
				st.Codec.Type = codectags.CodecTypeAudio
			}
			curStream = st
			ds.streams = append(ds.streams, demuxStreamState{prefix: fmt.Sprintf("%02d", st.Index)})
		case "strf":
			if curStream == nil {
				return ioerr.NewMalformedError("avi.ReadHeader", fmt.Errorf("strf with no preceding strh"))
			}
			if curStream.Codec.Type == codectags.CodecTypeVideo {
				if _, err := bc.GetLE32(ctx); err != nil { // biSize
					return err
				}
				width, err := bc.GetLE32(ctx)
				if err != nil {
					return err
				}
				height, err := bc.GetLE32(ctx)
				if err != nil {
					return err
				}
				if _, err := bc.GetLE16(ctx); err != nil { // biPlanes
					return err
				}
				if _, err := bc.GetLE16(ctx); err != nil { // biBitCount
					return err
				}
				compression, err := bc.GetLE32(ctx)
				if err != nil {
					return err
				}
				if err := bc.Skip(ctx, int64(size)-bmpHeaderSize+4); err != nil {
					return err
				}
				curStream.Codec.Width = int(width)
				curStream.Codec.Height = int(height)
				curStream.Codec.Tag = compression
				id, _ := codectags.GetID(codectags.BMPTags, compression)
				curStream.Codec.ID = id
			} else {
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
				if err := bc.Skip(ctx, int64(size)-wavHeaderSize); err != nil {
					return err
				}
				curStream.Codec.Tag = uint32(formatTag)
				curStream.Codec.Channels = int(channels)
				curStream.Codec.SampleRate = int(sampleRate)
				curStream.Codec.BlockAlign = int(blockAlign)
				curStream.Codec.BitsPerSample = int(bitsPerSample)
				curStream.Codec.ID = codectags.WAVCodecGetID(formatTag, int(bitsPerSample))
			}
		default:
			if err := bc.Skip(ctx, int64(size)+int64(size&1)); err != nil {
				return err
			}
		}
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

const resyncLimit = 1 << 20

func (Demuxer) ReadPacket(ctx context.Context, fc *avformat.FormatContext) (*avpacket.Packet, error) {
	ds := fc.Priv.(*demuxState)
	bc := fc.IOCtx

	var tagBuf [4]byte
	for attempts := 0; attempts < resyncLimit; attempts++ {
		n, err := bc.GetBuffer(ctx, tagBuf[:])
		if n < 4 {
			return nil, io.EOF
		}
		if err != nil && err != io.EOF {
			return nil, ioerr.NewIOError("avi.ReadPacket", err)
		}
		if isDigit(tagBuf[0]) && isDigit(tagBuf[1]) && (tagBuf[2] == 'd' || tagBuf[2] == 'w') && (tagBuf[3] == 'c' || tagBuf[3] == 'b') {
			size, err := bc.GetLE32(ctx)
			if err != nil {
				return nil, ioerr.NewIOError("avi.ReadPacket", err)
			}
			data := make([]byte, size)
			if _, err := bc.GetBuffer(ctx, data); err != nil {
				return nil, ioerr.NewIOError("avi.ReadPacket", err)
			}
			if size%2 == 1 {
				if _, err := bc.GetByte(ctx); err != nil {
					return nil, ioerr.NewIOError("avi.ReadPacket", err)
				}
			}
			streamIndex := streamIndexForPrefix(ds, string(tagBuf[:2]))
			if streamIndex < 0 {
				continue
			}
			pkt := avpacket.FromBytes(data)
			pkt.StreamIndex = streamIndex
			if tagBuf[2] == 'd' {
				pkt.Flags = avpacket.FlagKey
			}
			return pkt, nil
		}
		// Resynchronise one byte at a time (spec.md §4.5.2).
		if _, err := bc.Seek(ctx, -3, bytestream.SeekCur); err != nil {
			return nil, io.EOF
		}
	}
	return nil, io.EOF
}

func streamIndexForPrefix(ds *demuxState, prefix string) int {
	for i, s := range ds.streams {
		if s.prefix == prefix {
			return i
		}
	}
	return -1
}

func (Demuxer) ReadClose(*avformat.FormatContext) error { return nil }
