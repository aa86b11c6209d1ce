// Package au implements the Sun AU muxer/demuxer of spec.md §4.5.6.
//
// The muxer writes its magic via little-endian PutLE32 while the on-disk
// format is conventionally big-endian-tagged; the demuxer matches on the
// same little-endian encoding. This mismatch is preserved deliberately
// (spec.md §9 "Ambiguous / potentially buggy source behaviour") rather than
// silently "fixed", since doing so would change the muxer/demuxer's mutual
// round-trip behaviour without a spec decision to do so.
package au

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

const (
	headerSize    = 24
	unknownSize32 = 0xFFFFFFFF
)

// magicLE is ".snd" packed as MKTAG would, read/written via PutLE32/GetLE32
// instead of PutBE32/GetBE32 (see package doc comment).
var magicLE = codectags.MKTAG('.', 's', 'n', 'd')

type muxState struct {
	sizeOffset int64
	dataBytes  int64
}

// Muxer implements avformat.Muxer for Sun AU output.
type Muxer struct{}

func (Muxer) ShortName() string  { return "au" }
func (Muxer) Extensions() string { return "au" }
func (Muxer) MimeType() string   { return "audio/basic" }
func (Muxer) NeedsNumber() bool  { return false }

func (Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	st := fc.Stream(0)
	if st == nil {
		return ioerr.NewProgrammerError("au.WriteHeader", fmt.Errorf("no audio stream registered"))
	}
	tag, ok := codectags.GetTag(codectags.AUTags, st.Codec.ID)
	if !ok {
		return ioerr.NewUnsupportedError("au.WriteHeader", fmt.Errorf("codec %s has no AU tag", st.Codec.ID))
	}

	bc := fc.IOCtx
	if err := bc.PutLE32(ctx, magicLE); err != nil {
		return err
	}
	if err := bc.PutBE32(ctx, headerSize); err != nil {
		return err
	}
	sizeOffset, _ := bc.Tell(ctx)
	if err := bc.PutBE32(ctx, unknownSize32); err != nil {
		return err
	}
	if err := bc.PutBE32(ctx, tag); err != nil {
		return err
	}
	if err := bc.PutBE32(ctx, uint32(st.Codec.SampleRate)); err != nil {
		return err
	}
	if err := bc.PutBE32(ctx, uint32(st.Codec.Channels)); err != nil {
		return err
	}
	fc.Priv = &muxState{sizeOffset: sizeOffset}
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
	if bc.IsStreamed() {
		return nil
	}
	ms := fc.Priv.(*muxState)
	endPos, err := bc.Tell(ctx)
	if err != nil {
		return err
	}
	if _, err := bc.Seek(ctx, ms.sizeOffset, bytestream.SeekSet); err != nil {
		return err
	}
	if err := bc.PutBE32(ctx, uint32(ms.dataBytes)); err != nil {
		return err
	}
	_, err = bc.Seek(ctx, endPos, bytestream.SeekSet)
	return err
}

type demuxState struct {
	dataRemaining int64
}

// Demuxer implements avformat.Demuxer for Sun AU input.
type Demuxer struct{}

func (Demuxer) ShortName() string  { return "au" }
func (Demuxer) Extensions() string { return "au" }
func (Demuxer) MimeType() string   { return "audio/basic" }

func (Demuxer) Probe(buf []byte) int {
	if len(buf) >= 4 &&
		buf[0] == byte(magicLE) && buf[1] == byte(magicLE>>8) &&
		buf[2] == byte(magicLE>>16) && buf[3] == byte(magicLE>>24) {
		return 100
	}
	return 0
}

func (Demuxer) ReadHeader(ctx context.Context, fc *avformat.FormatContext) error {
	bc := fc.IOCtx
	magic, err := bc.GetLE32(ctx)
	if err != nil {
		return ioerr.NewIOError("au.ReadHeader", err)
	}
	if magic != magicLE {
		return ioerr.NewMalformedError("au.ReadHeader", fmt.Errorf("bad AU magic"))
	}
	hdrSize, err := bc.GetBE32(ctx)
	if err != nil {
		return ioerr.NewIOError("au.ReadHeader", err)
	}
	dataSize, err := bc.GetBE32(ctx)
	if err != nil {
		return ioerr.NewIOError("au.ReadHeader", err)
	}
	formatTag, err := bc.GetBE32(ctx)
	if err != nil {
		return ioerr.NewIOError("au.ReadHeader", err)
	}
	sampleRate, err := bc.GetBE32(ctx)
	if err != nil {
		return ioerr.NewIOError("au.ReadHeader", err)
	}
	channels, err := bc.GetBE32(ctx)
	if err != nil {
		return ioerr.NewIOError("au.ReadHeader", err)
	}
	if hdrSize > headerSize {
		if err := bc.Skip(ctx, int64(hdrSize)-headerSize); err != nil {
			return err
		}
	}

	st, err := fc.NewStream()
	if err != nil {
		return err
	}
	st.Codec.Type = codectags.CodecTypeAudio
	st.Codec.Tag = formatTag
	st.Codec.SampleRate = int(sampleRate)
	st.Codec.Channels = int(channels)
	id, _ := codectags.GetID(codectags.AUTags, formatTag)
	st.Codec.ID = id

	remaining := int64(-1)
	if dataSize != unknownSize32 {
		remaining = int64(dataSize)
	}
	fc.Priv = &demuxState{dataRemaining: remaining}
	return nil
}

const readChunk = 4096

func (Demuxer) ReadPacket(ctx context.Context, fc *avformat.FormatContext) (*avpacket.Packet, error) {
	ds := fc.Priv.(*demuxState)
	if ds.dataRemaining == 0 {
		return nil, io.EOF
	}
	n := int64(readChunk)
	if ds.dataRemaining > 0 && ds.dataRemaining < n {
		n = ds.dataRemaining
	}
	buf := make([]byte, n)
	read, err := fc.IOCtx.GetBuffer(ctx, buf)
	if read == 0 {
		return nil, io.EOF
	}
	if ds.dataRemaining > 0 {
		ds.dataRemaining -= int64(read)
	}
	_ = err
	pkt := avpacket.FromBytes(buf[:read])
	pkt.StreamIndex = 0
	pkt.Flags = avpacket.FlagKey
	return pkt, nil
}

func (Demuxer) ReadClose(*avformat.FormatContext) error { return nil }
