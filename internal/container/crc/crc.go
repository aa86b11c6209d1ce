// Package crc implements the output-only CRC test sink of spec.md §4.5.6:
// an Adler-32 running checksum over every packet payload, emitted as
// "CRC=%08x\n" at trailer time.
package crc

import (
	"context"
	"fmt"
	"hash"
	"hash/adler32"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
)

type muxState struct {
	hash hash.Hash32
}

// Muxer implements avformat.Muxer for the CRC test sink.
type Muxer struct{}

func (Muxer) ShortName() string  { return "crc" }
func (Muxer) Extensions() string { return "" }
func (Muxer) MimeType() string   { return "" }
func (Muxer) NeedsNumber() bool  { return false }

func (Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	fc.Priv = &muxState{hash: adler32.New()}
	return nil
}

func (Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	ms := fc.Priv.(*muxState)
	_, _ = ms.hash.Write(pkt.Data)
	return nil
}

func (Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	ms := fc.Priv.(*muxState)
	line := fmt.Sprintf("CRC=%08x\n", ms.hash.Sum32())
	if err := fc.IOCtx.PutBuffer(ctx, []byte(line)); err != nil {
		return err
	}
	return fc.IOCtx.FlushPacket(ctx)
}
