package avi

import (
	"bytes"
	"context"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
)

func TestAVI_S2Index(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 4096)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}
	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Type = codectags.CodecTypeVideo
	st.Codec.ID = codectags.IDRawVideo
	st.Codec.Width = 16
	st.Codec.Height = 16
	st.Codec.FrameRateNum = 25 * avformat.FrameRateBase

	mux := Muxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	payloads := [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}
	for _, p := range payloads {
		pkt := avpacket.FromBytes(p)
		pkt.StreamIndex = 0
		pkt.Flags = avpacket.FlagKey
		if err := mux.WritePacket(ctx, fc, pkt); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	out := fc.IOCtx.Bytes()
	idx := bytes.Index(out, []byte("idx1"))
	if idx < 0 {
		t.Fatalf("expected idx1 chunk in output")
	}
	entriesStart := idx + 8
	for i := 0; i < 3; i++ {
		entry := out[entriesStart+i*16 : entriesStart+i*16+16]
		if string(entry[0:4]) != "00dc" {
			t.Fatalf("entry %d tag = %q, want 00dc", i, entry[0:4])
		}
	}
	off0 := le32(out[entriesStart+4 : entriesStart+8])
	off1 := le32(out[entriesStart+16+4 : entriesStart+16+8])
	off2 := le32(out[entriesStart+32+4 : entriesStart+32+8])
	if off1-off0 != 12 || off2-off1 != 12 {
		t.Fatalf("expected consecutive 12-byte chunk offsets, got %d %d %d", off0, off1, off2)
	}

	// Demux and check packet order/content.
	rfc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(out, false)}
	dm := Demuxer{}
	if err := dm.ReadHeader(ctx, rfc); err != nil {
		t.Fatalf("demux ReadHeader: %v", err)
	}
	for i, want := range payloads {
		pkt, err := dm.ReadPacket(ctx, rfc)
		if err != nil {
			t.Fatalf("ReadPacket %d: %v", i, err)
		}
		if !bytes.Equal(pkt.Data, want) {
			t.Fatalf("packet %d = %v, want %v", i, pkt.Data, want)
		}
	}
	vs := rfc.Stream(0)
	if vs.Codec.Width != 16 || vs.Codec.Height != 16 {
		t.Fatalf("demuxed dimensions = %dx%d, want 16x16", vs.Codec.Width, vs.Codec.Height)
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
