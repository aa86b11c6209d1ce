package wav

import (
	"bytes"
	"context"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
)

func newMuxFormatContext(t *testing.T, buf []byte) *avformat.FormatContext {
	t.Helper()
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}
	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Type = codectags.CodecTypeAudio
	st.Codec.ID = codectags.IDPCMS16LE
	st.Codec.Channels = 1
	st.Codec.SampleRate = 8000
	st.Codec.BitsPerSample = 16
	st.Codec.BlockAlign = 2
	return fc
}

func TestWAV_S1RoundTrip(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 256)
	fc := newMuxFormatContext(t, buf)
	fc.Muxer = Muxer{}

	if err := Muxer{}.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	payload := []byte{0x34, 0x12, 0x78, 0x56}
	pkt := avpacket.FromBytes(payload)
	if err := Muxer{}.WritePacket(ctx, fc, pkt); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := Muxer{}.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	out := fc.IOCtx.Bytes()
	if len(out) != 48 {
		t.Fatalf("expected file length 48, got %d", len(out))
	}
	if string(out[0:4]) != "RIFF" {
		t.Fatalf("bad RIFF magic: %q", out[0:4])
	}
	if string(out[8:12]) != "WAVE" {
		t.Fatalf("bad WAVE magic: %q", out[8:12])
	}
	if out[20] != 0x01 || out[21] != 0x00 {
		t.Fatalf("bad format tag bytes: %x %x", out[20], out[21])
	}
	if out[22] != 0x01 || out[23] != 0x00 {
		t.Fatalf("bad channel count bytes: %x %x", out[22], out[23])
	}
	if !bytes.Equal(out[24:28], []byte{0x40, 0x1F, 0x00, 0x00}) {
		t.Fatalf("bad sample rate bytes: % x", out[24:28])
	}

	// Demux the freshly muxed bytes and assert the packet round trips.
	rfc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(out, false)}
	dm := Demuxer{}
	rfc.Demuxer = dm
	if err := dm.ReadHeader(ctx, rfc); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	got, err := dm.ReadPacket(ctx, rfc)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Fatalf("round-tripped payload = % x, want % x", got.Data, payload)
	}
}

func TestWAV_Probe(t *testing.T) {
	good := append([]byte("RIFF\x00\x00\x00\x00"), []byte("WAVE")...)
	if Demuxer{}.Probe(good) != 100 {
		t.Fatalf("expected confident probe match")
	}
	if Demuxer{}.Probe([]byte("bogus")) != 0 {
		t.Fatalf("expected no match on bogus header")
	}
}
