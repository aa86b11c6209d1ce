package asf

import (
	"bytes"
	"context"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
)

func TestASF_S3MuxSmoke(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 16384)
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
	payload := bytes.Repeat([]byte{0xCD}, 32)
	pkt := avpacket.FromBytes(payload)
	pkt.StreamIndex = 0
	pkt.Flags = avpacket.FlagKey
	if err := mux.WritePacket(ctx, fc, pkt); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	out := fc.IOCtx.Bytes()
	ms := fc.Priv.(*muxState)

	// Locate the first data packet: data_header object is 24 (guid+size) +
	// 16 (my_guid) + 8 (nb packets) + 1 + 1 bytes.
	packetStart := int(ms.dataOffset) + 24 + 16 + 8 + 1 + 1
	pkt0 := out[packetStart:]
	if pkt0[0] != 0x82 || pkt0[1] != 0x00 || pkt0[2] != 0x00 {
		t.Fatalf("expected packet to start 0x82 00 00, got % x", pkt0[0:3])
	}
	flags := pkt0[3]
	if flags&0x01 == 0 {
		t.Fatalf("expected flag bit 0x01 set, got 0x%02x", flags)
	}

	hdrSize := 12
	if flags&0x10 != 0 {
		hdrSize += 2
	} else if flags&0x08 != 0 {
		hdrSize++
	}
	streamNumByte := pkt0[hdrSize]
	if streamNumByte != 0x01|0x80 {
		t.Fatalf("expected stream-number byte 0x81, got 0x%02x", streamNumByte)
	}

	if len(pkt0) < avformat.ASFPacketSize {
		t.Fatalf("expected at least one full %d-byte packet, got %d trailing bytes", avformat.ASFPacketSize, len(pkt0))
	}
}

func TestASF_RoundTripFragmentsAcrossPackets(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 64*1024)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}
	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Type = codectags.CodecTypeVideo
	st.Codec.ID = codectags.IDRawVideo
	st.Codec.Width = 8
	st.Codec.Height = 8
	st.Codec.FrameRateNum = 25 * avformat.FrameRateBase

	mux := Muxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	// A payload larger than one packet forces fragmentation across two
	// ASF data packets (spec.md §4.5.3 reassembly).
	big := make([]byte, 4000)
	for i := range big {
		big[i] = byte(i)
	}
	pkt := avpacket.FromBytes(big)
	pkt.StreamIndex = 0
	pkt.Flags = avpacket.FlagKey
	if err := mux.WritePacket(ctx, fc, pkt); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	small := []byte{1, 2, 3, 4}
	pkt2 := avpacket.FromBytes(small)
	pkt2.StreamIndex = 0
	if err := mux.WritePacket(ctx, fc, pkt2); err != nil {
		t.Fatalf("WritePacket2: %v", err)
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	out := fc.IOCtx.Bytes()
	rfc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(out, false)}
	dm := Demuxer{}
	if err := dm.ReadHeader(ctx, rfc); err != nil {
		t.Fatalf("demux ReadHeader: %v", err)
	}

	p1, err := dm.ReadPacket(ctx, rfc)
	if err != nil {
		t.Fatalf("ReadPacket 1: %v", err)
	}
	if !bytes.Equal(p1.Data, big) {
		t.Fatalf("reassembled packet mismatch: got %d bytes want %d", len(p1.Data), len(big))
	}
	if !p1.IsKeyFrame() {
		t.Fatalf("expected key frame flag on first packet")
	}

	p2, err := dm.ReadPacket(ctx, rfc)
	if err != nil {
		t.Fatalf("ReadPacket 2: %v", err)
	}
	if !bytes.Equal(p2.Data, small) {
		t.Fatalf("second packet mismatch: got %v want %v", p2.Data, small)
	}

	vs := rfc.Stream(0)
	if vs.Codec.Width != 8 || vs.Codec.Height != 8 {
		t.Fatalf("demuxed dimensions = %dx%d, want 8x8", vs.Codec.Width, vs.Codec.Height)
	}
	if vs.Codec.FrameRateNum != 25*avformat.FrameRateBase {
		t.Fatalf("expected hard-coded 25fps fallback, got %d", vs.Codec.FrameRateNum)
	}
}

func TestASF_Probe(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 4096)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}
	st, _ := fc.NewStream()
	st.Codec.Type = codectags.CodecTypeAudio
	st.Codec.ID = codectags.IDPCMS16LE
	st.Codec.Channels = 1
	st.Codec.SampleRate = 8000
	st.Codec.BitsPerSample = 16
	st.Codec.FrameSize = 1

	mux := Muxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatal(err)
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatal(err)
	}
	out := fc.IOCtx.Bytes()
	dm := Demuxer{}
	if score := dm.Probe(out); score != 100 {
		t.Fatalf("expected probe score 100, got %d", score)
	}
}
