package mpegps

import (
	"bytes"
	"context"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
)

// TestMPEGPS_StartCodeRoundTrip muxes 100 video frames of a single MPEG
// stream and demuxes them back, exercising start-code resynchronisation
// across pack/system header boundaries (spec.md S4).
func TestMPEGPS_StartCodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 4*1024*1024)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}

	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Type = codectags.CodecTypeVideo
	st.Codec.ID = codectags.IDMPEG1Video
	st.Codec.BitRate = 500000
	st.Codec.FrameRateNum = 25 * avformat.FrameRateBase

	mux := Muxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	const frameCount = 100
	frame := bytes.Repeat([]byte{0xAB}, 400)
	for i := 0; i < frameCount; i++ {
		pkt := avpacket.FromBytes(frame)
		pkt.StreamIndex = 0
		pkt.PTS = int64(i) * 3600
		if err := mux.WritePacket(ctx, fc, pkt); err != nil {
			t.Fatalf("WritePacket %d: %v", i, err)
		}
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	out := fc.IOCtx.Bytes()

	dfc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(out, false)}
	dmx := Demuxer{}
	if err := dmx.ReadHeader(ctx, dfc); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if len(dfc.Streams()) != 1 {
		t.Fatalf("expected 1 declared stream, got %d", len(dfc.Streams()))
	}
	if dfc.Streams()[0].Codec.Type != codectags.CodecTypeVideo {
		t.Fatalf("expected video stream, got %v", dfc.Streams()[0].Codec.Type)
	}

	total := 0
	for {
		pkt, err := dmx.ReadPacket(ctx, dfc)
		if err != nil {
			break
		}
		total += len(pkt.Data)
	}
	if total != frameCount*len(frame) {
		t.Fatalf("reassembled payload size = %d, want %d", total, frameCount*len(frame))
	}
}

// TestMPEGPS_MuxRateInvariant checks spec.md testable property 7: total
// bytes emitted by a mux run must not exceed mux_rate*50 bytes per second
// of declared wall-clock duration, within tolerance. Since the muxer's
// limiter only throttles real-time flow, this instead verifies the
// invariant's static form directly on the declared mux_rate: byte output
// is governed by fixed-size packets, so total bytes == packetSize *
// packetCount must stay within the bitrate-derived budget for the
// stream's declared duration.
func TestMPEGPS_MuxRateInvariant(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 4*1024*1024)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}

	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Type = codectags.CodecTypeAudio
	st.Codec.ID = codectags.IDMP2
	st.Codec.BitRate = 128000
	st.Codec.SampleRate = 44100
	st.Codec.FrameSize = 1152

	mux := Muxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	ms := fc.Priv.(*muxState)

	const frameCount = 200
	frame := bytes.Repeat([]byte{0x11}, 200)
	for i := 0; i < frameCount; i++ {
		pkt := avpacket.FromBytes(frame)
		pkt.StreamIndex = 0
		pkt.PTS = int64(i) * 1152
		if err := mux.WritePacket(ctx, fc, pkt); err != nil {
			t.Fatalf("WritePacket %d: %v", i, err)
		}
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	out := fc.IOCtx.Bytes()
	wallClockSeconds := float64(frameCount*1152) / float64(st.Codec.SampleRate)
	budget := float64(ms.muxRate*50) * wallClockSeconds * 1.01 // +1% tolerance

	if float64(len(out)) > budget {
		t.Fatalf("emitted %d bytes over %.3fs, exceeds mux_rate budget %.1f (mux_rate=%d)",
			len(out), wallClockSeconds, budget, ms.muxRate)
	}
}
