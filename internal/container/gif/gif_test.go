package gif

import (
	"context"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
)

func TestCLUT_FirstAndLastEntries(t *testing.T) {
	if clut[0] != 0x00 || clut[1] != 0x00 || clut[2] != 0x00 {
		t.Fatalf("entry 0 = %x %x %x, want black", clut[0], clut[1], clut[2])
	}
	last := 215 * 3
	if clut[last] != 0xff || clut[last+1] != 0xff || clut[last+2] != 0xff {
		t.Fatalf("entry 215 = %x %x %x, want white", clut[last], clut[last+1], clut[last+2])
	}
}

func TestClutIndex(t *testing.T) {
	if got := clutIndex(0, 0, 0); got != 0 {
		t.Fatalf("clutIndex(0,0,0) = %d, want 0", got)
	}
	if got := clutIndex(0xff, 0xff, 0xff); got != 215 {
		t.Fatalf("clutIndex(ff,ff,ff) = %d, want 215", got)
	}
}

func TestGIF_WriteHeaderLayout(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 64*1024)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}

	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Type = codectags.CodecTypeVideo
	st.Codec.Width = 16
	st.Codec.Height = 8
	st.Codec.FrameRateNum = 25 * avformat.FrameRateBase

	mux := Muxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	out := fc.IOCtx.Bytes()

	if string(out[:6]) != "GIF89a" {
		t.Fatalf("signature = %q, want GIF89a", out[:6])
	}
	width := int(out[6]) | int(out[7])<<8
	height := int(out[8]) | int(out[9])<<8
	if width != 16 || height != 8 {
		t.Fatalf("dimensions = %dx%d, want 16x8", width, height)
	}
	if out[10] != 0xf7 {
		t.Fatalf("flags = %#x, want 0xf7", out[10])
	}
	if out[11] != 0x1f {
		t.Fatalf("bg index = %#x, want 0x1f", out[11])
	}
	if out[12] != 0x00 {
		t.Fatalf("aspect = %#x, want 0x00", out[12])
	}
	palette := out[13 : 13+256*3]
	for i := 0; i < 216*3; i++ {
		if palette[i] != clut[i] {
			t.Fatalf("palette byte %d = %#x, want %#x", i, palette[i], clut[i])
		}
	}
	for i := 216 * 3; i < 256*3; i++ {
		if palette[i] != 0 {
			t.Fatalf("palette padding byte %d = %#x, want 0", i, palette[i])
		}
	}
}

// TestGIF_WritePacketFramesOneImageBlock checks that a single small frame
// produces a Graphic Control Extension, an Image Descriptor, exactly one
// length-prefixed LZW sub-block (since the frame is well under
// chunkPixels), and a zero-length block terminator.
func TestGIF_WritePacketFramesOneImageBlock(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 64*1024)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}

	const width, height = 4, 2
	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Type = codectags.CodecTypeVideo
	st.Codec.Width = width
	st.Codec.Height = height
	st.Codec.FrameRateNum = 10 * avformat.FrameRateBase

	mux := Muxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	headerLen := len(fc.IOCtx.Bytes())

	frame := make([]byte, width*height*3)
	for i := range frame {
		frame[i] = byte(i * 17)
	}
	pkt := avpacket.FromBytes(frame)
	pkt.StreamIndex = 0
	if err := mux.WritePacket(ctx, fc, pkt); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	out := fc.IOCtx.Bytes()
	body := out[headerLen:]

	if body[0] != 0x21 || body[1] != 0xf9 || body[2] != 0x04 {
		t.Fatalf("graphic control extension header = % x", body[:3])
	}
	imgDescOff := 3 + 1 + 2 + 1 + 1 // flags,jiffies(2),transparent idx,terminator
	if body[imgDescOff] != 0x2c {
		t.Fatalf("image separator = %#x, want 0x2c at offset %d", body[imgDescOff], imgDescOff)
	}
	wOff := imgDescOff + 1 + 2 + 2
	w := int(body[wOff]) | int(body[wOff+1])<<8
	h := int(body[wOff+2]) | int(body[wOff+3])<<8
	if w != width || h != height {
		t.Fatalf("image descriptor dims = %dx%d, want %dx%d", w, h, width, height)
	}

	// Pixel count (8) fits in a single chunk, so exactly one sub-block
	// followed by the trailer byte (0x3b) should remain.
	subBlockLenOff := wOff + 4 + 1 + 1 // w,h(4),local flags,min code size
	subLen := int(body[subBlockLenOff])
	if subLen == 0 || subLen > 255 {
		t.Fatalf("sub-block length = %d, want 1..255", subLen)
	}
	terminatorOff := subBlockLenOff + 1 + subLen
	if body[terminatorOff] != 0x00 {
		t.Fatalf("block terminator = %#x, want 0x00", body[terminatorOff])
	}
	if out[len(out)-1] != 0x3b {
		t.Fatalf("trailer byte = %#x, want 0x3b", out[len(out)-1])
	}
}
