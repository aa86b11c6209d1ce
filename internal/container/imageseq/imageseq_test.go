package imageseq

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
)

// TestFrameFilename checks spec.md testable property 10: a printf-style
// width-qualified "%d" token is substituted with the zero-padded frame
// number.
func TestFrameFilename(t *testing.T) {
	cases := []struct {
		template string
		number   int
		want     string
	}{
		{"out%03d.pgm", 7, "out007.pgm"},
		{"out%03d.pgm", 123, "out123.pgm"},
		{"frame%d.ppm", 5, "frame5.ppm"},
		{"noToken.pgm", 9, "noToken.pgm"},
	}
	for _, c := range cases {
		got := frameFilename(c.template, c.number)
		if got != c.want {
			t.Errorf("frameFilename(%q, %d) = %q, want %q", c.template, c.number, got, c.want)
		}
	}
}

func makeFrame(pix pixFmt, width, height int, fill byte) []byte {
	buf := make([]byte, frameSize(pix, width, height))
	for i := range buf {
		buf[i] = fill + byte(i%7)
	}
	return buf
}

func muxOneFrame(ctx context.Context, t *testing.T, fc *avformat.FormatContext, d Descriptor, width, height int, frame []byte) {
	t.Helper()
	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Width = width
	st.Codec.Height = height

	mux := Muxer{D: d}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	pkt := avpacket.FromBytes(frame)
	pkt.StreamIndex = 0
	if err := mux.WritePacket(ctx, fc, pkt); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}
}

// TestImageseq_PipeRoundTrip exercises the PGM/PGMYUV/PPM pipe variants
// entirely in memory: the muxer and demuxer share one byte-stream, as the
// original's AVFMT_NOFILE pipe formats do.
func TestImageseq_PipeRoundTrip(t *testing.T) {
	ctx := context.Background()
	const width, height = 4, 2

	variants := []Descriptor{PGMPipe, PGMYUVPipe, PPMPipe}
	for _, d := range variants {
		d := d
		t.Run(d.Name, func(t *testing.T) {
			buf := make([]byte, 1<<16)
			fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}
			frame := makeFrame(d.Pix, width, height, 10)
			muxOneFrame(ctx, t, fc, d, width, height, frame)

			// Plain PGM carries luma only; its demuxer fills chroma with 128.
			want := append([]byte{}, frame...)
			if d.Kind == kindPGM {
				for i := width * height; i < len(want); i++ {
					want[i] = 128
				}
			}

			out := fc.IOCtx.Bytes()
			dfc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(out, false)}
			dmx := Demuxer{D: d}
			if err := dmx.ReadHeader(ctx, dfc); err != nil {
				t.Fatalf("ReadHeader: %v", err)
			}
			st := dfc.Streams()[0]
			if st.Codec.Width != width || st.Codec.Height != height {
				t.Fatalf("dimensions = %dx%d, want %dx%d", st.Codec.Width, st.Codec.Height, width, height)
			}

			pkt, err := dmx.ReadPacket(ctx, dfc)
			if err != nil {
				t.Fatalf("ReadPacket: %v", err)
			}
			if len(pkt.Data) != len(want) {
				t.Fatalf("payload size = %d, want %d", len(pkt.Data), len(want))
			}
			for i := range want {
				if pkt.Data[i] != want[i] {
					t.Fatalf("byte %d = %#x, want %#x", i, pkt.Data[i], want[i])
				}
			}
		})
	}
}

// TestImageseq_NumberedFileRoundTrip exercises the non-pipe PGM variant's
// numbered-file discovery (img_read_header's "try the first 5 numbered
// files" loop) against a real temp directory.
func TestImageseq_NumberedFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	const width, height = 4, 2

	dir := t.TempDir()
	template := filepath.Join(dir, "frame%d.pgm")

	fc := &avformat.FormatContext{Filename: template}
	frame := makeFrame(PGM.Pix, width, height, 20)
	muxOneFrame(ctx, t, fc, PGM, width, height, frame)

	if _, err := os.Stat(filepath.Join(dir, "frame1.pgm")); err != nil {
		t.Fatalf("expected frame1.pgm to exist: %v", err)
	}

	dfc := &avformat.FormatContext{Filename: template}
	dmx := Demuxer{D: PGM}
	if err := dmx.ReadHeader(ctx, dfc); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	st := dfc.Streams()[0]
	if st.Codec.Width != width || st.Codec.Height != height {
		t.Fatalf("dimensions = %dx%d, want %dx%d", st.Codec.Width, st.Codec.Height, width, height)
	}

	// Plain PGM carries luma only; its demuxer fills chroma with 128.
	want := append([]byte{}, frame...)
	for i := width * height; i < len(want); i++ {
		want[i] = 128
	}

	s := dfc.Priv.(*state)
	s.imgNumber = 1
	pkt, err := dmx.ReadPacket(ctx, dfc)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(pkt.Data) != len(want) {
		t.Fatalf("payload size = %d, want %d", len(pkt.Data), len(want))
	}
	for i := range want {
		if pkt.Data[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, pkt.Data[i], want[i])
		}
	}
}

// TestImageseq_YUVTriplet exercises the three-file Y/U/V plane layout,
// including size inference from a known W×H byte-size table.
func TestImageseq_YUVTriplet(t *testing.T) {
	ctx := context.Background()
	const width, height = 160, 128 // present in knownSizes

	dir := t.TempDir()
	template := filepath.Join(dir, "frame%d.Y")

	fc := &avformat.FormatContext{Filename: template}
	frame := makeFrame(YUVTriplet.Pix, width, height, 30)
	muxOneFrame(ctx, t, fc, YUVTriplet, width, height, frame)

	for _, ext := range []string{"Y", "U", "V"} {
		path := filepath.Join(dir, "frame1."+ext)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
	}

	dfc := &avformat.FormatContext{Filename: template}
	dmx := Demuxer{D: YUVTriplet}
	if err := dmx.ReadHeader(ctx, dfc); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	st := dfc.Streams()[0]
	if st.Codec.Width != width || st.Codec.Height != height {
		t.Fatalf("inferred dimensions = %dx%d, want %dx%d", st.Codec.Width, st.Codec.Height, width, height)
	}

	s := dfc.Priv.(*state)
	s.imgNumber = 1
	pkt, err := dmx.ReadPacket(ctx, dfc)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(pkt.Data) != len(frame) {
		t.Fatalf("payload size = %d, want %d", len(pkt.Data), len(frame))
	}
	for i := range frame {
		if pkt.Data[i] != frame[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, pkt.Data[i], frame[i])
		}
	}
}
