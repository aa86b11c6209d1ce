package mjpeg

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
)

func TestFrameFilename(t *testing.T) {
	cases := []struct {
		template string
		number   int
		want     string
	}{
		{"img%03d.jpg", 4, "img004.jpg"},
		{"img%d.jpg", 12, "img12.jpg"},
		{"still.jpg", 1, "still.jpg"},
	}
	for _, c := range cases {
		if got := frameFilename(c.template, c.number); got != c.want {
			t.Errorf("frameFilename(%q, %d) = %q, want %q", c.template, c.number, got, c.want)
		}
	}
}

func TestSingleJPEGMuxer_RejectsSecondFrame(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 4096)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}

	mux := SingleJPEGMuxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	pkt := avpacket.FromBytes([]byte("jpegbytes"))
	if err := mux.WritePacket(ctx, fc, pkt); err != nil {
		t.Fatalf("first WritePacket: %v", err)
	}
	if !bytes.Equal(fc.IOCtx.Bytes(), []byte("jpegbytes")) {
		t.Fatalf("output = %q, want %q", fc.IOCtx.Bytes(), "jpegbytes")
	}
	if err := mux.WritePacket(ctx, fc, pkt); err == nil {
		t.Fatalf("expected second WritePacket to fail")
	}
}

func TestMPJPEGMuxer_FramesEachPart(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 4096)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}

	mux := MPJPEGMuxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	pkt := avpacket.FromBytes([]byte("frame-one"))
	if err := mux.WritePacket(ctx, fc, pkt); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	pkt2 := avpacket.FromBytes([]byte("frame-two"))
	if err := mux.WritePacket(ctx, fc, pkt2); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	out := string(fc.IOCtx.Bytes())
	if !strings.HasPrefix(out, "--"+boundaryTag+"\n") {
		t.Fatalf("missing initial boundary: %q", out[:40])
	}
	if strings.Count(out, "Content-type: image/jpeg\n\n") != 2 {
		t.Fatalf("expected 2 content-type headers, got: %q", out)
	}
	if !strings.Contains(out, "frame-one") || !strings.Contains(out, "frame-two") {
		t.Fatalf("missing frame payloads: %q", out)
	}
}

func TestJPEGMuxerDemuxer_NumberedRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	template := filepath.Join(dir, "pic%d.jpg")

	fc := &avformat.FormatContext{Filename: template}
	mux := JPEGMuxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	frames := [][]byte{[]byte("jpeg-frame-1-data"), []byte("jpeg-frame-2-data")}
	for _, f := range frames {
		pkt := avpacket.FromBytes(f)
		if err := mux.WritePacket(ctx, fc, pkt); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "pic1.jpg")); err != nil {
		t.Fatalf("expected pic1.jpg: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pic2.jpg")); err != nil {
		t.Fatalf("expected pic2.jpg: %v", err)
	}

	dfc := &avformat.FormatContext{Filename: template}
	dmx := JPEGDemuxer{}
	if err := dmx.ReadHeader(ctx, dfc); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	s := dfc.Priv.(*jpegState)
	s.imgNumber = 1

	for _, want := range frames {
		pkt, err := dmx.ReadPacket(ctx, dfc)
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if !bytes.Equal(pkt.Data, want) {
			t.Fatalf("ReadPacket data = %q, want %q", pkt.Data, want)
		}
	}
}
