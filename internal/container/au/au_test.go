package au

import (
	"bytes"
	"context"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
)

func TestAU_RoundTrip(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 256)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}
	st, err := fc.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	st.Codec.Type = codectags.CodecTypeAudio
	st.Codec.ID = codectags.IDPCMS16BE
	st.Codec.SampleRate = 44100
	st.Codec.Channels = 2

	mux := Muxer{}
	if err := mux.WriteHeader(ctx, fc); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	payload := []byte{0, 1, 0, 2, 0, 3, 0, 4}
	if err := mux.WritePacket(ctx, fc, avpacket.FromBytes(payload)); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := mux.WriteTrailer(ctx, fc); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	out := fc.IOCtx.Bytes()
	if len(out) != headerSize+len(payload) {
		t.Fatalf("unexpected length %d", len(out))
	}

	rfc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(out, false)}
	dm := Demuxer{}
	if err := dm.ReadHeader(ctx, rfc); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	got, err := dm.ReadPacket(ctx, rfc)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Fatalf("got %v want %v", got.Data, payload)
	}
	if rfc.Stream(0).Codec.ID != codectags.IDPCMS16BE {
		t.Fatalf("expected round-tripped codec id PCMS16BE, got %v", rfc.Stream(0).Codec.ID)
	}
}

func TestAU_Probe(t *testing.T) {
	buf := make([]byte, 256)
	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, true)}
	st, _ := fc.NewStream()
	st.Codec.ID = codectags.IDPCMMuLaw
	st.Codec.SampleRate = 8000
	st.Codec.Channels = 1
	if err := (Muxer{}).WriteHeader(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if Demuxer{}.Probe(fc.IOCtx.Bytes()) != 100 {
		t.Fatalf("expected probe to recognize own header")
	}
}
