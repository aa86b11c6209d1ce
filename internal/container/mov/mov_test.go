package mov

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
)

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func atom(fourcc string, body []byte) []byte {
	out := be32(uint32(len(body) + 8))
	out = append(out, fourcc...)
	out = append(out, body...)
	return out
}

// trakBody builds a minimal trak with a single stco table and a hdlr
// declaring a video track, so the packet-order test can exercise
// globally-smallest-offset selection without a full stsd.
func trakBody(trackID uint32, offsets []uint32) []byte {
	tkhd := make([]byte, 0, 84)
	tkhd = append(tkhd, 0, 0, 0, 0) // version+flags
	tkhd = append(tkhd, make([]byte, 8)...)
	tkhd = append(tkhd, be32(trackID)...)
	tkhd = append(tkhd, make([]byte, 4+4+4+4)...)
	tkhd = append(tkhd, make([]byte, 2+2+2+2)...)
	tkhd = append(tkhd, make([]byte, 36)...)
	tkhd = append(tkhd, be32(0)...)
	tkhd = append(tkhd, be32(0)...)

	hdlr := make([]byte, 0, 24)
	hdlr = append(hdlr, 0, 0, 0, 0)
	hdlr = append(hdlr, []byte("mhlr")...)
	hdlr = append(hdlr, []byte("vide")...)
	hdlr = append(hdlr, make([]byte, 12)...)

	stco := make([]byte, 0)
	stco = append(stco, 0, 0, 0, 0)
	stco = append(stco, be32(uint32(len(offsets)))...)
	for _, o := range offsets {
		stco = append(stco, be32(o)...)
	}

	mdia := atom("hdlr", hdlr)
	stbl := atom("stco", stco)
	minf := atom("stbl", stbl)
	mdia = append(mdia, atom("minf", minf)...)

	body := atom("tkhd", tkhd)
	body = append(body, atom("mdia", mdia)...)
	return body
}

func TestMOV_Probe(t *testing.T) {
	buf := append(be32(16), []byte("ftyp")...)
	buf = append(buf, make([]byte, 8)...)
	if score := (Demuxer{}).Probe(buf); score != 100 {
		t.Fatalf("expected probe score 100 for ftyp, got %d", score)
	}
	if score := (Demuxer{}).Probe([]byte{0, 0, 0, 0}); score != 0 {
		t.Fatalf("expected probe score 0 for too-short buffer, got %d", score)
	}
}

// TestMOV_InterleavedChunkOrder builds two tracks whose stco offsets
// interleave ([100,300] and [200,400]) and asserts packets are delivered in
// globally-increasing file-offset order: 100, 200, 300, 400.
func TestMOV_InterleavedChunkOrder(t *testing.T) {
	ctx := context.Background()

	// Build with placeholder offsets first to learn the real mdat start,
	// then rebuild with the spec's interleaved pattern (100,300 / 200,400)
	// shifted so they land inside the actual mdat body.
	probeMoov := atom("trak", trakBody(1, []uint32{0, 0}))
	probeMoov = append(probeMoov, atom("trak", trakBody(2, []uint32{0, 0}))...)
	mdatStart := len(atom("moov", probeMoov)) + 8

	rel := []uint32{100, 200, 300, 400}
	abs := make([]uint32, len(rel))
	for i, r := range rel {
		abs[i] = uint32(mdatStart) + r
	}

	moov := atom("trak", trakBody(1, []uint32{abs[0], abs[2]}))
	moov = append(moov, atom("trak", trakBody(2, []uint32{abs[1], abs[3]}))...)
	moovAtom := atom("moov", moov)
	if len(moovAtom)+8 != mdatStart {
		t.Fatalf("mdat start drifted: got %d want %d", len(moovAtom)+8, mdatStart)
	}

	mdatBodyLen := int(rel[3]) + 16
	mdatBody := make([]byte, mdatBodyLen)
	marks := map[uint32]byte{rel[0]: 1, rel[1]: 2, rel[2]: 3, rel[3]: 4}
	for off, b := range marks {
		mdatBody[int(off)] = b
	}
	mdatAtom := atom("mdat", mdatBody)

	buf := append(append([]byte{}, moovAtom...), mdatAtom...)

	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, false)}
	dm := Demuxer{}
	if err := dm.ReadHeader(ctx, fc); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	wantOrder := []byte{1, 2, 3, 4}
	for i, want := range wantOrder {
		pkt, err := dm.ReadPacket(ctx, fc)
		if err != nil {
			t.Fatalf("ReadPacket %d: %v", i, err)
		}
		if len(pkt.Data) == 0 || pkt.Data[0] != want {
			t.Fatalf("packet %d: first byte = %d, want %d", i, pkt.Data[0], want)
		}
	}
}

func TestMOV_HdlrClassifiesVideoTrack(t *testing.T) {
	ctx := context.Background()

	moov := atom("trak", trakBody(1, []uint32{100}))
	moovAtom := atom("moov", moov)
	mdatAtom := atom("mdat", make([]byte, 50))
	buf := append(append([]byte{}, moovAtom...), mdatAtom...)

	fc := &avformat.FormatContext{IOCtx: bytestream.OpenBuf(buf, false)}
	dm := Demuxer{}
	if err := dm.ReadHeader(ctx, fc); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	st := fc.Stream(0)
	if st == nil {
		t.Fatal("expected one visible stream for the video track")
	}
	if st.Codec.Type != codectags.CodecTypeVideo {
		t.Fatalf("expected video type, got %v", st.Codec.Type)
	}
}
