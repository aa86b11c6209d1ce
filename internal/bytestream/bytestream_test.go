package bytestream

import (
	"bytes"
	"context"
	"io"
	"testing"
)

// fakeBacking is an in-memory callbacks implementation used to exercise
// Context without a real urlproto transport.
type fakeBacking struct {
	written    bytes.Buffer
	readSource []byte
	readPos    int
	streamed   bool
}

func (f *fakeBacking) readPacket(_ context.Context, p []byte) (int, error) {
	if f.readPos >= len(f.readSource) {
		return 0, io.EOF
	}
	n := copy(p, f.readSource[f.readPos:])
	f.readPos += n
	return n, nil
}
func (f *fakeBacking) writePacket(_ context.Context, p []byte) (int, error) {
	return f.written.Write(p)
}
func (f *fakeBacking) seek(offset int64, whence int) (int64, error) {
	if whence == SeekSet {
		f.readPos = int(offset)
		return offset, nil
	}
	return 0, nil
}
func (f *fakeBacking) isStreamed() bool { return f.streamed }

func newWriteCtx(buf []byte) (*Context, *fakeBacking) {
	fb := &fakeBacking{}
	bc := &Context{back: fb, buffer: buf, writeMode: true, bufEnd: len(buf)}
	return bc, fb
}

func newReadCtx(buf []byte, source []byte) (*Context, *fakeBacking) {
	fb := &fakeBacking{readSource: source}
	bc := &Context{back: fb, buffer: buf}
	return bc, fb
}

func TestByteStream_RoundTrip(t *testing.T) {
	ctx := context.Background()
	wc, fb := newWriteCtx(make([]byte, 64))
	if err := wc.PutByte(ctx, 0x42); err != nil {
		t.Fatal(err)
	}
	if err := wc.PutLE16(ctx, 0x1234); err != nil {
		t.Fatal(err)
	}
	if err := wc.PutBE16(ctx, 0x1234); err != nil {
		t.Fatal(err)
	}
	if err := wc.PutLE32(ctx, 0x11223344); err != nil {
		t.Fatal(err)
	}
	if err := wc.PutBE32(ctx, 0x11223344); err != nil {
		t.Fatal(err)
	}
	if err := wc.PutLE64(ctx, 0x1122334455667788); err != nil {
		t.Fatal(err)
	}
	if err := wc.PutBE64(ctx, 0x1122334455667788); err != nil {
		t.Fatal(err)
	}
	if err := wc.FlushPacket(ctx); err != nil {
		t.Fatal(err)
	}

	raw := fb.written.Bytes()
	rc, _ := newReadCtx(make([]byte, 64), raw)
	if b, err := rc.GetByte(ctx); err != nil || b != 0x42 {
		t.Fatalf("GetByte = %x, %v", b, err)
	}
	if v, err := rc.GetLE16(ctx); err != nil || v != 0x1234 {
		t.Fatalf("GetLE16 = %x, %v", v, err)
	}
	if v, err := rc.GetBE16(ctx); err != nil || v != 0x1234 {
		t.Fatalf("GetBE16 = %x, %v", v, err)
	}
	if v, err := rc.GetLE32(ctx); err != nil || v != 0x11223344 {
		t.Fatalf("GetLE32 = %x, %v", v, err)
	}
	if v, err := rc.GetBE32(ctx); err != nil || v != 0x11223344 {
		t.Fatalf("GetBE32 = %x, %v", v, err)
	}
	if v, err := rc.GetLE64(ctx); err != nil || v != 0x1122334455667788 {
		t.Fatalf("GetLE64 = %x, %v", v, err)
	}
	if v, err := rc.GetBE64(ctx); err != nil || v != 0x1122334455667788 {
		t.Fatalf("GetBE64 = %x, %v", v, err)
	}
}

func TestByteStream_SeekInBufferIdentity(t *testing.T) {
	ctx := context.Background()
	source := []byte("0123456789")
	rc, fb := newReadCtx(make([]byte, 64), source)
	// Prime the buffer.
	if _, err := rc.GetByte(ctx); err != nil {
		t.Fatal(err)
	}
	readsBefore := fb.readPos
	pos, err := rc.Seek(ctx, 5, SeekSet)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 5 {
		t.Fatalf("expected pos 5, got %d", pos)
	}
	if fb.readPos != readsBefore {
		t.Fatalf("expected no additional read_packet call, readPos moved from %d to %d", readsBefore, fb.readPos)
	}
	tell, err := rc.Tell(ctx)
	if err != nil || tell != 5 {
		t.Fatalf("Tell = %d, %v, want 5", tell, err)
	}
	b, err := rc.GetByte(ctx)
	if err != nil || b != '5' {
		t.Fatalf("GetByte after seek = %q, %v", b, err)
	}
}

func TestByteStream_WriteFlushMonotonicity(t *testing.T) {
	ctx := context.Background()
	wc, fb := newWriteCtx(make([]byte, 8))
	total := 0
	for i := 0; i < 5; i++ {
		p := []byte{byte(i), byte(i), byte(i)}
		if err := wc.PutBuffer(ctx, p); err != nil {
			t.Fatal(err)
		}
		total += len(p)
		if err := wc.FlushPacket(ctx); err != nil {
			t.Fatal(err)
		}
		if fb.written.Len() != total {
			t.Fatalf("after flush %d: delivered=%d want=%d", i, fb.written.Len(), total)
		}
	}
}

func TestByteStream_ShortReadAtEOF(t *testing.T) {
	ctx := context.Background()
	rc, _ := newReadCtx(make([]byte, 64), []byte("ab"))
	buf := make([]byte, 10)
	n, err := rc.GetBuffer(ctx, buf)
	if err != nil {
		t.Fatalf("expected no error on short read, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected short count 2, got %d", n)
	}
	if !rc.Eof() {
		t.Fatalf("expected EOF latch set")
	}
}

func TestByteStream_SeekRejectsBadWhence(t *testing.T) {
	ctx := context.Background()
	rc, _ := newReadCtx(make([]byte, 64), []byte("abc"))
	if _, err := rc.Seek(ctx, 0, 2); err == nil {
		t.Fatalf("expected error for unsupported whence")
	}
}

func TestOpenBuf_WriteCapacityCeiling(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 4)
	bc := OpenBuf(buf, true)
	if err := bc.PutBuffer(ctx, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected error filling to capacity: %v", err)
	}
	if err := bc.PutByte(ctx, 5); err == nil {
		t.Fatalf("expected error writing past fixed capacity")
	}
}
