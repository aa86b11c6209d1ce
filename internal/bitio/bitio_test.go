package bitio

import (
	"bytes"
	"testing"
)

func TestWriter_FlushPad(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.PutBits(11, 0x7FF)
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want := []byte{0xFF, 0xE0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got %x want %x", buf.Bytes(), want)
	}
}

func TestWriter_MultipleCallsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	// Emit byte 0xAB as two 4-bit nibbles, then 0xCD as two more.
	w.PutBits(4, 0xA)
	w.PutBits(4, 0xB)
	w.PutBits(4, 0xC)
	w.PutBits(4, 0xD)
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want := []byte{0xAB, 0xCD}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got %x want %x", buf.Bytes(), want)
	}
}

func TestWriter_BitCount(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.PutBits(5, 0x1F)
	w.PutBits(3, 0x5)
	if w.BitCount() != 8 {
		t.Fatalf("expected BitCount 8, got %d", w.BitCount())
	}
	w.PutBits(10, 0x3FF)
	if w.BitCount() != 18 {
		t.Fatalf("expected BitCount 18, got %d", w.BitCount())
	}
}

func TestJPEGWriter_EscapesFF(t *testing.T) {
	var buf bytes.Buffer
	w := NewJPEGWriter(&buf)
	w.PutBits(8, 0xFF)
	w.PutBits(8, 0x00)
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want := []byte{0xFF, 0x00, 0x00}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got %x want %x", buf.Bytes(), want)
	}
}

func TestReverseWriter_LittleEndianAppend(t *testing.T) {
	var buf bytes.Buffer
	rw := NewReverseWriter(&buf)
	// Each pixel code is 9 bits; write two codes and check the byte packing
	// matches append-at-top semantics (first code occupies the low bits).
	rw.PutBits(9, 0x1FF) // clear code, all ones for this width
	rw.PutBits(9, 0x000)
	if err := rw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// 18 bits total -> 3 bytes. First 9 bits (0x1FF) occupy bits [0..8] of the
	// little-endian bit stream; next 9 bits (0) occupy bits [9..17].
	if buf.Len() != 3 {
		t.Fatalf("expected 3 bytes, got %d", buf.Len())
	}
	if buf.Bytes()[0] != 0xFF {
		t.Fatalf("expected first byte 0xFF, got %x", buf.Bytes()[0])
	}
}
