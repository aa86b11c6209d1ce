package avformat

import (
	"context"
	"testing"

	"github.com/alxayo/go-container/internal/avpacket"
)

type stubMuxer struct {
	name, exts, mime string
	needsNumber      bool
}

func (s stubMuxer) ShortName() string  { return s.name }
func (s stubMuxer) Extensions() string { return s.exts }
func (s stubMuxer) MimeType() string   { return s.mime }
func (s stubMuxer) NeedsNumber() bool  { return s.needsNumber }
func (s stubMuxer) WriteHeader(context.Context, *FormatContext) error                 { return nil }
func (s stubMuxer) WritePacket(context.Context, *FormatContext, *avpacket.Packet) error { return nil }
func (s stubMuxer) WriteTrailer(context.Context, *FormatContext) error                { return nil }

type stubDemuxer struct {
	name, exts, mime string
	probeScore       int
}

func (s stubDemuxer) ShortName() string  { return s.name }
func (s stubDemuxer) Extensions() string { return s.exts }
func (s stubDemuxer) MimeType() string   { return s.mime }
func (s stubDemuxer) ReadHeader(context.Context, *FormatContext) error { return nil }
func (s stubDemuxer) ReadPacket(context.Context, *FormatContext) (*avpacket.Packet, error) {
	return nil, nil
}
func (s stubDemuxer) ReadClose(*FormatContext) error { return nil }
func (s stubDemuxer) Probe(buf []byte) int           { return s.probeScore }

func TestRegistry_GuessOutputFormat_ShortNameWins(t *testing.T) {
	r := NewRegistry()
	wav := stubMuxer{name: "wav", exts: "wav", mime: "audio/wav"}
	avi := stubMuxer{name: "avi", exts: "avi", mime: "video/avi"}
	r.RegisterOutput(wav)
	r.RegisterOutput(avi)

	got := r.GuessOutputFormat("avi", "out.wav", "")
	if got == nil || got.ShortName() != "avi" {
		t.Fatalf("expected explicit short-name match to win, got %v", got)
	}
}

func TestRegistry_GuessOutputFormat_ExtensionFallback(t *testing.T) {
	r := NewRegistry()
	r.RegisterOutput(stubMuxer{name: "wav", exts: "wav", mime: "audio/wav"})
	r.RegisterOutput(stubMuxer{name: "avi", exts: "avi,avi2", mime: "video/avi"})

	got := r.GuessOutputFormat("", "clip.AVI", "")
	if got == nil || got.ShortName() != "avi" {
		t.Fatalf("expected case-insensitive extension match to avi, got %v", got)
	}
}

func TestRegistry_GuessOutputFormat_NoMatch(t *testing.T) {
	r := NewRegistry()
	r.RegisterOutput(stubMuxer{name: "wav", exts: "wav", mime: "audio/wav"})
	if got := r.GuessOutputFormat("", "clip.mov", ""); got != nil {
		t.Fatalf("expected nil for no match, got %v", got)
	}
}

func TestRegistry_ProbeInputFormat_PrefersHigherScore(t *testing.T) {
	r := NewRegistry()
	r.RegisterInput(stubDemuxer{name: "wav", exts: "wav", probeScore: 50})
	r.RegisterInput(stubDemuxer{name: "avi", exts: "avi", probeScore: 90})

	got := r.ProbeInputFormat("unknown.bin", []byte("RIFF"))
	if got == nil || got.ShortName() != "avi" {
		t.Fatalf("expected avi to win on probe score, got %v", got)
	}
}

func TestRegistry_RegistrationOrderTieBreak(t *testing.T) {
	r := NewRegistry()
	r.RegisterOutput(stubMuxer{name: "a", exts: "x", mime: ""})
	r.RegisterOutput(stubMuxer{name: "b", exts: "x", mime: ""})

	got := r.GuessOutputFormat("", "file.x", "")
	if got == nil || got.ShortName() != "a" {
		t.Fatalf("expected first-registered format a to win tie, got %v", got)
	}
}
