package urlproto

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestScheme_DefaultsToFile(t *testing.T) {
	cases := []struct {
		uri        string
		wantScheme string
	}{
		{"/tmp/foo.wav", "file"},
		{"C:/tmp/foo.wav", "file"}, // single-char "scheme" before ':' -> drive letter
		{"file:/tmp/foo.wav", "file"},
		{"udp:127.0.0.1:1234", "udp"},
		{"http://example.com/x", "http"},
	}
	for _, tc := range cases {
		got, _ := scheme(tc.uri)
		if got != tc.wantScheme {
			t.Errorf("scheme(%q) = %q, want %q", tc.uri, got, tc.wantScheme)
		}
	}
}

func TestRegistry_OpenUnknownScheme(t *testing.T) {
	r := NewRegistry()
	_, err := r.Open(context.Background(), "bogus:foo", RDONLY)
	if err == nil {
		t.Fatalf("expected error for unregistered scheme")
	}
}

func TestRegistry_RegisterAppendsAndReplaces(t *testing.T) {
	r := NewRegistry()
	RegisterAll(r)
	if len(r.order) != 5 {
		t.Fatalf("expected 5 registered protocols, got %d", len(r.order))
	}
	if r.order[0].Name() != "file" {
		t.Fatalf("expected registration order to start with file, got %s", r.order[0].Name())
	}
	// Re-registering preserves position.
	r.Register(FileProtocol{})
	if r.order[0].Name() != "file" || len(r.order) != 5 {
		t.Fatalf("expected re-registration to preserve position and count")
	}
}

func TestFileProtocol_WriteReadSeekRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roundtrip.bin")

	r := NewRegistry()
	RegisterAll(r)
	ctx := context.Background()

	wctx, err := r.Open(ctx, "file:"+path, WRONLY)
	if err != nil {
		t.Fatalf("open for write: %v", err)
	}
	if _, err := wctx.Write(ctx, []byte("hello world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wctx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rctx, err := r.Open(ctx, "file:"+path, RDONLY)
	if err != nil {
		t.Fatalf("open for read: %v", err)
	}
	defer rctx.Close()

	buf := make([]byte, 5)
	n, err := rctx.Read(ctx, buf)
	if err != nil || n != 5 {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q want %q", string(buf), "hello")
	}

	pos, err := rctx.Seek(6, 0)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if pos != 6 {
		t.Fatalf("seek pos = %d, want 6", pos)
	}
	rest := make([]byte, 5)
	n, err = rctx.Read(ctx, rest)
	if err != nil || n != 5 || string(rest) != "world" {
		t.Fatalf("post-seek read = %q n=%d err=%v", string(rest), n, err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() != int64(len("hello world")) {
		t.Fatalf("unexpected file size")
	}
}
