package urlproto

import (
	"context"
	"os"
)

// PipeProtocol implements the "pipe" scheme: stdout on write, stdin on
// read, no seek support (spec.md §4.1).
type PipeProtocol struct{}

func (PipeProtocol) Name() string { return "pipe" }

type pipePriv struct {
	f *os.File
}

func (PipeProtocol) Open(_ context.Context, u *Context, _ string, flags int) error {
	var f *os.File
	if flags == WRONLY {
		f = os.Stdout
	} else {
		f = os.Stdin
	}
	u.Priv = &pipePriv{f: f}
	u.IsStreamed = true
	u.PacketSize = 4096
	return nil
}

func (PipeProtocol) Read(_ context.Context, u *Context, p []byte) (int, error) {
	return u.Priv.(*pipePriv).f.Read(p)
}

func (PipeProtocol) Write(_ context.Context, u *Context, p []byte) (int, error) {
	return u.Priv.(*pipePriv).f.Write(p)
}

func (PipeProtocol) Close(u *Context) error {
	// stdin/stdout are process-owned; nothing to release.
	return nil
}
