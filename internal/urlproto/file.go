package urlproto

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// FileProtocol implements the "file" scheme directly against POSIX file
// descriptors (spec.md §4.1), using golang.org/x/sys/unix rather than
// wrapping os.File so Open/Read/Write/Seek/Close map one-to-one onto the
// syscalls the spec names.
type FileProtocol struct{}

func (FileProtocol) Name() string { return "file" }

type filePriv struct {
	fd int
}

func (FileProtocol) Open(_ context.Context, u *Context, uri string, flags int) error {
	_, path := scheme(uri)
	path = strings.TrimPrefix(path, "//")
	var oflags int
	switch flags {
	case WRONLY:
		oflags = unix.O_CREAT | unix.O_TRUNC | unix.O_WRONLY
	default:
		oflags = unix.O_RDONLY
	}
	fd, err := unix.Open(path, oflags, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	u.Priv = &filePriv{fd: fd}
	u.IsStreamed = false
	u.PacketSize = 32768
	return nil
}

func (FileProtocol) Read(_ context.Context, u *Context, p []byte) (int, error) {
	priv := u.Priv.(*filePriv)
	return unix.Read(priv.fd, p)
}

func (FileProtocol) Write(_ context.Context, u *Context, p []byte) (int, error) {
	priv := u.Priv.(*filePriv)
	return unix.Write(priv.fd, p)
}

func (FileProtocol) Seek(u *Context, offset int64, whence int) (int64, error) {
	priv := u.Priv.(*filePriv)
	return unix.Seek(priv.fd, offset, whence)
}

func (FileProtocol) Close(u *Context) error {
	priv := u.Priv.(*filePriv)
	return unix.Close(priv.fd)
}
