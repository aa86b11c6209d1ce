package urlproto

import (
	"context"
	"net"
)

// TCPProtocol implements the connect-only "tcp:host:port" client scheme
// with simple blocking I/O (spec.md §4.1).
type TCPProtocol struct{}

func (TCPProtocol) Name() string { return "tcp" }

type tcpPriv struct {
	conn net.Conn
}

func (TCPProtocol) Open(ctx context.Context, u *Context, uri string, flags int) error {
	_, rest := scheme(uri)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", rest)
	if err != nil {
		return err
	}
	u.Priv = &tcpPriv{conn: conn}
	u.IsStreamed = true
	u.PacketSize = 4096
	return nil
}

func (TCPProtocol) Read(_ context.Context, u *Context, p []byte) (int, error) {
	return u.Priv.(*tcpPriv).conn.Read(p)
}

func (TCPProtocol) Write(_ context.Context, u *Context, p []byte) (int, error) {
	return u.Priv.(*tcpPriv).conn.Write(p)
}

func (TCPProtocol) Close(u *Context) error {
	return u.Priv.(*tcpPriv).conn.Close()
}
