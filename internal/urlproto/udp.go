package urlproto

import (
	"context"
	"fmt"
	"net"
)

const (
	udpDefaultPacketSize = 1500
	udpTxBufferCap       = 32 * 1024
)

// UDPProtocol implements the write-only unicast "udp:host:port" scheme
// (spec.md §4.1). Writes are fragmented into packets of at most
// PacketSize; the transmit socket buffer is capped to limit latency.
type UDPProtocol struct{}

func (UDPProtocol) Name() string { return "udp" }

type udpPriv struct {
	conn *net.UDPConn
}

func (UDPProtocol) Open(_ context.Context, u *Context, uri string, flags int) error {
	if flags != WRONLY {
		return fmt.Errorf("udp: only write-only unicast is supported")
	}
	_, rest := scheme(uri)
	raddr, err := net.ResolveUDPAddr("udp", rest)
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", rest, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("udp: dial %s: %w", rest, err)
	}
	_ = conn.SetWriteBuffer(udpTxBufferCap)
	u.Priv = &udpPriv{conn: conn}
	u.IsStreamed = true
	u.PacketSize = udpDefaultPacketSize
	return nil
}

func (UDPProtocol) Read(_ context.Context, u *Context, p []byte) (int, error) {
	return 0, fmt.Errorf("udp: read not supported (write-only unicast)")
}

func (UDPProtocol) Write(_ context.Context, u *Context, p []byte) (int, error) {
	priv := u.Priv.(*udpPriv)
	size := u.PacketSize
	if size <= 0 {
		size = udpDefaultPacketSize
	}
	written := 0
	for written < len(p) {
		end := written + size
		if end > len(p) {
			end = len(p)
		}
		n, err := priv.conn.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (UDPProtocol) Close(u *Context) error {
	return u.Priv.(*udpPriv).conn.Close()
}
