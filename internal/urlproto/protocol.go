// Package urlproto implements the pluggable URL protocol layer of spec.md
// §4.1: a process-wide registry of named transports, each exposing
// open/read/write/seek/close over an opaque Context.
package urlproto

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alxayo/go-container/internal/ioerr"
)

// Open flags (spec.md §6).
const (
	RDONLY = 0
	WRONLY = 1
)

// Protocol is a named transport. Seeking is optional: a protocol that can
// seek also implements Seeker; one that cannot does not implement it and
// sets IsStreamed to true on the contexts it opens.
type Protocol interface {
	Name() string
	Open(ctx context.Context, u *Context, uri string, flags int) error
	Read(ctx context.Context, u *Context, p []byte) (int, error)
	Write(ctx context.Context, u *Context, p []byte) (int, error)
	Close(u *Context) error
}

// Seeker is implemented by protocols that support random access.
type Seeker interface {
	Seek(u *Context, offset int64, whence int) (int64, error)
}

// Context is the opaque per-open handle a protocol reads/writes/seeks
// through (spec.md §3 "URLContext").
type Context struct {
	Proto        Protocol
	Flags        int
	IsStreamed   bool
	PacketSize   int
	Priv         any
	URI          string
}

func (u *Context) Read(ctx context.Context, p []byte) (int, error) {
	return u.Proto.Read(ctx, u, p)
}

func (u *Context) Write(ctx context.Context, p []byte) (int, error) {
	return u.Proto.Write(ctx, u, p)
}

func (u *Context) Seek(offset int64, whence int) (int64, error) {
	s, ok := u.Proto.(Seeker)
	if !ok {
		return 0, ioerr.EPIPE
	}
	return s.Seek(u, offset, whence)
}

func (u *Context) CanSeek() bool {
	_, ok := u.Proto.(Seeker)
	return ok && !u.IsStreamed
}

func (u *Context) Close() error { return u.Proto.Close(u) }

// Registry holds protocol descriptors in registration order, in a slice
// plus a by-name index (spec.md §4.1: "Registration appends").
type Registry struct {
	mu    sync.RWMutex
	order []Protocol
	byName map[string]Protocol
}

// NewRegistry returns an empty protocol registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Protocol)}
}

// Register appends a protocol descriptor. Re-registering the same name
// replaces the earlier descriptor in place, preserving its original
// position so registration-order tie-breaks elsewhere stay stable.
func (r *Registry) Register(p Protocol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[p.Name()]; exists {
		for i, existing := range r.order {
			if existing.Name() == p.Name() {
				r.order[i] = p
				break
			}
		}
	} else {
		r.order = append(r.order, p)
	}
	r.byName[p.Name()] = p
}

// scheme splits "scheme:rest" into (scheme, rest). Per spec.md §4.1, if the
// prefix is empty, a single character (a Windows drive letter), or absent,
// the default scheme is "file".
func scheme(uri string) (string, string) {
	idx := strings.Index(uri, ":")
	if idx <= 1 {
		return "file", uri
	}
	return uri[:idx], uri[idx+1:]
}

// Open parses the leading scheme, looks it up by exact name, and delegates
// to the protocol's Open. Defaults: IsStreamed=false, PacketSize=1.
func (r *Registry) Open(ctx context.Context, uri string, flags int) (*Context, error) {
	name, _ := scheme(uri)
	r.mu.RLock()
	p, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ioerr.NewUnsupportedError("urlproto.Open", fmt.Errorf("no protocol registered for scheme %q", name))
	}
	u := &Context{Proto: p, Flags: flags, IsStreamed: false, PacketSize: 1, URI: uri}
	if err := p.Open(ctx, u, uri, flags); err != nil {
		return nil, ioerr.NewIOError("urlproto.Open", err)
	}
	return u, nil
}
