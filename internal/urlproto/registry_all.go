package urlproto

import "sync"

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide protocol registry, initialising it with
// file/pipe/udp/tcp/http on first use (spec.md §9: "a once-initialised
// read-only singleton for back-compat"). Capture back-ends (audio/video)
// are out of CORE scope per spec.md §1 and are not registered here.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry()
		RegisterAll(defaultReg)
	})
	return defaultReg
}

// RegisterAll registers every built-in protocol into r, in the order
// spec.md §4.1 lists them.
func RegisterAll(r *Registry) {
	r.Register(FileProtocol{})
	r.Register(PipeProtocol{})
	r.Register(UDPProtocol{})
	r.Register(TCPProtocol{})
	r.Register(HTTPProtocol{})
}
