package avformat

import (
	"code.cloudfoundry.org/bytefmt"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the process-wide counters/histograms exposed for any
// FormatContext lifecycle, grouped by format short name.
var (
	PacketsRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "container",
		Subsystem: "avformat",
		Name:      "packets_read_total",
		Help:      "Packets produced by ReadPacket, by format and stream codec type.",
	}, []string{"format", "codec_type"})

	PacketsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "container",
		Subsystem: "avformat",
		Name:      "packets_written_total",
		Help:      "Packets consumed by WritePacket, by format and stream codec type.",
	}, []string{"format", "codec_type"})

	BytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "container",
		Subsystem: "avformat",
		Name:      "bytes_total",
		Help:      "Bytes moved through the buffered byte-stream layer, by format and direction.",
	}, []string{"format", "direction"})

	OpenDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "container",
		Subsystem: "avformat",
		Name:      "open_duration_seconds",
		Help:      "Wall time spent in OpenInput/OpenOutput including header probe/write.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"format", "direction"})
)

func init() {
	prometheus.MustRegister(PacketsRead, PacketsWritten, BytesTransferred, OpenDuration)
}

// observeBytes records a byte transfer and renders it through bytefmt for the
// debug-level log line accompanying large transfers (spec.md ambient
// logging: "human-readable sizes on notable I/O events").
func observeBytes(fc *FormatContext, direction string, n int) {
	if n <= 0 {
		return
	}
	format := ""
	if fc.Muxer != nil {
		format = fc.Muxer.ShortName()
	} else if fc.Demuxer != nil {
		format = fc.Demuxer.ShortName()
	}
	BytesTransferred.WithLabelValues(format, direction).Add(float64(n))
	if n >= 1<<20 {
		fc.Log.Debug("large I/O transfer", "direction", direction, "size", bytefmt.ByteSize(uint64(n)))
	}
}
