package avformat

import (
	"context"
	"fmt"

	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/ioerr"
	"github.com/alxayo/go-container/internal/logger"
	"github.com/alxayo/go-container/internal/urlproto"
)

// probeBufSize is the number of leading bytes handed to Prober.Probe when
// no explicit format name is supplied (spec.md §4.4).
const probeBufSize = 2048

// OpenInput opens uri for reading, probes or resolves the input format, and
// runs ReadHeader. If formatName is non-empty it is resolved exactly via
// GuessInputFormat rather than probed.
func OpenInput(ctx context.Context, protos *urlproto.Registry, formats *Registry, uri, formatName string) (*FormatContext, error) {
	u, err := protos.Open(ctx, uri, urlproto.RDONLY)
	if err != nil {
		return nil, err
	}

	fc := newContext(uri)
	fc.u = u
	fc.IOCtx = bytestream.FdOpen(u, false)

	var demuxer Demuxer
	if formatName != "" {
		demuxer = formats.GuessInputFormat(formatName, uri, "")
	} else {
		probe := make([]byte, probeBufSize)
		n, _ := fc.IOCtx.GetBuffer(ctx, probe)
		demuxer = formats.ProbeInputFormat(uri, probe[:n])
		if _, serr := fc.IOCtx.Seek(ctx, 0, bytestream.SeekSet); serr != nil && !u.IsStreamed {
			_ = u.Close()
			return nil, ioerr.NewIOError("avformat.OpenInput", serr)
		}
	}
	if demuxer == nil {
		_ = u.Close()
		return nil, ioerr.NewUnsupportedError("avformat.OpenInput", fmt.Errorf("no matching input format for %q", uri))
	}

	fc.Demuxer = demuxer
	fc.Log = logger.WithFormat(fc.Log, demuxer.ShortName(), fc.CorrelationID)
	if err := demuxer.ReadHeader(ctx, fc); err != nil {
		_ = u.Close()
		return nil, err
	}
	return fc, nil
}

// OpenOutput opens uri for writing against an explicitly named or
// extension-guessed output format, and runs WriteHeader.
func OpenOutput(ctx context.Context, protos *urlproto.Registry, formats *Registry, uri, formatName, mimeType string) (*FormatContext, error) {
	muxer := formats.GuessOutputFormat(formatName, uri, mimeType)
	if muxer == nil {
		return nil, ioerr.NewUnsupportedError("avformat.OpenOutput", fmt.Errorf("no matching output format for %q/%q", formatName, uri))
	}
	if muxer.NeedsNumber() && !containsNumberToken(uri) {
		return nil, ioerr.NewProgrammerError("avformat.OpenOutput", fmt.Errorf("format %s requires a %%d token in filename %q", muxer.ShortName(), uri))
	}

	u, err := protos.Open(ctx, uri, urlproto.WRONLY)
	if err != nil {
		return nil, err
	}

	fc := newContext(uri)
	fc.u = u
	fc.IOCtx = bytestream.FdOpen(u, true)
	fc.Muxer = muxer
	fc.Log = logger.WithFormat(fc.Log, muxer.ShortName(), fc.CorrelationID)

	if err := muxer.WriteHeader(ctx, fc); err != nil {
		_ = u.Close()
		return nil, err
	}
	return fc, nil
}

func containsNumberToken(uri string) bool {
	for i := 0; i+1 < len(uri); i++ {
		if uri[i] == '%' {
			j := i + 1
			for j < len(uri) && uri[j] >= '0' && uri[j] <= '9' {
				j++
			}
			if j < len(uri) && uri[j] == 'd' {
				return true
			}
		}
	}
	return false
}

// FindStreamInfo reads up to maxPackets packets (or until every stream has
// seen a keyframe, whichever first), queuing every packet it reads so
// ReadPacket replays them in order (spec.md §4.6). It sets no stream
// field: frame rate, duration and codec parameters that the demuxer's
// ReadHeader left unset stay unset.
func FindStreamInfo(ctx context.Context, fc *FormatContext, maxPackets int) error {
	if fc.Demuxer == nil {
		return ioerr.NewProgrammerError("avformat.FindStreamInfo", fmt.Errorf("not opened for read"))
	}
	seenKeyframe := make(map[int]bool)
	for i := 0; i < maxPackets; i++ {
		pkt, err := fc.Demuxer.ReadPacket(ctx, fc)
		if err != nil {
			break
		}
		fc.pushDeferred(pkt)
		if st := fc.Stream(pkt.StreamIndex); st != nil && pkt.IsKeyFrame() {
			seenKeyframe[pkt.StreamIndex] = true
		}
		if allStreamsSeen(fc, seenKeyframe) {
			break
		}
	}
	return nil
}

func allStreamsSeen(fc *FormatContext, seen map[int]bool) bool {
	if len(fc.streams) == 0 {
		return false
	}
	for _, st := range fc.streams {
		if !seen[st.Index] {
			return false
		}
	}
	return true
}
