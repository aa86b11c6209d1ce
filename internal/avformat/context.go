package avformat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
	"github.com/alxayo/go-container/internal/logger"
	"github.com/alxayo/go-container/internal/urlproto"
)

// FormatContext is either an input or an output format context, never both
// (spec.md §3 "FormatContext"). It owns the buffered byte-stream, the
// stream table, per-format private state, textual metadata, and a
// deferred-packet queue used by FindStreamInfo's read-ahead.
type FormatContext struct {
	Filename string
	Meta     Metadata
	Priv     any

	IOCtx *bytestream.Context
	u     *urlproto.Context

	Muxer   Muxer
	Demuxer Demuxer

	streams []*Stream

	// deferred holds packets read ahead of the caller during FindStreamInfo
	// so ReadPacket can drain them before touching the underlying stream
	// again (spec.md §4.6 "Stream information probing").
	deferred []*avpacket.Packet

	// CorrelationID identifies this FormatContext across log lines for the
	// lifetime of one open/close cycle.
	CorrelationID string
	Log           *slog.Logger
}

// newContext builds the common fields shared by OpenInput and OpenOutput.
func newContext(filename string) *FormatContext {
	id := uuid.NewString()
	return &FormatContext{
		Filename:      filename,
		CorrelationID: id,
		Log:           logger.WithFormat(logger.Logger(), "", id),
	}
}

// Streams returns the registered stream list in index order.
func (fc *FormatContext) Streams() []*Stream {
	out := make([]*Stream, len(fc.streams))
	copy(out, fc.streams)
	return out
}

// NewStream allocates and appends a new Stream, enforcing the MaxStreams
// ceiling of spec.md §6.
func (fc *FormatContext) NewStream() (*Stream, error) {
	if len(fc.streams) >= MaxStreams {
		return nil, ioerr.NewUnsupportedError("FormatContext.NewStream", fmt.Errorf("stream limit %d exceeded", MaxStreams))
	}
	st := &Stream{Index: len(fc.streams), ID: len(fc.streams) + 1}
	fc.streams = append(fc.streams, st)
	if fc.Log != nil {
		fc.Log = logger.WithStream(fc.Log, st.Index, st.Codec.Type.String())
	}
	return st, nil
}

// Stream returns the stream at index, or nil if out of range.
func (fc *FormatContext) Stream(index int) *Stream {
	if index < 0 || index >= len(fc.streams) {
		return nil
	}
	return fc.streams[index]
}

// pushDeferred queues a packet read during probing for later delivery.
func (fc *FormatContext) pushDeferred(pkt *avpacket.Packet) {
	fc.deferred = append(fc.deferred, pkt)
}

// popDeferred returns and removes the oldest deferred packet, or nil if
// none remain.
func (fc *FormatContext) popDeferred() *avpacket.Packet {
	if len(fc.deferred) == 0 {
		return nil
	}
	pkt := fc.deferred[0]
	fc.deferred = fc.deferred[1:]
	return pkt
}

// BestStream returns the first stream of the requested codec type, mirroring
// the common "pick the obvious audio/video track" helper supplied by the
// original tooling this spec was distilled from (spec.md §4.7).
func (fc *FormatContext) BestStream(kind codectags.CodecType) *Stream {
	for _, st := range fc.streams {
		if st.Codec.Type == kind {
			return st
		}
	}
	return nil
}

// ReadPacket drains any deferred packets left over from FindStreamInfo
// before delegating to the demuxer.
func (fc *FormatContext) ReadPacket(ctx context.Context) (*avpacket.Packet, error) {
	if fc.Demuxer == nil {
		return nil, ioerr.NewProgrammerError("FormatContext.ReadPacket", fmt.Errorf("not opened for read"))
	}
	if pkt := fc.popDeferred(); pkt != nil {
		PacketsRead.WithLabelValues(fc.Demuxer.ShortName(), streamCodecType(fc, pkt.StreamIndex)).Inc()
		observeBytes(fc, "read", pkt.Size())
		return pkt, nil
	}
	pkt, err := fc.Demuxer.ReadPacket(ctx, fc)
	if err != nil {
		return nil, err
	}
	PacketsRead.WithLabelValues(fc.Demuxer.ShortName(), streamCodecType(fc, pkt.StreamIndex)).Inc()
	observeBytes(fc, "read", pkt.Size())
	return pkt, nil
}

func streamCodecType(fc *FormatContext, index int) string {
	if st := fc.Stream(index); st != nil {
		return st.Codec.Type.String()
	}
	return "unknown"
}

// WritePacket hands pkt to the muxer once and, on success, updates the
// packet and byte counters. A failed muxer write is returned as is; this
// method does not retry it.
func (fc *FormatContext) WritePacket(ctx context.Context, pkt *avpacket.Packet) error {
	if fc.Muxer == nil {
		return ioerr.NewProgrammerError("FormatContext.WritePacket", fmt.Errorf("not opened for write"))
	}
	if err := fc.Muxer.WritePacket(ctx, fc, pkt); err != nil {
		return err
	}
	PacketsWritten.WithLabelValues(fc.Muxer.ShortName(), streamCodecType(fc, pkt.StreamIndex)).Inc()
	observeBytes(fc, "write", pkt.Size())
	return nil
}

// Close releases the demuxer/muxer and the underlying transport.
func (fc *FormatContext) Close(ctx context.Context) error {
	var err error
	if fc.Demuxer != nil {
		err = fc.Demuxer.ReadClose(fc)
	} else if fc.Muxer != nil {
		err = fc.Muxer.WriteTrailer(ctx, fc)
	}
	if fc.u != nil {
		if cerr := fc.u.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
