// Package ogg implements the Ogg container muxer of spec.md §4.5.6: a thin
// page-framing layer carrying packets produced by an external Vorbis
// encoder (this package never touches Vorbis bitstream content itself).
// Header packets are flushed onto their own page(s) the moment the first
// data packet arrives, and granule positions are rebased so the stream
// starts at zero, mirroring the source's OggContext/header_written state
// machine.
package ogg

import (
	"context"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
)

const (
	maxLacingValues = 255
	maxSegmentValue = 255
	pageHeaderLen   = 27 // "OggS" + version + header_type + granule(8) + serial(4) + seq(4) + crc(4) + segment count
)

// oggCRCTable implements the Ogg bitstream's own non-reflected CRC-32
// (polynomial 0x04c11db7, MSB-first, no final XOR) — distinct from the
// reflected IEEE variant hash/crc32 provides, so it cannot be built from
// the standard library's table constructor and is implemented directly.
var oggCRCTable [256]uint32

const oggCRCPoly = 0x04c11db7

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for b := 0; b < 8; b++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ oggCRCPoly
			} else {
				crc <<= 1
			}
		}
		oggCRCTable[i] = crc
	}
}

func oggCRC32(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// pendingPacket is one packet queued for page assembly.
type pendingPacket struct {
	data    []byte
	granule int64
}

// streamState is OggContext, generalized to track page assembly state
// directly (lacing/segmentation, normally delegated to libogg).
type streamState struct {
	serial         uint32
	pageSeq        uint32
	headerWritten  bool
	pending        []pendingPacket
	baseGranule    int64
	granuleBaseSet bool
}

// Muxer implements avformat.Muxer for Ogg/Vorbis output.
type Muxer struct{}

func (Muxer) ShortName() string  { return "ogg" }
func (Muxer) Extensions() string { return "ogg" }
func (Muxer) MimeType() string   { return "audio/x-vorbis" }
func (Muxer) NeedsNumber() bool  { return false }

func (Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	streamIdx := -1
	for i, st := range fc.Streams() {
		if st.Codec.Type == codectags.CodecTypeAudio {
			streamIdx = i
			break
		}
	}
	if streamIdx < 0 {
		return ioerr.NewUnsupportedError("ogg.WriteHeader", nil)
	}
	fc.Stream(streamIdx).Codec.ID = codectags.IDVorbis

	fc.Priv = &streamState{serial: streamSerial(fc), pending: nil}
	return nil
}

// streamSerial derives a stable per-context serial number in place of
// libogg's ogg_stream_init(rand()) — deterministic so output is
// reproducible across runs, unlike the source's seeded-by-clock variant.
func streamSerial(fc *avformat.FormatContext) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(fc.Filename); i++ {
		h ^= uint32(fc.Filename[i])
		h *= 16777619
	}
	return h
}

// isHeaderPacket is this package's substitute for the source's "queued
// during write_header, before any write_packet call" distinction: since
// our muxer never calls into a Vorbis encoder, the caller marks the
// identification/comment/setup packets it submits first with FlagKey.
func isHeaderPacket(pkt *avpacket.Packet) bool {
	return pkt.IsKeyFrame()
}

func (Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	ds := fc.Priv.(*streamState)

	if !ds.granuleBaseSet && (ds.headerWritten || !isHeaderPacket(pkt)) {
		ds.baseGranule = pkt.PTS
		ds.granuleBaseSet = true
	}
	granule := pkt.PTS - ds.baseGranule
	pp := pendingPacket{data: pkt.Data, granule: granule}

	if !ds.headerWritten {
		if isHeaderPacket(pkt) {
			ds.pending = append(ds.pending, pp)
			return nil // accumulate; headers flush together once data starts
		}
		if err := flushPages(ctx, fc, ds, false); err != nil {
			return err
		}
		ds.headerWritten = true
		ds.pending = append(ds.pending, pp)
		return flushPages(ctx, fc, ds, false)
	}

	ds.pending = append(ds.pending, pp)
	return pageOutReady(ctx, fc, ds)
}

func (Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	ds := fc.Priv.(*streamState)
	if len(ds.pending) == 0 {
		// Every data packet already flushed eagerly (the first one forces
		// the header pages out, later ones fill pages as they go), so
		// there is nothing left to carry the eos bit. Emit a trailing
		// zero-payload page to mark end of stream, same as libogg does
		// when ogg_stream_eos is set with no fresh packets queued.
		return emitPage(ctx, fc, ds, nil, true)
	}
	return flushPages(ctx, fc, ds, true)
}

// pageOutReady emits pages while enough packets are queued to fill one
// (libogg's ogg_stream_pageout threshold), leaving a remainder buffered
// for the next call or the final flush.
func pageOutReady(ctx context.Context, fc *avformat.FormatContext, ds *streamState) error {
	for {
		n, segCount := packetsForOnePage(ds.pending)
		if n == 0 || segCount < maxLacingValues {
			return nil
		}
		if err := emitPage(ctx, fc, ds, ds.pending[:n], false); err != nil {
			return err
		}
		ds.pending = ds.pending[n:]
	}
}

// flushPages forces out every currently queued packet as one or more
// pages, splitting only when the lacing table would overflow 255 entries
// — the source's ogg_stream_flush.
func flushPages(ctx context.Context, fc *avformat.FormatContext, ds *streamState, eos bool) error {
	for len(ds.pending) > 0 {
		n, _ := packetsForOnePage(ds.pending)
		if n == 0 {
			n = len(ds.pending)
		}
		last := n >= len(ds.pending)
		if err := emitPage(ctx, fc, ds, ds.pending[:n], eos && last); err != nil {
			return err
		}
		ds.pending = ds.pending[n:]
	}
	return nil
}

// packetsForOnePage returns how many leading packets of pending fit in one
// page's 255-entry lacing table (each packet's lacing entries must stay
// together — this package does not split a single packet across pages),
// along with the resulting total segment count.
func packetsForOnePage(pending []pendingPacket) (int, int) {
	segCount := 0
	for i, p := range pending {
		need := len(p.data)/maxSegmentValue + 1
		if segCount+need > maxLacingValues {
			return i, segCount
		}
		segCount += need
	}
	return len(pending), segCount
}

func lacingValues(data []byte) []byte {
	var segs []byte
	n := len(data)
	for n >= maxSegmentValue {
		segs = append(segs, maxSegmentValue)
		n -= maxSegmentValue
	}
	segs = append(segs, byte(n))
	return segs
}

func emitPage(ctx context.Context, fc *avformat.FormatContext, ds *streamState, packets []pendingPacket, eos bool) error {
	var segTable []byte
	var payload []byte
	granule := int64(-1)
	for _, p := range packets {
		segTable = append(segTable, lacingValues(p.data)...)
		payload = append(payload, p.data...)
		granule = p.granule
	}

	headerType := byte(0)
	if ds.pageSeq == 0 {
		headerType |= 0x02 // bos: beginning of logical bitstream
	}
	if eos {
		headerType |= 0x04
	}

	page := make([]byte, 0, pageHeaderLen+len(segTable)+len(payload))
	page = append(page, 'O', 'g', 'g', 'S')
	page = append(page, 0) // version
	page = append(page, headerType)
	page = appendLE64(page, uint64(granule))
	page = appendLE32(page, ds.serial)
	page = appendLE32(page, ds.pageSeq)
	page = appendLE32(page, 0) // checksum placeholder
	page = append(page, byte(len(segTable)))
	page = append(page, segTable...)
	page = append(page, payload...)

	crc := oggCRC32(page)
	page[22] = byte(crc)
	page[23] = byte(crc >> 8)
	page[24] = byte(crc >> 16)
	page[25] = byte(crc >> 24)

	if err := fc.IOCtx.PutBuffer(ctx, page); err != nil {
		return ioerr.NewIOError("ogg.emitPage", err)
	}
	ds.pageSeq++
	return fc.IOCtx.FlushPacket(ctx)
}

func appendLE32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendLE64(b []byte, v uint64) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// RegisterAll registers the Ogg muxer. There is no demuxer: decoding Vorbis
// content is out of scope, matching the source.
func RegisterAll(formats *avformat.Registry) {
	formats.RegisterOutput(Muxer{})
}
