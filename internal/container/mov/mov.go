// Package mov implements the MOV/MP4 demuxer of spec.md §4.5.4: a
// recursive-descent atom parser that builds per-stream chunk-offset tables
// and selects packets in globally-increasing file-offset order across all
// streams. Demux only — this package never writes a MOV/MP4 container.
package mov

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
)

func mktag(a, b, c, d byte) uint32 { return codectags.MKTAG(a, b, c, d) }

var (
	atomMoov = mktag('m', 'o', 'o', 'v')
	atomMdat = mktag('m', 'd', 'a', 't')
	atomTrak = mktag('t', 'r', 'a', 'k')
	atomTkhd = mktag('t', 'k', 'h', 'd')
	atomMdia = mktag('m', 'd', 'i', 'a')
	atomHdlr = mktag('h', 'd', 'l', 'r')
	atomMinf = mktag('m', 'i', 'n', 'f')
	atomDinf = mktag('d', 'i', 'n', 'f')
	atomStbl = mktag('s', 't', 'b', 'l')
	atomStsd = mktag('s', 't', 's', 'd')
	atomStco = mktag('s', 't', 'c', 'o')
	atomCo64 = mktag('c', 'o', '6', '4')
	atomStsc = mktag('s', 't', 's', 'c')
	atomStsz = mktag('s', 't', 's', 'z')
	atomEdts = mktag('e', 'd', 't', 's')
	atomEsds = mktag('e', 's', 'd', 's')

	typeVide = mktag('v', 'i', 'd', 'e')
	typeSoun = mktag('s', 'o', 'u', 'n')
)

type sampleToChunkEntry struct {
	first, count, id uint32
}

// streamState is MOVStreamContext: per-track chunk/sample bookkeeping kept
// whether or not the track is audio/video, so internal-only tracks still
// advance the shared read cursor.
type streamState struct {
	avStream      *avformat.Stream // nil until hdlr classifies this track as audio or video
	trackID       int
	width, height int
	nextChunk     int64
	chunkOffsets  []int64
	sampleToChunk []sampleToChunkEntry
	sampleSize    int64
	sampleSizes   []int64
}

// demuxState is MOVContext.
type demuxState struct {
	foundMoov       bool
	foundMdat       bool
	mdatOffset      int64
	mdatSize        int64
	nextChunkOffset int64
	done            bool
	streams         []*streamState
	cur             *streamState // track currently being parsed (innermost trak)
}

// Demuxer implements avformat.Demuxer for MOV/MP4 input (spec.md §4.5.4).
type Demuxer struct{}

func (Demuxer) ShortName() string  { return "mov" }
func (Demuxer) Extensions() string { return "mov,mp4,m4a,m4v" }
func (Demuxer) MimeType() string   { return "video/quicktime" }

func (Demuxer) Probe(buf []byte) int {
	if len(buf) < 12 {
		return 0
	}
	tag := string(buf[4:8])
	if tag == "moov" || tag == "mdat" || tag == "ftyp" {
		return 100
	}
	return 0
}

func (Demuxer) ReadHeader(ctx context.Context, fc *avformat.FormatContext) error {
	ds := &demuxState{}
	if err := parseAtoms(ctx, fc, ds, math.MaxInt64); err != nil {
		return err
	}
	if !ds.foundMoov || !ds.foundMdat {
		return ioerr.NewMalformedError("mov.ReadHeader", fmt.Errorf("moov/mdat not both found"))
	}
	bc := fc.IOCtx
	if !bc.IsStreamed() {
		pos, err := bc.Tell(ctx)
		if err != nil {
			return err
		}
		if pos != ds.mdatOffset {
			if _, err := bc.Seek(ctx, ds.mdatOffset, bytestream.SeekSet); err != nil {
				return err
			}
		}
	}
	ds.nextChunkOffset = ds.mdatOffset
	fc.Priv = ds
	return nil
}

// parseAtoms is the re-expressed equivalent of the source's parse_default:
// a budget-driven loop (remaining bytes of the enclosing atom) rather than
// offset/size pointer bookkeeping threaded through a function-pointer
// table.
func parseAtoms(ctx context.Context, fc *avformat.FormatContext, ds *demuxState, remaining int64) error {
	bc := fc.IOCtx
	for remaining >= 8 && !ds.done {
		size32, err := bc.GetBE32(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return ioerr.NewIOError("mov.parseAtoms", err)
		}
		typ, err := bc.GetLE32(ctx)
		if err != nil {
			return ioerr.NewIOError("mov.parseAtoms", err)
		}
		consumed := int64(8)
		bodySize := int64(size32)
		switch {
		case bodySize == 1:
			ext, err := bc.GetBE64(ctx)
			if err != nil {
				return ioerr.NewIOError("mov.parseAtoms", err)
			}
			consumed += 8
			bodySize = int64(ext) - 16
		case bodySize == 0:
			bodySize = remaining - consumed
		default:
			bodySize -= 8
		}
		if bodySize < 0 {
			return ioerr.NewMalformedError("mov.parseAtoms", fmt.Errorf("negative atom body size for %08x", typ))
		}

		if err := dispatchAtom(ctx, fc, ds, typ, bodySize); err != nil {
			return err
		}
		remaining -= consumed + bodySize
	}
	return nil
}

func dispatchAtom(ctx context.Context, fc *avformat.FormatContext, ds *demuxState, typ uint32, size int64) error {
	bc := fc.IOCtx
	switch typ {
	case atomMoov:
		if err := parseAtoms(ctx, fc, ds, size); err != nil {
			return err
		}
		ds.foundMoov = true
		if ds.foundMdat {
			ds.done = true
		}
		return nil

	case atomMdat:
		pos, err := bc.Tell(ctx)
		if err != nil {
			return err
		}
		ds.mdatOffset = pos
		ds.mdatSize = size
		ds.foundMdat = true
		if ds.foundMoov {
			ds.done = true
			return nil
		}
		return bc.Skip(ctx, size)

	case atomTrak:
		st := &streamState{}
		ds.streams = append(ds.streams, st)
		prev := ds.cur
		ds.cur = st
		if err := parseAtoms(ctx, fc, ds, size); err != nil {
			return err
		}
		ds.cur = prev
		return nil

	case atomTkhd:
		return parseTkhd(ctx, fc, ds, size)

	case atomHdlr:
		return parseHdlr(ctx, fc, ds, size)

	case atomMdia, atomMinf, atomDinf, atomStbl, atomEdts, atomEsds:
		return parseAtoms(ctx, fc, ds, size)

	case atomStsd:
		return parseStsd(ctx, fc, ds, size)

	case atomStco, atomCo64:
		return parseStco(ctx, fc, ds, typ, size)

	case atomStsc:
		return parseStsc(ctx, fc, ds, size)

	case atomStsz:
		return parseStsz(ctx, fc, ds, size)

	default:
		return bc.Skip(ctx, size)
	}
}

func parseTkhd(ctx context.Context, fc *avformat.FormatContext, ds *demuxState, size int64) error {
	bc := fc.IOCtx
	cur := ds.cur
	if cur == nil {
		return bc.Skip(ctx, size)
	}
	if _, err := bc.GetByte(ctx); err != nil { // version
		return err
	}
	if err := bc.Skip(ctx, 3); err != nil { // flags
		return err
	}
	if err := bc.Skip(ctx, 8); err != nil { // creation/modification time
		return err
	}
	trackID, err := bc.GetBE32(ctx)
	if err != nil {
		return err
	}
	cur.trackID = int(trackID)
	if err := bc.Skip(ctx, 4+4+4+4); err != nil { // reserved, duration, reserved x2
		return err
	}
	if err := bc.Skip(ctx, 2+2+2+2); err != nil { // layer, alt group, volume, reserved
		return err
	}
	if err := bc.Skip(ctx, 36); err != nil { // display matrix
		return err
	}
	width, err := bc.GetBE32(ctx)
	if err != nil {
		return err
	}
	height, err := bc.GetBE32(ctx)
	if err != nil {
		return err
	}
	cur.width = int(width >> 16)
	cur.height = int(height >> 16)
	return nil
}

func parseHdlr(ctx context.Context, fc *avformat.FormatContext, ds *demuxState, size int64) error {
	bc := fc.IOCtx
	cur := ds.cur
	if _, err := bc.GetByte(ctx); err != nil { // version
		return err
	}
	if err := bc.Skip(ctx, 3); err != nil { // flags
		return err
	}
	if _, err := bc.GetLE32(ctx); err != nil { // component type
		return err
	}
	subtype, err := bc.GetLE32(ctx)
	if err != nil {
		return err
	}
	if err := bc.Skip(ctx, 12); err != nil { // manufacturer, flags, flags mask
		return err
	}
	consumed := int64(4 + 4 + 4 + 12)
	if cur != nil && cur.avStream == nil {
		var kind codectags.CodecType
		switch subtype {
		case typeVide:
			kind = codectags.CodecTypeVideo
		case typeSoun:
			kind = codectags.CodecTypeAudio
		default:
			kind = codectags.CodecTypeUnknown
		}
		if kind != codectags.CodecTypeUnknown {
			st, err := fc.NewStream()
			if err != nil {
				return err
			}
			st.ID = cur.trackID
			st.Codec.Type = kind
			st.Codec.Width = cur.width
			st.Codec.Height = cur.height
			cur.avStream = st
		}
	}
	if size > consumed {
		return bc.Skip(ctx, size-consumed)
	}
	return nil
}

func parseStsd(ctx context.Context, fc *avformat.FormatContext, ds *demuxState, size int64) error {
	bc := fc.IOCtx
	cur := ds.cur
	if cur == nil || cur.avStream == nil {
		return bc.Skip(ctx, size)
	}
	st := cur.avStream

	if _, err := bc.GetByte(ctx); err != nil { // version
		return err
	}
	if err := bc.Skip(ctx, 3); err != nil { // flags
		return err
	}
	entries, err := bc.GetBE32(ctx)
	if err != nil {
		return err
	}
	for i := uint32(0); i < entries; i++ {
		entrySize, err := bc.GetBE32(ctx)
		if err != nil {
			return err
		}
		format, err := bc.GetLE32(ctx)
		if err != nil {
			return err
		}
		if err := bc.Skip(ctx, 4+2+2); err != nil { // reserved, reserved, index
			return err
		}
		if st.Codec.Type == codectags.CodecTypeVideo {
			st.Codec.Tag = format
			id, _ := codectags.GetID(codectags.MOVVideoTags, format)
			st.Codec.ID = id
			if err := bc.Skip(ctx, 2+2+4+4+4); err != nil { // version,revision,vendor,temporal,spatial quality
				return err
			}
			width, err := bc.GetBE16(ctx)
			if err != nil {
				return err
			}
			height, err := bc.GetBE16(ctx)
			if err != nil {
				return err
			}
			st.Codec.Width = int(width)
			st.Codec.Height = int(height)
			if err := bc.Skip(ctx, 4+4+4); err != nil { // h-res, v-res, data size
				return err
			}
			if _, err := bc.GetBE16(ctx); err != nil { // frames per sample
				return err
			}
			if err := bc.Skip(ctx, 32); err != nil { // codec name
				return err
			}
			if err := bc.Skip(ctx, 2+2+2+2); err != nil { // depth, colortable, reserved x2
				return err
			}
			st.Codec.FrameRateNum = 25 * avformat.FrameRateBase
			const consumed = 4 + 2 + 2 + 20 + 2 + 2 + 4 + 4 + 4 + 2 + 32 + 2 + 2 + 2 + 2
			if int64(entrySize) > consumed {
				if err := bc.Skip(ctx, int64(entrySize)-consumed); err != nil {
					return err
				}
			}
		} else {
			st.Codec.Tag = format
			if err := bc.Skip(ctx, 2+2+4); err != nil { // version, revision, vendor
				return err
			}
			channels, err := bc.GetBE16(ctx)
			if err != nil {
				return err
			}
			sampSz, err := bc.GetBE16(ctx)
			if err != nil {
				return err
			}
			id, _ := codectags.GetID(codectags.MOVAudioTags, format)
			if id == codectags.IDPCMS16BE && sampSz == 8 {
				id = codectags.IDPCMS8
			}
			st.Codec.Channels = int(channels)
			st.Codec.BitsPerSample = int(sampSz)
			st.Codec.ID = id
			if err := bc.Skip(ctx, 2+2); err != nil { // compression id, packet size
				return err
			}
			rate, err := bc.GetBE32(ctx)
			if err != nil {
				return err
			}
			st.Codec.SampleRate = int(rate >> 16)
			const consumed = 4 + 2 + 2 + 4 + 2 + 2 + 2 + 2 + 4
			if int64(entrySize) > consumed {
				if err := bc.Skip(ctx, int64(entrySize)-consumed); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func parseStco(ctx context.Context, fc *avformat.FormatContext, ds *demuxState, typ uint32, size int64) error {
	bc := fc.IOCtx
	cur := ds.cur
	if cur == nil {
		return bc.Skip(ctx, size)
	}
	if _, err := bc.GetByte(ctx); err != nil {
		return err
	}
	if err := bc.Skip(ctx, 3); err != nil {
		return err
	}
	entries, err := bc.GetBE32(ctx)
	if err != nil {
		return err
	}
	cur.chunkOffsets = make([]int64, entries)
	for i := uint32(0); i < entries; i++ {
		if typ == atomCo64 {
			v, err := bc.GetBE64(ctx)
			if err != nil {
				return err
			}
			cur.chunkOffsets[i] = int64(v)
		} else {
			v, err := bc.GetBE32(ctx)
			if err != nil {
				return err
			}
			cur.chunkOffsets[i] = int64(v)
		}
	}
	return nil
}

func parseStsc(ctx context.Context, fc *avformat.FormatContext, ds *demuxState, size int64) error {
	bc := fc.IOCtx
	cur := ds.cur
	if cur == nil {
		return bc.Skip(ctx, size)
	}
	if _, err := bc.GetByte(ctx); err != nil {
		return err
	}
	if err := bc.Skip(ctx, 3); err != nil {
		return err
	}
	entries, err := bc.GetBE32(ctx)
	if err != nil {
		return err
	}
	cur.sampleToChunk = make([]sampleToChunkEntry, entries)
	for i := uint32(0); i < entries; i++ {
		first, err := bc.GetBE32(ctx)
		if err != nil {
			return err
		}
		count, err := bc.GetBE32(ctx)
		if err != nil {
			return err
		}
		id, err := bc.GetBE32(ctx)
		if err != nil {
			return err
		}
		cur.sampleToChunk[i] = sampleToChunkEntry{first: first, count: count, id: id}
	}
	return nil
}

func parseStsz(ctx context.Context, fc *avformat.FormatContext, ds *demuxState, size int64) error {
	bc := fc.IOCtx
	cur := ds.cur
	if cur == nil {
		return bc.Skip(ctx, size)
	}
	if _, err := bc.GetByte(ctx); err != nil {
		return err
	}
	if err := bc.Skip(ctx, 3); err != nil {
		return err
	}
	sampleSize, err := bc.GetBE32(ctx)
	if err != nil {
		return err
	}
	entries, err := bc.GetBE32(ctx)
	if err != nil {
		return err
	}
	cur.sampleSize = int64(sampleSize)
	if sampleSize != 0 {
		return nil
	}
	cur.sampleSizes = make([]int64, entries)
	for i := uint32(0); i < entries; i++ {
		v, err := bc.GetBE32(ctx)
		if err != nil {
			return err
		}
		cur.sampleSizes[i] = int64(v)
	}
	return nil
}

func (Demuxer) ReadPacket(ctx context.Context, fc *avformat.FormatContext) (*avpacket.Packet, error) {
	ds := fc.Priv.(*demuxState)
	bc := fc.IOCtx

	for {
		var chosen *streamState
		offset := int64(math.MaxInt64)
		for _, s := range ds.streams {
			if s.nextChunk < int64(len(s.chunkOffsets)) && s.chunkOffsets[s.nextChunk] < offset {
				chosen = s
				offset = s.chunkOffsets[s.nextChunk]
			}
		}
		if chosen == nil {
			return nil, io.EOF
		}
		chosen.nextChunk++

		if ds.nextChunkOffset < offset {
			if err := bc.Skip(ctx, offset-ds.nextChunkOffset); err != nil {
				return nil, ioerr.NewIOError("mov.ReadPacket", err)
			}
		}

		size := int64(math.MaxInt64)
		found := false
		for _, s := range ds.streams {
			if s.nextChunk < int64(len(s.chunkOffsets)) {
				d := s.chunkOffsets[s.nextChunk] - offset
				if d < size {
					size = d
					found = true
				}
			}
		}
		if !found {
			size = ds.mdatSize + ds.mdatOffset - offset
		}
		if size <= 0 {
			return nil, io.EOF
		}

		if chosen.avStream == nil {
			if err := bc.Skip(ctx, size); err != nil {
				return nil, ioerr.NewIOError("mov.ReadPacket", err)
			}
			ds.nextChunkOffset = offset + size
			continue
		}

		data := make([]byte, size)
		if _, err := bc.GetBuffer(ctx, data); err != nil {
			return nil, ioerr.NewIOError("mov.ReadPacket", err)
		}
		ds.nextChunkOffset = offset + size
		pkt := avpacket.FromBytes(data)
		pkt.StreamIndex = chosen.avStream.Index
		return pkt, nil
	}
}

func (Demuxer) ReadClose(*avformat.FormatContext) error { return nil }
