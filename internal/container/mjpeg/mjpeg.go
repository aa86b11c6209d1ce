// Package mjpeg implements the JPEG-based formats of spec.md §4.5.6: a
// single still-image writer, a multipart "--boundary" HTTP-style streaming
// writer, and a numbered-file sequence with both a muxer and a demuxer,
// grounded on the same get_frame_filename numbering convention used by the
// sibling imageseq formats.
package mjpeg

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alxayo/go-container/internal/avformat"
	"github.com/alxayo/go-container/internal/avpacket"
	"github.com/alxayo/go-container/internal/bytestream"
	"github.com/alxayo/go-container/internal/codectags"
	"github.com/alxayo/go-container/internal/ioerr"
	"github.com/alxayo/go-container/internal/urlproto"
)

// boundaryTag is the multipart separator token.
const boundaryTag = "ffserver"

// frameFilename substitutes a printf-style "%d" (or width-qualified
// variant) token in template with number, the same convention the
// image-sequence formats use.
func frameFilename(template string, number int) string {
	for i := 0; i+1 < len(template); i++ {
		if template[i] != '%' {
			continue
		}
		j := i + 1
		for j < len(template) && template[j] >= '0' && template[j] <= '9' {
			j++
		}
		if j < len(template) && template[j] == 'd' {
			width := 0
			if j > i+1 {
				width, _ = strconv.Atoi(template[i+1 : j])
			}
			return template[:i] + fmt.Sprintf("%0*d", width, number) + template[j+1:]
		}
	}
	return template
}

// SingleJPEGMuxer writes exactly one frame: the whole-picture still-image
// format. A second WritePacket call is a caller error; the original
// signals this by returning a "no more data" sentinel from its write
// callback, which this package raises as an unsupported-operation error.
type SingleJPEGMuxer struct{}

func (SingleJPEGMuxer) ShortName() string  { return "singlejpeg" }
func (SingleJPEGMuxer) Extensions() string { return "jpg,jpeg" }
func (SingleJPEGMuxer) MimeType() string   { return "image/jpeg" }
func (SingleJPEGMuxer) NeedsNumber() bool  { return false }

func (SingleJPEGMuxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	fc.Priv = new(bool) // wrote-already flag
	return nil
}

func (SingleJPEGMuxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	wrote := fc.Priv.(*bool)
	if *wrote {
		return ioerr.NewUnsupportedError("singlejpeg.WritePacket", fmt.Errorf("single JPEG output accepts only one frame"))
	}
	*wrote = true
	if err := fc.IOCtx.PutBuffer(ctx, pkt.Data); err != nil {
		return ioerr.NewIOError("singlejpeg.WritePacket", err)
	}
	return fc.IOCtx.FlushPacket(ctx)
}

func (SingleJPEGMuxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	return nil
}

// MPJPEGMuxer writes the "multipart/x-mixed-replace" MIME stream MJPEG
// servers use: one "--boundary\nContent-type: image/jpeg\n\n<data>" part
// per frame.
type MPJPEGMuxer struct{}

func (MPJPEGMuxer) ShortName() string  { return "mpjpeg" }
func (MPJPEGMuxer) Extensions() string { return "mjpg" }
func (MPJPEGMuxer) MimeType() string {
	return "multipart/x-mixed-replace;boundary=" + boundaryTag
}
func (MPJPEGMuxer) NeedsNumber() bool { return false }

func (MPJPEGMuxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	if err := fc.IOCtx.PutBuffer(ctx, []byte("--"+boundaryTag+"\n")); err != nil {
		return ioerr.NewIOError("mpjpeg.WriteHeader", err)
	}
	return fc.IOCtx.FlushPacket(ctx)
}

func (MPJPEGMuxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	bc := fc.IOCtx
	if err := bc.PutBuffer(ctx, []byte("Content-type: image/jpeg\n\n")); err != nil {
		return ioerr.NewIOError("mpjpeg.WritePacket", err)
	}
	if err := bc.PutBuffer(ctx, pkt.Data); err != nil {
		return ioerr.NewIOError("mpjpeg.WritePacket", err)
	}
	if err := bc.PutBuffer(ctx, []byte("\n--"+boundaryTag+"\n")); err != nil {
		return ioerr.NewIOError("mpjpeg.WritePacket", err)
	}
	return bc.FlushPacket(ctx)
}

func (MPJPEGMuxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	return nil
}

// jpegState tracks the numbered-file sequence's cursor, shared by the
// muxer and the demuxer.
type jpegState struct {
	imgNumber int
}

// JPEGMuxer writes one numbered file per frame (frame1.jpg, frame2.jpg, ...).
type JPEGMuxer struct{}

func (JPEGMuxer) ShortName() string  { return "jpeg" }
func (JPEGMuxer) Extensions() string { return "jpg,jpeg" }
func (JPEGMuxer) MimeType() string   { return "image/jpeg" }
func (JPEGMuxer) NeedsNumber() bool  { return true }

func (JPEGMuxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	fc.Priv = &jpegState{imgNumber: 1}
	return nil
}

func (JPEGMuxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	s := fc.Priv.(*jpegState)
	name := frameFilename(fc.Filename, s.imgNumber)

	u, err := urlproto.Default().Open(ctx, name, urlproto.WRONLY)
	if err != nil {
		return ioerr.NewIOError("jpeg.WritePacket", err)
	}
	bc := bytestream.FdOpen(u, true)
	if werr := bc.PutBuffer(ctx, pkt.Data); werr != nil {
		_ = u.Close()
		return ioerr.NewIOError("jpeg.WritePacket", werr)
	}
	if ferr := bc.FlushPacket(ctx); ferr != nil {
		_ = u.Close()
		return ioerr.NewIOError("jpeg.WritePacket", ferr)
	}
	if cerr := u.Close(); cerr != nil {
		return ioerr.NewIOError("jpeg.WritePacket", cerr)
	}

	s.imgNumber++
	return nil
}

func (JPEGMuxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error {
	return nil
}

// JPEGDemuxer reads back a numbered JPEG sequence written by JPEGMuxer.
type JPEGDemuxer struct{}

func (JPEGDemuxer) ShortName() string  { return "jpeg" }
func (JPEGDemuxer) Extensions() string { return "jpg,jpeg" }
func (JPEGDemuxer) MimeType() string   { return "image/jpeg" }

func (JPEGDemuxer) ReadHeader(ctx context.Context, fc *avformat.FormatContext) error {
	s := &jpegState{imgNumber: 0}

	var opened bool
	for ; s.imgNumber < 5; s.imgNumber++ {
		name := frameFilename(fc.Filename, s.imgNumber)
		u, oerr := urlproto.Default().Open(ctx, name, urlproto.RDONLY)
		if oerr == nil {
			_ = u.Close()
			opened = true
			break
		}
	}
	if !opened {
		return ioerr.NewIOError("jpeg.ReadHeader", fmt.Errorf("no frame found for template %q", fc.Filename))
	}

	st, err := fc.NewStream()
	if err != nil {
		return err
	}
	st.Codec.Type = codectags.CodecTypeVideo
	st.Codec.ID = codectags.IDMJPEG
	st.Codec.FrameRateNum = 25 * avformat.FrameRateBase

	fc.Priv = s
	return nil
}

func (JPEGDemuxer) ReadPacket(ctx context.Context, fc *avformat.FormatContext) (*avpacket.Packet, error) {
	s := fc.Priv.(*jpegState)
	name := frameFilename(fc.Filename, s.imgNumber)

	u, err := urlproto.Default().Open(ctx, name, urlproto.RDONLY)
	if err != nil {
		return nil, ioerr.NewIOError("jpeg.ReadPacket", err)
	}
	end, serr := u.Seek(0, 2) // SEEK_END
	if serr != nil {
		_ = u.Close()
		return nil, ioerr.NewIOError("jpeg.ReadPacket", serr)
	}
	if _, serr := u.Seek(0, 0); serr != nil { // SEEK_SET
		_ = u.Close()
		return nil, ioerr.NewIOError("jpeg.ReadPacket", serr)
	}
	buf := make([]byte, end)
	bc := bytestream.FdOpen(u, false)
	if _, rerr := bc.GetBuffer(ctx, buf); rerr != nil {
		_ = u.Close()
		return nil, ioerr.NewIOError("jpeg.ReadPacket", rerr)
	}
	if cerr := u.Close(); cerr != nil {
		return nil, ioerr.NewIOError("jpeg.ReadPacket", cerr)
	}

	pkt := avpacket.FromBytes(buf)
	pkt.StreamIndex = 0
	s.imgNumber++
	return pkt, nil
}

func (JPEGDemuxer) ReadClose(fc *avformat.FormatContext) error {
	return nil
}

// RegisterAll registers all three writers and the numbered-sequence reader.
func RegisterAll(formats *avformat.Registry) {
	formats.RegisterOutput(SingleJPEGMuxer{})
	formats.RegisterOutput(MPJPEGMuxer{})
	formats.RegisterOutput(JPEGMuxer{})
	formats.RegisterInput(JPEGDemuxer{})
}
