// Package imageseq implements the per-frame image-file formats of spec.md
// §4.5.6: PGM, PGMYUV, PPM, and Y/U/V-triplet raw video, each either as a
// numbered file sequence or, for the pipe variants, as frames multiplexed
// through a single byte-stream.
package imageseq

import (
	"bytes"
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

// pixFmt distinguishes the two raw layouts this package frames (spec.md
// §4.5.6): planar 4:2:0 YUV, or packed 24-bit RGB.
type pixFmt int

const (
	pixYUV420P pixFmt = iota
	pixRGB24
)

// kind selects the on-disk framing for one of the package's formats.
type kind int

const (
	kindPGM kind = iota
	kindPGMYUV
	kindPPM
	kindYUVTriplet
)

// Descriptor names one image-sequence format variant.
type Descriptor struct {
	Name       string
	Extensions string
	MimeType   string
	Kind       kind
	Pix        pixFmt
	IsPipe     bool
}

var (
	PGM         = Descriptor{Name: "pgm", Extensions: "pgm", MimeType: "image/x-portable-graymap", Kind: kindPGM, Pix: pixYUV420P}
	PGMYUV      = Descriptor{Name: "pgmyuv", Extensions: "pgm", MimeType: "image/x-portable-graymap", Kind: kindPGMYUV, Pix: pixYUV420P}
	PPM         = Descriptor{Name: "ppm", Extensions: "ppm", MimeType: "image/x-portable-pixmap", Kind: kindPPM, Pix: pixRGB24}
	YUVTriplet  = Descriptor{Name: "imgyuv", Extensions: "Y", MimeType: "video/x-raw-yuv", Kind: kindYUVTriplet, Pix: pixYUV420P}
	PGMPipe     = Descriptor{Name: "pgmpipe", Extensions: "pgm", MimeType: "image/x-portable-graymap", Kind: kindPGM, Pix: pixYUV420P, IsPipe: true}
	PGMYUVPipe  = Descriptor{Name: "pgmyuvpipe", Extensions: "pgm", MimeType: "image/x-portable-graymap", Kind: kindPGMYUV, Pix: pixYUV420P, IsPipe: true}
	PPMPipe     = Descriptor{Name: "ppmpipe", Extensions: "ppm", MimeType: "image/x-portable-pixmap", Kind: kindPPM, Pix: pixRGB24, IsPipe: true}

	// All lists every descriptor this package registers.
	All = []Descriptor{PGM, PGMYUV, PPM, YUVTriplet, PGMPipe, PGMYUVPipe, PPMPipe}
)

// frameFilename substitutes a printf-style "%d" (or width-qualified
// variant, e.g. "%03d") token in template with number, mirroring the
// source's get_frame_filename (spec.md testable property 10).
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

func frameSize(pix pixFmt, width, height int) int {
	if pix == pixRGB24 {
		return width * height * 3
	}
	return (width * height * 3) / 2
}

// state is VideoData.
type state struct {
	d           Descriptor
	width       int
	height      int
	imgNumber   int
	frameSize   int
}

// Muxer implements avformat.Muxer for one image-sequence variant.
type Muxer struct{ D Descriptor }

func (m Muxer) ShortName() string  { return m.D.Name }
func (m Muxer) Extensions() string { return m.D.Extensions }
func (m Muxer) MimeType() string   { return m.D.MimeType }
func (m Muxer) NeedsNumber() bool  { return !m.D.IsPipe }

func (m Muxer) WriteHeader(ctx context.Context, fc *avformat.FormatContext) error {
	fc.Priv = &state{d: m.D, imgNumber: 1}
	return nil
}

func (m Muxer) WritePacket(ctx context.Context, fc *avformat.FormatContext, pkt *avpacket.Packet) error {
	s := fc.Priv.(*state)
	st := fc.Stream(pkt.StreamIndex)
	if st == nil {
		return ioerr.NewProgrammerError("imageseq.WritePacket", nil)
	}
	width, height := st.Codec.Width, st.Codec.Height
	want := frameSize(s.d.Pix, width, height)
	if len(pkt.Data) != want {
		return ioerr.NewMalformedError("imageseq.WritePacket", fmt.Errorf("frame size %d, want %d", len(pkt.Data), want))
	}

	if s.d.Kind == kindYUVTriplet {
		if err := writeYUVTriplet(ctx, fc.Filename, s.imgNumber, pkt.Data, width, height); err != nil {
			return err
		}
		s.imgNumber++
		return nil
	}

	var bc *bytestream.Context
	if s.d.IsPipe {
		bc = fc.IOCtx
	} else {
		name := frameFilename(fc.Filename, s.imgNumber)
		u, err := urlproto.Default().Open(ctx, name, urlproto.WRONLY)
		if err != nil {
			return err
		}
		bc = bytestream.FdOpen(u, true)
		defer u.Close()
	}

	var err error
	switch s.d.Kind {
	case kindPGM:
		err = writePGM(ctx, bc, pkt.Data, width, height, false)
	case kindPGMYUV:
		err = writePGM(ctx, bc, pkt.Data, width, height, true)
	case kindPPM:
		err = writePPM(ctx, bc, pkt.Data, width, height)
	}
	if err != nil {
		return err
	}
	if err := bc.FlushPacket(ctx); err != nil {
		return err
	}
	s.imgNumber++
	return nil
}

func (m Muxer) WriteTrailer(ctx context.Context, fc *avformat.FormatContext) error { return nil }

func writePGM(ctx context.Context, bc *bytestream.Context, data []byte, width, height int, isYUV bool) error {
	h := height
	if isYUV {
		h = (height * 3) / 2
	}
	hdr := fmt.Sprintf("P5\n%d %d\n%d\n", width, h, 255)
	if err := bc.PutBuffer(ctx, []byte(hdr)); err != nil {
		return ioerr.NewIOError("imageseq.writePGM", err)
	}
	lumaSize := width * height
	if err := bc.PutBuffer(ctx, data[:lumaSize]); err != nil {
		return ioerr.NewIOError("imageseq.writePGM", err)
	}
	if isYUV {
		if err := bc.PutBuffer(ctx, data[lumaSize:]); err != nil {
			return ioerr.NewIOError("imageseq.writePGM", err)
		}
	}
	return nil
}

func writePPM(ctx context.Context, bc *bytestream.Context, data []byte, width, height int) error {
	hdr := fmt.Sprintf("P6\n%d %d\n%d\n", width, height, 255)
	if err := bc.PutBuffer(ctx, []byte(hdr)); err != nil {
		return ioerr.NewIOError("imageseq.writePPM", err)
	}
	if err := bc.PutBuffer(ctx, data); err != nil {
		return ioerr.NewIOError("imageseq.writePPM", err)
	}
	return nil
}

// writeYUVTriplet writes the three planes to filename.Y/.U/.V, mirroring
// the source's yuv_save; the muxer's filename template must carry a ".Y"
// extension for the substitution to locate the plane-letter position.
func writeYUVTriplet(ctx context.Context, template string, number int, data []byte, width, height int) error {
	name := frameFilename(template, number)
	if len(name) < 2 || name[len(name)-1] != 'Y' {
		return ioerr.NewMalformedError("imageseq.writeYUVTriplet", fmt.Errorf("filename %q must end in Y", name))
	}
	lumaSize := width * height
	chromaSize := lumaSize / 4
	planes := []struct {
		letter byte
		data   []byte
	}{
		{'Y', data[:lumaSize]},
		{'U', data[lumaSize : lumaSize+chromaSize]},
		{'V', data[lumaSize+chromaSize:]},
	}
	base := name[:len(name)-1]
	for _, p := range planes {
		u, err := urlproto.Default().Open(ctx, base+string(p.letter), urlproto.WRONLY)
		if err != nil {
			return err
		}
		bc := bytestream.FdOpen(u, true)
		werr := bc.PutBuffer(ctx, p.data)
		ferr := bc.FlushPacket(ctx)
		cerr := u.Close()
		if werr != nil {
			return ioerr.NewIOError("imageseq.writeYUVTriplet", werr)
		}
		if ferr != nil {
			return ferr
		}
		if cerr != nil {
			return ioerr.NewIOError("imageseq.writeYUVTriplet", cerr)
		}
	}
	return nil
}

// Demuxer implements avformat.Demuxer for one image-sequence variant.
type Demuxer struct{ D Descriptor }

func (d Demuxer) ShortName() string  { return d.D.Name }
func (d Demuxer) Extensions() string { return d.D.Extensions }
func (d Demuxer) MimeType() string   { return d.D.MimeType }

// knownSizes is the YUV-triplet dimension-inference table of spec.md
// §4.5.6 ("matching a small table of known W×H products"), grounded on
// the source's sizes[] table.
var knownSizes = [][2]int{
	{640, 480}, {720, 480}, {720, 576}, {352, 288}, {352, 240},
	{160, 128}, {512, 384}, {640, 352}, {640, 240},
}

func inferSize(byteSize int) (int, int, bool) {
	for _, wh := range knownSizes {
		if wh[0]*wh[1] == byteSize {
			return wh[0], wh[1], true
		}
	}
	return 0, 0, false
}

func (d Demuxer) ReadHeader(ctx context.Context, fc *avformat.FormatContext) error {
	st, err := fc.NewStream()
	if err != nil {
		return err
	}
	s := &state{d: d.D, imgNumber: 0}

	if d.D.Kind == kindYUVTriplet {
		if d.D.IsPipe {
			return ioerr.NewUnsupportedError("imageseq.ReadHeader", fmt.Errorf("Y/U/V triplet has no pipe variant"))
		}
		var u *urlproto.Context
		var opened bool
		for ; s.imgNumber < 5; s.imgNumber++ {
			name := frameFilename(fc.Filename, s.imgNumber)
			var oerr error
			u, oerr = urlproto.Default().Open(ctx, name, urlproto.RDONLY)
			if oerr == nil {
				opened = true
				break
			}
		}
		if !opened {
			return ioerr.NewIOError("imageseq.ReadHeader", fmt.Errorf("no frame found for template %q", fc.Filename))
		}
		end, serr := seekEnd(ctx, u)
		_ = u.Close()
		if serr != nil {
			return ioerr.NewIOError("imageseq.ReadHeader", serr)
		}
		w, h, ok := inferSize(int(end))
		if !ok {
			return ioerr.NewMalformedError("imageseq.ReadHeader", fmt.Errorf("no known size matches %d bytes", end))
		}
		s.width, s.height = w, h
		st.Codec.Type = codectags.CodecTypeVideo
		st.Codec.ID = codectags.IDRawVideo
		st.Codec.Width = s.width
		st.Codec.Height = s.height
		st.Codec.FrameRateNum = 25 * avformat.FrameRateBase
		s.frameSize = frameSize(d.D.Pix, s.width, s.height)
		fc.Priv = s
		return nil
	}

	var bc *bytestream.Context
	var closer func() error
	if d.D.IsPipe {
		bc = fc.IOCtx
	} else {
		var opened bool
		for ; s.imgNumber < 5; s.imgNumber++ {
			name := frameFilename(fc.Filename, s.imgNumber)
			u, oerr := urlproto.Default().Open(ctx, name, urlproto.RDONLY)
			if oerr == nil {
				bc = bytestream.FdOpen(u, false)
				closer = u.Close
				opened = true
				break
			}
		}
		if !opened {
			return ioerr.NewIOError("imageseq.ReadHeader", fmt.Errorf("no frame found for template %q", fc.Filename))
		}
	}

	switch d.D.Kind {
	case kindPGM, kindPGMYUV, kindPPM:
		tag, err := pnmGet(ctx, bc)
		if err != nil {
			return ioerr.NewIOError("imageseq.ReadHeader", err)
		}
		wantTag := "P5"
		if d.D.Kind == kindPPM {
			wantTag = "P6"
		}
		if tag != wantTag {
			return ioerr.NewMalformedError("imageseq.ReadHeader", fmt.Errorf("unexpected PNM tag %q", tag))
		}
		wStr, err := pnmGet(ctx, bc)
		if err != nil {
			return ioerr.NewIOError("imageseq.ReadHeader", err)
		}
		hStr, err := pnmGet(ctx, bc)
		if err != nil {
			return ioerr.NewIOError("imageseq.ReadHeader", err)
		}
		if _, err := pnmGet(ctx, bc); err != nil { // maxval
			return ioerr.NewIOError("imageseq.ReadHeader", err)
		}
		s.width, _ = strconv.Atoi(wStr)
		h, _ := strconv.Atoi(hStr)
		if d.D.Kind == kindPGMYUV {
			h = (h * 2) / 3
		}
		s.height = h
		if s.width <= 0 || s.height <= 0 || s.width%2 != 0 || s.height%2 != 0 {
			return ioerr.NewMalformedError("imageseq.ReadHeader", fmt.Errorf("invalid dimensions %dx%d", s.width, s.height))
		}
	}

	if !d.D.IsPipe && closer != nil {
		_ = closer()
	} else if d.D.IsPipe {
		if _, err := fc.IOCtx.Seek(ctx, 0, bytestream.SeekSet); err != nil {
			return ioerr.NewIOError("imageseq.ReadHeader", err)
		}
	}

	st.Codec.Type = codectags.CodecTypeVideo
	st.Codec.ID = codectags.IDRawVideo
	st.Codec.Width = s.width
	st.Codec.Height = s.height
	st.Codec.FrameRateNum = 25 * avformat.FrameRateBase
	s.frameSize = frameSize(d.D.Pix, s.width, s.height)
	fc.Priv = s
	return nil
}

// seekFileEnd is the raw POSIX SEEK_END value; urlproto.Seek forwards it
// untranslated to the underlying protocol (file.go passes it straight to
// unix.Seek).
const seekFileEnd = 2

func seekEnd(ctx context.Context, u *urlproto.Context) (int64, error) {
	return u.Seek(0, seekFileEnd)
}

func (d Demuxer) ReadPacket(ctx context.Context, fc *avformat.FormatContext) (*avpacket.Packet, error) {
	s := fc.Priv.(*state)

	if d.D.Kind == kindYUVTriplet {
		buf := make([]byte, s.frameSize)
		if err := readYUVTriplet(ctx, fc.Filename, s.imgNumber, buf, s.width, s.height); err != nil {
			return nil, ioerr.NewIOError("imageseq.ReadPacket", err)
		}
		pkt := avpacket.FromBytes(buf)
		pkt.StreamIndex = 0
		s.imgNumber++
		return pkt, nil
	}

	var bc *bytestream.Context
	var closer func() error
	if d.D.IsPipe {
		if fc.IOCtx.Eof() {
			return nil, ioerr.NewIOError("imageseq.ReadPacket", nil)
		}
		bc = fc.IOCtx
	} else {
		name := frameFilename(fc.Filename, s.imgNumber)
		u, err := urlproto.Default().Open(ctx, name, urlproto.RDONLY)
		if err != nil {
			return nil, ioerr.NewIOError("imageseq.ReadPacket", err)
		}
		bc = bytestream.FdOpen(u, false)
		closer = u.Close
	}

	buf := make([]byte, s.frameSize)
	var err error
	switch d.D.Kind {
	case kindPGM:
		err = readPGM(ctx, bc, buf, s.width, s.height, false)
	case kindPGMYUV:
		err = readPGM(ctx, bc, buf, s.width, s.height, true)
	case kindPPM:
		err = readPPM(ctx, bc, buf, s.width, s.height)
	}
	if closer != nil {
		_ = closer()
	}
	if err != nil {
		return nil, ioerr.NewIOError("imageseq.ReadPacket", err)
	}

	pkt := avpacket.FromBytes(buf)
	pkt.StreamIndex = 0
	s.imgNumber++
	return pkt, nil
}

func readPGM(ctx context.Context, bc *bytestream.Context, buf []byte, width, height int, isYUV bool) error {
	if _, err := pnmGet(ctx, bc); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if _, err := pnmGet(ctx, bc); err != nil {
			return err
		}
	}
	lumaSize := width * height
	if _, err := bc.GetBuffer(ctx, buf[:lumaSize]); err != nil {
		return err
	}
	cw, ch := width/2, height/2
	if isYUV {
		for i := 0; i < ch; i++ {
			off := lumaSize + i*cw
			if _, err := bc.GetBuffer(ctx, buf[off:off+cw]); err != nil {
				return err
			}
		}
		for i := 0; i < ch; i++ {
			off := lumaSize + (lumaSize/4) + i*cw
			if _, err := bc.GetBuffer(ctx, buf[off:off+cw]); err != nil {
				return err
			}
		}
	} else {
		for i := lumaSize; i < len(buf); i++ {
			buf[i] = 128
		}
	}
	return nil
}

func readPPM(ctx context.Context, bc *bytestream.Context, buf []byte, width, height int) error {
	if _, err := pnmGet(ctx, bc); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if _, err := pnmGet(ctx, bc); err != nil {
			return err
		}
	}
	_, err := bc.GetBuffer(ctx, buf)
	return err
}

func readYUVTriplet(ctx context.Context, template string, number int, buf []byte, width, height int) error {
	name := frameFilename(template, number)
	if len(name) < 2 || name[len(name)-1] != 'Y' {
		return fmt.Errorf("filename %q must end in Y", name)
	}
	lumaSize := width * height
	chromaSize := lumaSize / 4
	base := name[:len(name)-1]
	planes := []struct {
		letter byte
		buf    []byte
	}{
		{'Y', buf[:lumaSize]},
		{'U', buf[lumaSize : lumaSize+chromaSize]},
		{'V', buf[lumaSize+chromaSize:]},
	}
	for _, p := range planes {
		u, err := urlproto.Default().Open(ctx, base+string(p.letter), urlproto.RDONLY)
		if err != nil {
			return err
		}
		bc := bytestream.FdOpen(u, false)
		_, rerr := bc.GetBuffer(ctx, p.buf)
		cerr := u.Close()
		if rerr != nil {
			return rerr
		}
		if cerr != nil {
			return cerr
		}
	}
	return nil
}

func (d Demuxer) ReadClose(*avformat.FormatContext) error { return nil }

// pnmGet reads one whitespace-delimited PNM header token, skipping '#'
// comments to end-of-line, mirroring the source's pnm_get.
func pnmGet(ctx context.Context, bc *bytestream.Context) (string, error) {
	isSpace := func(c byte) bool { return c == ' ' || c == '\n' || c == '\r' || c == '\t' }

	var c byte
	var err error
	for {
		c, err = bc.GetByte(ctx)
		if err != nil {
			return "", err
		}
		if c == '#' {
			for c != '\n' {
				c, err = bc.GetByte(ctx)
				if err != nil {
					return "", err
				}
			}
			c, err = bc.GetByte(ctx)
			if err != nil {
				return "", err
			}
		}
		if !isSpace(c) {
			break
		}
	}

	var buf bytes.Buffer
	buf.WriteByte(c)
	for {
		if bc.Eof() {
			break
		}
		c, err = bc.GetByte(ctx)
		if err != nil {
			break
		}
		if isSpace(c) {
			break
		}
		buf.WriteByte(c)
	}
	return buf.String(), nil
}

// RegisterAll registers a Muxer and Demuxer for every descriptor in All.
func RegisterAll(formats *avformat.Registry) {
	for _, d := range All {
		formats.RegisterOutput(Muxer{D: d})
		if d.Kind != kindYUVTriplet || !d.IsPipe {
			formats.RegisterInput(Demuxer{D: d})
		}
	}
}
