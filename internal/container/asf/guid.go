// Package asf implements the ASF muxer and demuxer of spec.md §4.5.3: a
// GUID-tagged header of nested objects followed by fixed-3200-byte data
// packets carrying fragmented frames, per-fragment stream/sequence/offset
// bookkeeping, and fragment reassembly on read.
package asf

import (
	"context"

	"github.com/alxayo/go-container/internal/bytestream"
)

// GUID is ASF's 128-bit object identifier, stored on disk as
// u32 LE, u16 LE, u16 LE, 8 raw bytes (spec.md §3 "GUID").
type GUID struct {
	V1 uint32
	V2 uint16
	V3 uint16
	V4 [8]byte
}

func (g GUID) Equal(o GUID) bool {
	return g.V1 == o.V1 && g.V2 == o.V2 && g.V3 == o.V3 && g.V4 == o.V4
}

func putGUID(ctx context.Context, bc *bytestream.Context, g GUID) error {
	if err := bc.PutLE32(ctx, g.V1); err != nil {
		return err
	}
	if err := bc.PutLE16(ctx, g.V2); err != nil {
		return err
	}
	if err := bc.PutLE16(ctx, g.V3); err != nil {
		return err
	}
	return bc.PutBuffer(ctx, g.V4[:])
}

func getGUID(ctx context.Context, bc *bytestream.Context) (GUID, error) {
	var g GUID
	v1, err := bc.GetLE32(ctx)
	if err != nil {
		return g, err
	}
	v2, err := bc.GetLE16(ctx)
	if err != nil {
		return g, err
	}
	v3, err := bc.GetLE16(ctx)
	if err != nil {
		return g, err
	}
	if _, err := bc.GetBuffer(ctx, g.V4[:]); err != nil {
		return g, err
	}
	g.V1, g.V2, g.V3 = v1, v2, v3
	return g, nil
}

// Well-known GUIDs, bit-exact Microsoft ASF object identifiers (spec.md
// §4.5.3).
var (
	asfHeader = GUID{0x75B22630, 0x668E, 0x11CF, [8]byte{0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}}

	fileHeader = GUID{0x8CABDCA1, 0xA947, 0x11CF, [8]byte{0x8E, 0xE4, 0x00, 0xC0, 0x0C, 0x20, 0x53, 0x65}}

	streamHeader = GUID{0xB7DC0791, 0xA9B7, 0x11CF, [8]byte{0x8E, 0xE6, 0x00, 0xC0, 0x0C, 0x20, 0x53, 0x65}}

	audioStream = GUID{0xF8699E40, 0x5B4D, 0x11CF, [8]byte{0xA8, 0xFD, 0x00, 0x80, 0x5F, 0x5C, 0x44, 0x2B}}

	audioConcealNone = GUID{0x49F1A440, 0x4ECE, 0x11D0, [8]byte{0xA3, 0xAC, 0x00, 0xA0, 0xC9, 0x03, 0x48, 0xF6}}

	videoStream = GUID{0xBC19EFC0, 0x5B4D, 0x11CF, [8]byte{0xA8, 0xFD, 0x00, 0x80, 0x5F, 0x5C, 0x44, 0x2B}}

	videoConcealNone = GUID{0x20FB5700, 0x5B55, 0x11CF, [8]byte{0xA8, 0xFD, 0x00, 0x80, 0x5F, 0x5C, 0x44, 0x2B}}

	commentHeader = GUID{0x75B22633, 0x668E, 0x11CF, [8]byte{0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}}

	codecCommentHeader = GUID{0x86D15240, 0x311D, 0x11D0, [8]byte{0xA3, 0xA4, 0x00, 0xA0, 0xC9, 0x03, 0x48, 0xF6}}

	codecComment1Header = GUID{0x86D15241, 0x311D, 0x11D0, [8]byte{0xA3, 0xA4, 0x00, 0xA0, 0xC9, 0x03, 0x48, 0xF6}}

	dataHeader = GUID{0x75B22636, 0x668E, 0x11CF, [8]byte{0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}}

	indexGUID = GUID{0x33000890, 0xE5B1, 0x11CF, [8]byte{0x89, 0xF4, 0x00, 0xA0, 0xC9, 0x03, 0x49, 0xCB}}

	head1GUID = GUID{0x5FBF03B5, 0xA92E, 0x11CF, [8]byte{0x8E, 0xE3, 0x00, 0xC0, 0x0C, 0x20, 0x53, 0x65}}

	head2GUID = GUID{0xABD3D211, 0xA9BA, 0x11CF, [8]byte{0x8E, 0xE6, 0x00, 0xC0, 0x0C, 0x20, 0x53, 0x65}}

	// myGUID identifies the encoding host; no stable identity is available
	// to us, so it is always written zeroed.
	myGUID = GUID{}
)
