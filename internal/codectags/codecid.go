// Package codectags holds the static codec-id <-> fourcc/tag dictionaries
// shared across ASF/AVI/WAV/MOV/AU, per spec.md §2 item 4 and §4. Table
// order is part of the contract: on write, the first matching entry for a
// codec id is authoritative (spec.md Data Model, "CodecTag").
package codectags

// ID is the library-internal codec identifier, distinct from any on-disk
// fourcc or tag (spec.md GLOSSARY).
type ID int

const (
	IDNone ID = iota

	// Video
	IDMPEG1Video
	IDMPEG2Video
	IDH263
	IDMJPEG
	IDRawVideo
	IDMSMPEG4V3 // "DIV3"-style fourcc family
	IDH264

	// Audio
	IDPCMS16LE
	IDPCMS16BE
	IDPCMU8
	IDPCMS8
	IDPCMALaw
	IDPCMMuLaw
	IDMP2
	IDMP3
	IDAC3
	IDVorbis
	IDAAC
)

func (id ID) String() string {
	switch id {
	case IDNone:
		return "none"
	case IDMPEG1Video:
		return "mpeg1video"
	case IDMPEG2Video:
		return "mpeg2video"
	case IDH263:
		return "h263"
	case IDMJPEG:
		return "mjpeg"
	case IDRawVideo:
		return "rawvideo"
	case IDMSMPEG4V3:
		return "msmpeg4v3"
	case IDH264:
		return "h264"
	case IDPCMS16LE:
		return "pcm_s16le"
	case IDPCMS16BE:
		return "pcm_s16be"
	case IDPCMU8:
		return "pcm_u8"
	case IDPCMS8:
		return "pcm_s8"
	case IDPCMALaw:
		return "pcm_alaw"
	case IDPCMMuLaw:
		return "pcm_mulaw"
	case IDMP2:
		return "mp2"
	case IDMP3:
		return "mp3"
	case IDAC3:
		return "ac3"
	case IDVorbis:
		return "vorbis"
	case IDAAC:
		return "aac"
	default:
		return "unknown"
	}
}

// CodecType classifies a stream's payload kind (spec.md §3 Stream).
type CodecType int

const (
	CodecTypeUnknown CodecType = iota
	CodecTypeAudio
	CodecTypeVideo
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeAudio:
		return "audio"
	case CodecTypeVideo:
		return "video"
	default:
		return "unknown"
	}
}
