package codectags

// MKTAG packs four ASCII bytes into a fourcc the way every RIFF/MOV-family
// container does: little-endian u32 (spec.md GLOSSARY "fourcc").
func MKTAG(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Tag is a (codec id, on-disk tag) pair. Tag may be a packed fourcc
// (BMP/AVI/MOV) or a small numeric format code (WAV/AU).
type Tag struct {
	ID  ID
	Tag uint32
}

// BMPTags maps codec ids to the AVI/BMP "biCompression" fourcc, used by the
// AVI muxer/demuxer's strf chunk. Order matters: GetTag returns the first
// match for a given id.
var BMPTags = []Tag{
	{IDRawVideo, 0}, // BI_RGB
	{IDMJPEG, MKTAG('M', 'J', 'P', 'G')},
	{IDMJPEG, MKTAG('m', 'j', 'p', 'g')},
	{IDH263, MKTAG('H', '2', '6', '3')},
	{IDH263, MKTAG('U', '2', '6', '3')},
	{IDMSMPEG4V3, MKTAG('D', 'I', 'V', '3')},
	{IDMPEG1Video, MKTAG('M', 'P', 'E', 'G')},
	{IDMPEG1Video, MKTAG('P', 'I', 'M', '1')},
	{IDH264, MKTAG('H', '2', '6', '4')},
	{IDH264, MKTAG('a', 'v', 'c', '1')},
}

// WAVTags maps codec ids to the WAVEFORMATEX wFormatTag value. bits/sample
// additionally disambiguates the PCM family (tag 1 with bps 8 -> PCM_U8,
// bps 16 -> PCM_S16LE), handled by WAVCodecGetID below rather than by a
// second table column, matching spec.md §4.5.1.
var WAVTags = []Tag{
	{IDPCMS16LE, 0x0001}, // WAVE_FORMAT_PCM; disambiguated by bits/sample on read
	{IDMP3, 0x0055},
	{IDMP2, 0x0050},
	{IDPCMALaw, 0x0006},
	{IDPCMMuLaw, 0x0007},
	{IDAC3, 0x2000},
	{IDAAC, 0x00FF},
}

// AUTags maps codec ids to the Sun AU on-disk format code (spec.md §4.5.6).
var AUTags = []Tag{
	{IDPCMMuLaw, 1},
	{IDPCMS8, 2},
	{IDPCMS16BE, 3},
	{IDPCMALaw, 27},
}

// MOVVideoTags maps codec ids to MOV/MP4 stsd sample description fourccs.
var MOVVideoTags = []Tag{
	{IDRawVideo, MKTAG('r', 'a', 'w', ' ')},
	{IDMJPEG, MKTAG('m', 'j', 'p', 'a')},
	{IDMJPEG, MKTAG('j', 'p', 'e', 'g')},
	{IDH263, MKTAG('h', '2', '6', '3')},
	{IDH264, MKTAG('a', 'v', 'c', '1')},
	{IDMPEG1Video, MKTAG('m', 'p', 'e', 'g')},
}

// MOVAudioTags maps codec ids to MOV/MP4 stsd sample description fourccs.
var MOVAudioTags = []Tag{
	{IDPCMS16BE, MKTAG('t', 'w', 'o', 's')},
	{IDPCMS16LE, MKTAG('s', 'o', 'w', 't')},
	{IDPCMMuLaw, MKTAG('u', 'l', 'a', 'w')},
	{IDPCMALaw, MKTAG('a', 'l', 'a', 'w')},
	{IDMP3, MKTAG('.', 'm', 'p', '3')},
	{IDAC3, MKTAG('a', 'c', '-', '3')},
	{IDAAC, MKTAG('m', 'p', '4', 'a')},
}

// GetTag returns the on-disk tag for the first table entry matching id, and
// false if id has no entry (spec.md §8 property 4: first-occurrence wins).
func GetTag(table []Tag, id ID) (uint32, bool) {
	for _, t := range table {
		if t.ID == id {
			return t.Tag, true
		}
	}
	return 0, false
}

// GetID returns the codec id for the first table entry matching tag.
func GetID(table []Tag, tag uint32) (ID, bool) {
	for _, t := range table {
		if t.Tag == tag {
			return t.ID, true
		}
	}
	return IDNone, false
}

// WAVCodecGetID resolves a WAVEFORMATEX (tag, bits-per-sample) pair to a
// codec id, handling the PCM family's bits-per-sample disambiguation that a
// flat tag table cannot express (spec.md §4.5.1).
func WAVCodecGetID(tag uint16, bitsPerSample int) ID {
	if tag == 0x0001 {
		switch bitsPerSample {
		case 8:
			return IDPCMU8
		case 16:
			return IDPCMS16LE
		default:
			return IDPCMS16LE
		}
	}
	id, _ := GetID(WAVTags, uint32(tag))
	return id
}
