package audio

import "encoding/binary"

// StripWAVHeader returns the payload of the data chunk when b starts with a
// RIFF/WAVE container, walking the chunk headers to locate it. Synthesis
// providers sometimes wrap responses in a container despite a raw format
// request. Input that is not a recognizable container, or is truncated or
// malformed partway through, is returned unchanged.
func StripWAVHeader(b []byte) []byte {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return b
	}
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		if size < 0 {
			return b
		}
		body := off + 8
		if id == "data" {
			end := body + size
			if end > len(b) {
				end = len(b)
			}
			return b[body:end]
		}
		// chunks are word-aligned
		off = body + size + (size & 1)
	}
	return b
}
