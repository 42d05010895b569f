package store

import (
	"encoding/binary"
	"hash/crc32"
)

// HeaderSize is the fixed length of the prefix written before every
// record payload.
const HeaderSize = 16

// Header precedes the payload on the medium. All fields are little-endian.
type Header struct {
	Magic    uint32
	Version  uint16
	Size     uint16
	Hash     uint32
	Reserved uint32
}

func (h Header) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	binary.LittleEndian.PutUint16(dst[4:6], h.Version)
	binary.LittleEndian.PutUint16(dst[6:8], h.Size)
	binary.LittleEndian.PutUint32(dst[8:12], h.Hash)
	binary.LittleEndian.PutUint32(dst[12:16], h.Reserved)
}

func decodeHeader(src []byte) Header {
	return Header{
		Magic:    binary.LittleEndian.Uint32(src[0:4]),
		Version:  binary.LittleEndian.Uint16(src[4:6]),
		Size:     binary.LittleEndian.Uint16(src[6:8]),
		Hash:     binary.LittleEndian.Uint32(src[8:12]),
		Reserved: binary.LittleEndian.Uint32(src[12:16]),
	}
}

func checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
