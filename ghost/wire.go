package ghost

import "encoding/binary"

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt32(buf []byte, v int32) []byte { return appendUint32(buf, uint32(v)) }

func readUint32(buf []byte) (uint32, []byte) {
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:]
}

func readInt32(buf []byte) (int32, []byte) {
	v, rest := readUint32(buf)
	return int32(v), rest
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint64(buf []byte) (uint64, []byte) {
	return binary.LittleEndian.Uint64(buf[:8]), buf[8:]
}
