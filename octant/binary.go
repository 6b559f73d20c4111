package octant

import "encoding/binary"

// InfoItemCount is the number of individual flag bytes spec §6.2 dumps for
// an octant's Info bitset (one byte per boundary/pbound face slot, plus the
// two adapt flags, padded to a round count).
const InfoItemCount = 16

// Bits expands Info into InfoItemCount single-byte flags (0 or 1), matching
// the on-disk layout named in spec §6.2.
func (i Info) Bits() [InfoItemCount]byte {
	var b [InfoItemCount]byte
	for k := 0; k < InfoItemCount; k++ {
		if i&(1<<uint(k)) != 0 {
			b[k] = 1
		}
	}
	return b
}

// InfoFromBits collapses InfoItemCount single-byte flags back into Info.
func InfoFromBits(b [InfoItemCount]byte) Info {
	var i Info
	for k := 0; k < InfoItemCount; k++ {
		if b[k] != 0 {
			i |= Info(1 << uint(k))
		}
	}
	return i
}

// EncodedSize is the fixed number of bytes EncodeBinary writes per octant:
// level(1) + x,y,z(4 each) + ghost_layer(4) + info bits(InfoItemCount) +
// balance_enabled(1) + marker(1).
const EncodedSize = 1 + 4*3 + 4 + InfoItemCount + 1 + 1

// EncodeBinary appends the wire representation of o to buf, matching the
// per-octant record of spec §6.2 (used both by the dump format and by the
// ghost-halo/load-balance exchanges, which move octants as plain byte
// payloads over comm.Group).
func (o Octant) EncodeBinary(buf []byte) []byte {
	buf = append(buf, byte(o.Level))
	buf = appendUint32(buf, o.X)
	buf = appendUint32(buf, o.Y)
	buf = appendUint32(buf, o.Z)
	buf = appendUint32(buf, uint32(int32(o.GhostLayer)))
	bits := o.Info.Bits()
	buf = append(buf, bits[:]...)
	bal := byte(0)
	if o.BalanceEnabled {
		bal = 1
	}
	buf = append(buf, bal)
	buf = append(buf, byte(o.Marker))
	return buf
}

// DecodeBinary reads one octant record (for the given dimension) from buf
// as produced by EncodeBinary, returning the octant and the remaining
// bytes.
func DecodeBinary(dim int, buf []byte) (Octant, []byte) {
	o := Octant{Dim: dim}
	o.Level = int8(buf[0])
	buf = buf[1:]
	o.X, buf = readUint32(buf)
	o.Y, buf = readUint32(buf)
	o.Z, buf = readUint32(buf)
	var gl uint32
	gl, buf = readUint32(buf)
	o.GhostLayer = int8(int32(gl))
	var bits [InfoItemCount]byte
	copy(bits[:], buf[:InfoItemCount])
	buf = buf[InfoItemCount:]
	o.Info = InfoFromBits(bits)
	o.BalanceEnabled = buf[0] == 1
	buf = buf[1:]
	o.Marker = int8(buf[0])
	buf = buf[1:]
	return o, buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(buf []byte) (uint32, []byte) {
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:]
}
