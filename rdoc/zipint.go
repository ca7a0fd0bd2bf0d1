package rdoc

import "encoding/binary"

// Zipped ints: little-endian with trailing zero bytes dropped.

func byteLen(n uint64) int {
	l := 0
	for n != 0 {
		l++
		n >>= 8
	}
	return l
}

func ZipUint64(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:byteLen(v)]
}

func UnzipUint64(zip []byte) (v uint64) {
	var buf [8]byte
	copy(buf[:], zip)
	return binary.LittleEndian.Uint64(buf[:])
}

// ZipUint64Pair packs two ints; the first byte carries the length of the
// first int's encoding, the second int takes the rest.
func ZipUint64Pair(a, b uint64) []byte {
	za, zb := ZipUint64(a), ZipUint64(b)
	ret := make([]byte, 0, 1+len(za)+len(zb))
	ret = append(ret, byte(len(za)))
	ret = append(ret, za...)
	return append(ret, zb...)
}

func UnzipUint64Pair(zip []byte) (a, b uint64) {
	if len(zip) == 0 {
		return
	}
	alen := int(zip[0])
	if alen > len(zip)-1 {
		return
	}
	a = UnzipUint64(zip[1 : 1+alen])
	b = UnzipUint64(zip[1+alen:])
	return
}
