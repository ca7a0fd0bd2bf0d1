package rdoc

import "fmt"

// ID is an operation/element identifier: source replica id in the high
// 32 bits, Lamport sequence number in the low 32 bits. IDs order by
// sequence first, source second (see Less), so the numeric uint64 order
// is NOT the causal order.
type ID uint64

const ZeroID = ID(0)

func MakeID(src uint64, seq uint32) ID {
	return ID(src<<32 | uint64(seq))
}

func (id ID) Src() uint64 {
	return uint64(id) >> 32
}

func (id ID) Seq() uint32 {
	return uint32(id)
}

// Less is the Lamport order: sequence first, source breaks ties.
func (id ID) Less(other ID) bool {
	if id.Seq() != other.Seq() {
		return id.Seq() < other.Seq()
	}
	return id.Src() < other.Src()
}

func (id ID) ZipBytes() []byte {
	return ZipUint64Pair(uint64(id.Seq()), id.Src())
}

func IDFromZipBytes(zip []byte) ID {
	seq, src := UnzipUint64Pair(zip)
	return MakeID(src, uint32(seq))
}

func (id ID) String() string {
	return fmt.Sprintf("%x-%x", id.Src(), id.Seq())
}
