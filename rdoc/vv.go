package rdoc

import (
	"errors"
	"slices"

	"github.com/learn-decentralized-systems/toytlv"
)

// VV is a version vector, max seqs seen from each known replica.
type VV map[uint64]uint64

func (vv VV) Get(src uint64) (seq uint64) {
	return vv[src]
}

// Put the src-seq pair to the VV, returns whether it was
// unseen (i.e. made any difference).
func (vv VV) Put(src, seq uint64) bool {
	pre, ok := vv[src]
	if ok && pre >= seq {
		return false
	}
	vv[src] = seq
	return true
}

// Adds the id to the VV, returns whether it was unseen.
func (vv VV) PutID(id ID) bool {
	return vv.Put(id.Src(), uint64(id.Seq()))
}

// Covers is whether the id falls within the seen range.
func (vv VV) Covers(id ID) bool {
	return uint64(id.Seq()) <= vv[id.Src()]
}

// Seen is whether every entry of bb is covered by this VV.
func (vv VV) Seen(bb VV) bool {
	for src, seq := range bb {
		if seq > vv[src] {
			return false
		}
	}
	return true
}

// InterestOver lists the sources where this VV is ahead of b,
// with b's progress as the values (i.e. what b still needs).
func (vv VV) InterestOver(b VV) VV {
	ahead := make(VV)
	for src, seq := range vv {
		bseq, ok := b[src]
		if !ok || seq > bseq {
			ahead[src] = bseq
		}
	}
	return ahead
}

func (vv VV) Copy() VV {
	ret := make(VV, len(vv))
	for src, seq := range vv {
		ret[src] = seq
	}
	return ret
}

func (vv VV) sources() []uint64 {
	srcs := make([]uint64, 0, len(vv))
	for src := range vv {
		srcs = append(srcs, src)
	}
	slices.Sort(srcs)
	return srcs
}

// TLV Vv record, nil for empty.
func (vv VV) TLV() (ret []byte) {
	for _, src := range vv.sources() {
		ret = toytlv.Append(ret, 'V', ZipUint64Pair(vv[src], src))
	}
	return
}

var ErrBadVRecord = errors.New("bad V record")

// consumes: Vv record
func (vv VV) PutTLV(rec []byte) (err error) {
	rest := rec
	for len(rest) > 0 {
		var val []byte
		val, rest, err = toytlv.TakeWary('V', rest)
		if err != nil {
			return ErrBadVRecord
		}
		seq, src := UnzipUint64Pair(val)
		vv.Put(src, seq)
	}
	return
}
