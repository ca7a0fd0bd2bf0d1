package rdoc

import (
	"errors"
	"slices"

	"github.com/learn-decentralized-systems/toytlv"
)

// An update blob is a sequence of 'O' op records. Updates are diffs, so
// they may overlap arbitrarily; dedup happens per op id on apply/merge.

var ErrBadUpdate = errors.New("bad update blob")

func EncodeOps(ops []Op) (blob []byte) {
	for i := range ops {
		blob = append(blob, ops[i].TLV()...)
	}
	return
}

func DecodeOps(blob []byte) (ops []Op, err error) {
	rest := blob
	for len(rest) > 0 {
		var body []byte
		body, rest, err = toytlv.TakeWary('O', rest)
		if err != nil {
			return nil, ErrBadUpdate
		}
		op, err := parseOp(body)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return
}

func sortOps(ops []Op) {
	slices.SortStableFunc(ops, func(a, b Op) int {
		if a.ID == b.ID {
			return 0
		}
		if a.ID.Less(b.ID) {
			return -1
		}
		return 1
	})
}

// MergeUpdates unions update blobs into one: dedup by op id, Lamport
// order. Associative and commutative, so pending sink messages can
// absorb new payloads in any grouping.
func MergeUpdates(blobs [][]byte) ([]byte, error) {
	var all []Op
	seen := make(map[ID]struct{})
	for _, blob := range blobs {
		ops, err := DecodeOps(blob)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			if _, ok := seen[op.ID]; ok {
				continue
			}
			seen[op.ID] = struct{}{}
			all = append(all, op)
		}
	}
	sortOps(all)
	return EncodeOps(all), nil
}
