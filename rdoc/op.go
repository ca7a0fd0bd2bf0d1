package rdoc

import (
	"encoding/json"
	"errors"

	"github.com/learn-decentralized-systems/toytlv"
)

type OpKind byte

const (
	OpMapSet     OpKind = 'M'
	OpMapRemove  OpKind = 'R'
	OpListInsert OpKind = 'I'
	OpListRemove OpKind = 'D'
)

// Path addresses a node in the document tree by map keys, root first.
type Path []string

func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Op is a single document mutation. Inserted list elements are identified
// by the op's own id; Ref is the predecessor element (ZeroID for head);
// Elem names the victim of a list removal.
type Op struct {
	ID    ID
	Kind  OpKind
	Path  Path
	Key   string
	Ref   ID
	Elem  ID
	Value any
}

var ErrBadOpRecord = errors.New("bad O record")

// Op record layout, all fields TLV inside an 'O' envelope:
// I id, K kind, P path (nested S records), S key, R ref, E elem, V json.
func (op *Op) TLV() []byte {
	body := toytlv.Record('I', op.ID.ZipBytes())
	body = append(body, toytlv.Record('K', []byte{byte(op.Kind)})...)
	var path []byte
	for _, seg := range op.Path {
		path = toytlv.Append(path, 'S', []byte(seg))
	}
	body = append(body, toytlv.Record('P', path)...)
	switch op.Kind {
	case OpMapSet:
		body = append(body, toytlv.Record('S', []byte(op.Key))...)
		body = append(body, toytlv.Record('V', mustJSON(op.Value))...)
	case OpMapRemove:
		body = append(body, toytlv.Record('S', []byte(op.Key))...)
	case OpListInsert:
		body = append(body, toytlv.Record('R', op.Ref.ZipBytes())...)
		body = append(body, toytlv.Record('V', mustJSON(op.Value))...)
	case OpListRemove:
		body = append(body, toytlv.Record('E', op.Elem.ZipBytes())...)
	}
	return toytlv.Record('O', body)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}

func parseOp(body []byte) (op Op, err error) {
	idb, rest, err := toytlv.TakeWary('I', body)
	if err != nil {
		return op, ErrBadOpRecord
	}
	op.ID = IDFromZipBytes(idb)
	kind, rest, err := toytlv.TakeWary('K', rest)
	if err != nil || len(kind) != 1 {
		return op, ErrBadOpRecord
	}
	op.Kind = OpKind(kind[0])
	path, rest, err := toytlv.TakeWary('P', rest)
	if err != nil {
		return op, ErrBadOpRecord
	}
	for len(path) > 0 {
		var seg []byte
		seg, path, err = toytlv.TakeWary('S', path)
		if err != nil {
			return op, ErrBadOpRecord
		}
		op.Path = append(op.Path, string(seg))
	}
	switch op.Kind {
	case OpMapSet:
		var key, val []byte
		if key, rest, err = toytlv.TakeWary('S', rest); err != nil {
			return op, ErrBadOpRecord
		}
		op.Key = string(key)
		if val, _, err = toytlv.TakeWary('V', rest); err != nil {
			return op, ErrBadOpRecord
		}
		if err = json.Unmarshal(val, &op.Value); err != nil {
			return op, ErrBadOpRecord
		}
	case OpMapRemove:
		var key []byte
		if key, _, err = toytlv.TakeWary('S', rest); err != nil {
			return op, ErrBadOpRecord
		}
		op.Key = string(key)
	case OpListInsert:
		var ref, val []byte
		if ref, rest, err = toytlv.TakeWary('R', rest); err != nil {
			return op, ErrBadOpRecord
		}
		op.Ref = IDFromZipBytes(ref)
		if val, _, err = toytlv.TakeWary('V', rest); err != nil {
			return op, ErrBadOpRecord
		}
		if err = json.Unmarshal(val, &op.Value); err != nil {
			return op, ErrBadOpRecord
		}
	case OpListRemove:
		var elem []byte
		if elem, _, err = toytlv.TakeWary('E', rest); err != nil {
			return op, ErrBadOpRecord
		}
		op.Elem = IDFromZipBytes(elem)
	default:
		return op, ErrBadOpRecord
	}
	return op, nil
}
