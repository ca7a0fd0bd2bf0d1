package rdoc

// listNode is an RGA-style sequence: insert-after with tombstoned
// removals; concurrent inserts after the same reference order by
// descending id, so all replicas converge on one interleaving.

type listElem struct {
	id    ID
	value any
	dead  bool
}

type listNode struct {
	elems []listElem
}

func (l *listNode) snapshot() any {
	ret := make([]any, 0, len(l.elems))
	for i := range l.elems {
		if !l.elems[i].dead {
			ret = append(ret, l.elems[i].value)
		}
	}
	return ret
}

func (l *listNode) aliveLen() (n int) {
	for i := range l.elems {
		if !l.elems[i].dead {
			n++
		}
	}
	return
}

// aliveID resolves a visible index to the element id.
func (l *listNode) aliveID(idx int) (ID, bool) {
	for i := range l.elems {
		if l.elems[i].dead {
			continue
		}
		if idx == 0 {
			return l.elems[i].id, true
		}
		idx--
	}
	return ZeroID, false
}

func (l *listNode) aliveIDs(idx, n int) (ids []ID) {
	for i := range l.elems {
		if l.elems[i].dead {
			continue
		}
		if idx > 0 {
			idx--
			continue
		}
		if len(ids) == n {
			break
		}
		ids = append(ids, l.elems[i].id)
	}
	return
}

func (l *listNode) find(id ID) int {
	for i := range l.elems {
		if l.elems[i].id == id {
			return i
		}
	}
	return -1
}

func (l *listNode) aliveBefore(pos int) (n int) {
	for i := 0; i < pos; i++ {
		if !l.elems[i].dead {
			n++
		}
	}
	return
}

// insert integrates a ListInsert op. orphan means the reference element
// has not arrived yet and the op must wait.
func (l *listNode) insert(op Op) (visIdx int, orphan bool) {
	pos := 0
	if op.Ref != ZeroID {
		at := l.find(op.Ref)
		if at < 0 {
			return 0, true
		}
		pos = at + 1
	}
	for pos < len(l.elems) && op.ID.Less(l.elems[pos].id) {
		pos++
	}
	visIdx = l.aliveBefore(pos)
	l.elems = append(l.elems, listElem{})
	copy(l.elems[pos+1:], l.elems[pos:])
	l.elems[pos] = listElem{id: op.ID, value: op.Value}
	return visIdx, false
}

// remove integrates a ListRemove op; visible is false when the element
// was already a tombstone.
func (l *listNode) remove(op Op) (visIdx int, visible, orphan bool) {
	at := l.find(op.Elem)
	if at < 0 {
		return 0, false, true
	}
	if l.elems[at].dead {
		return 0, false, false
	}
	visIdx = l.aliveBefore(at)
	l.elems[at].dead = true
	l.elems[at].value = nil
	return visIdx, true, false
}
