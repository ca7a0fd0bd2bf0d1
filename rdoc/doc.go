package rdoc

import (
	"strings"
)

// Doc is one replica of a structured document: a tree of LWW maps and
// RGA lists addressed by string paths. Every local mutation is one
// transaction producing one update blob and one event batch; applying a
// remote update produces an event batch only.
//
// Doc is not safe for concurrent use. Callers serialize access through a
// lock-guarded handle; the structure cannot be read during mutation.
type Doc struct {
	src   uint64
	clock uint32

	vv   VV
	seen map[ID]struct{}
	log  []Op
	root *mapNode

	// remote list ops whose reference element has not arrived yet
	orphans []Op

	subs []func([]Event)
	upds []func([]byte)
}

func New(src uint64) *Doc {
	return &Doc{
		src:  src,
		vv:   make(VV),
		seen: make(map[ID]struct{}),
		root: newMapNode(),
	}
}

func (d *Doc) Src() uint64 {
	return d.src
}

// Observe subscribes fn to deep structural events. Events fire
// synchronously at the end of each transaction.
func (d *Doc) Observe(fn func([]Event)) {
	d.subs = append(d.subs, fn)
}

// OnUpdate subscribes fn to update blobs produced by local mutations.
// Remotely applied updates are not echoed.
func (d *Doc) OnUpdate(fn func([]byte)) {
	d.upds = append(d.upds, fn)
}

func (d *Doc) VersionVector() VV {
	return d.vv.Copy()
}

// EncodeStateAsUpdate returns the minimal diff: every op the given
// version vector has not seen, in Lamport order. Nil when sv is current.
func (d *Doc) EncodeStateAsUpdate(sv VV) []byte {
	var ops []Op
	for _, op := range d.log {
		if !sv.Covers(op.ID) {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil
	}
	sortOps(ops)
	return EncodeOps(ops)
}

// ApplyUpdate integrates a remote update blob. A blob that does not
// decode fails as a whole; individual ops are deduplicated by id.
func (d *Doc) ApplyUpdate(blob []byte) error {
	ops, err := DecodeOps(blob)
	if err != nil {
		return err
	}
	tx := newTxnEvents()
	for _, op := range ops {
		d.integrateRemote(op, tx)
	}
	d.flushOrphans(tx)
	d.fireEvents(tx.flush())
	return nil
}

func (d *Doc) integrateRemote(op Op, tx *txnEvents) {
	if _, ok := d.seen[op.ID]; ok {
		return
	}
	d.seen[op.ID] = struct{}{}
	d.vv.PutID(op.ID)
	d.log = append(d.log, op)
	if op.ID.Seq() > d.clock {
		d.clock = op.ID.Seq()
	}
	if orphan := d.applyToTree(op, tx); orphan {
		d.orphans = append(d.orphans, op)
	}
}

func (d *Doc) flushOrphans(tx *txnEvents) {
	for progress := true; progress && len(d.orphans) > 0; {
		progress = false
		rest := d.orphans[:0]
		for _, op := range d.orphans {
			if orphan := d.applyToTree(op, tx); orphan {
				rest = append(rest, op)
			} else {
				progress = true
			}
		}
		d.orphans = rest
	}
}

func (d *Doc) applyToTree(op Op, tx *txnEvents) (orphan bool) {
	switch op.Kind {
	case OpMapSet:
		m, ok := d.resolveMap(op.Path, op.ID)
		if !ok {
			return false
		}
		kind, applied := m.set(op.Key, valueToNode(op.Value, op.ID), op.ID)
		if applied {
			cur, _ := m.get(op.Key)
			tx.addMapChange(op.Path, m, op.Key, kind, cur.snapshot())
		}
	case OpMapRemove:
		m, ok := d.resolveMap(op.Path, op.ID)
		if !ok {
			return false
		}
		visible, applied := m.remove(op.Key, op.ID)
		if applied && visible {
			tx.addMapChange(op.Path, m, op.Key, EntryRemoved, nil)
		}
	case OpListInsert:
		l, ok := d.resolveList(op.Path, op.ID)
		if !ok {
			return false
		}
		visIdx, orphaned := l.insert(op)
		if orphaned {
			return true
		}
		tx.addArrayEvent(op.Path, arrayDelta(visIdx, Added(op.Value)))
	case OpListRemove:
		l, ok := d.resolveList(op.Path, op.ID)
		if !ok {
			return false
		}
		visIdx, visible, orphaned := l.remove(op)
		if orphaned {
			return true
		}
		if visible {
			tx.addArrayEvent(op.Path, arrayDelta(visIdx, Removed(1)))
		}
	}
	return false
}

// resolveMap walks path segments from the root, materializing missing
// maps on the way. Fails when a segment is held by a newer tombstone or
// a newer non-map node, so resolution order cannot change the outcome.
func (d *Doc) resolveMap(path Path, stamp ID) (*mapNode, bool) {
	m := d.root
	for _, seg := range path {
		e, ok := m.entries[seg]
		if !ok {
			child := newMapNode()
			m.entries[seg] = &mapEntry{n: child, stamp: stamp}
			m = child
			continue
		}
		if e.dead {
			if stamp.Less(e.stamp) {
				return nil, false
			}
			child := newMapNode()
			e.n, e.stamp, e.dead = child, stamp, false
			m = child
			continue
		}
		child, ok := e.n.(*mapNode)
		if !ok {
			if stamp.Less(e.stamp) {
				return nil, false
			}
			child = newMapNode()
			e.n, e.stamp = child, stamp
		}
		m = child
	}
	return m, true
}

func (d *Doc) resolveList(path Path, stamp ID) (*listNode, bool) {
	if len(path) == 0 {
		return nil, false
	}
	m, ok := d.resolveMap(path[:len(path)-1], stamp)
	if !ok {
		return nil, false
	}
	seg := path[len(path)-1]
	e, ok := m.entries[seg]
	if !ok {
		l := &listNode{}
		m.entries[seg] = &mapEntry{n: l, stamp: stamp}
		return l, true
	}
	if e.dead {
		if stamp.Less(e.stamp) {
			return nil, false
		}
		l := &listNode{}
		e.n, e.stamp, e.dead = l, stamp, false
		return l, true
	}
	l, ok := e.n.(*listNode)
	if !ok {
		if stamp.Less(e.stamp) {
			return nil, false
		}
		l = &listNode{}
		e.n, e.stamp = l, stamp
	}
	return l, true
}

// --- local mutations ---

func (d *Doc) newID() ID {
	d.clock++
	return MakeID(d.src, d.clock)
}

func (d *Doc) commitLocal(ops []Op, events []Event) {
	for _, op := range ops {
		d.seen[op.ID] = struct{}{}
		d.vv.PutID(op.ID)
		d.log = append(d.log, op)
	}
	blob := EncodeOps(ops)
	for _, fn := range d.upds {
		fn(blob)
	}
	d.fireEvents(events)
}

// SetMap writes a key of the map at path. JSON object values materialize
// as nested maps, so a whole view can land in one op.
func (d *Doc) SetMap(path Path, key string, value any) {
	op := Op{ID: d.newID(), Kind: OpMapSet, Path: path, Key: key, Value: value}
	tx := newTxnEvents()
	d.applyToTree(op, tx)
	d.commitLocal([]Op{op}, tx.flush())
}

func (d *Doc) RemoveMap(path Path, key string) {
	op := Op{ID: d.newID(), Kind: OpMapRemove, Path: path, Key: key}
	tx := newTxnEvents()
	d.applyToTree(op, tx)
	d.commitLocal([]Op{op}, tx.flush())
}

// InsertAt inserts values into the list at path before the given visible
// index (clamped to the end).
func (d *Doc) InsertAt(path Path, index int, values ...any) {
	if len(values) == 0 {
		return
	}
	l, ok := d.resolveList(path, MakeID(d.src, d.clock+1))
	if !ok {
		return
	}
	if n := l.aliveLen(); index > n {
		index = n
	}
	ref := ZeroID
	if index > 0 {
		ref, _ = l.aliveID(index - 1)
	}
	ops := make([]Op, 0, len(values))
	for _, v := range values {
		op := Op{ID: d.newID(), Kind: OpListInsert, Path: path, Ref: ref, Value: v}
		l.insert(op)
		ops = append(ops, op)
		ref = op.ID
	}
	events := []Event{&ArrayEvent{Path: path, Delta: arrayDelta(index, Added(values...))}}
	d.commitLocal(ops, events)
}

// RemoveAt removes n visible elements starting at index.
func (d *Doc) RemoveAt(path Path, index, n int) {
	l, ok := d.resolveList(path, MakeID(d.src, d.clock+1))
	if !ok {
		return
	}
	ids := l.aliveIDs(index, n)
	if len(ids) == 0 {
		return
	}
	ops := make([]Op, 0, len(ids))
	for _, elem := range ids {
		op := Op{ID: d.newID(), Kind: OpListRemove, Path: path, Elem: elem}
		l.remove(op)
		ops = append(ops, op)
	}
	events := []Event{&ArrayEvent{Path: path, Delta: arrayDelta(index, Removed(len(ids)))}}
	d.commitLocal(ops, events)
}

func (d *Doc) fireEvents(events []Event) {
	if len(events) == 0 {
		return
	}
	for _, fn := range d.subs {
		fn(events)
	}
}

// --- queries ---

func (d *Doc) GetMap(path Path) (map[string]any, bool) {
	n, ok := d.lookup(path)
	if !ok {
		return nil, false
	}
	m, ok := n.(*mapNode)
	if !ok {
		return nil, false
	}
	return m.snapshot().(map[string]any), true
}

func (d *Doc) GetList(path Path) ([]any, bool) {
	n, ok := d.lookup(path)
	if !ok {
		return nil, false
	}
	l, ok := n.(*listNode)
	if !ok {
		return nil, false
	}
	return l.snapshot().([]any), true
}

func (d *Doc) Get(path Path, key string) (any, bool) {
	n, ok := d.lookup(path)
	if !ok {
		return nil, false
	}
	m, ok := n.(*mapNode)
	if !ok {
		return nil, false
	}
	v, ok := m.get(key)
	if !ok {
		return nil, false
	}
	return v.snapshot(), true
}

func (d *Doc) lookup(path Path) (node, bool) {
	var n node = d.root
	for _, seg := range path {
		m, ok := n.(*mapNode)
		if !ok {
			return nil, false
		}
		if n, ok = m.get(seg); !ok {
			return nil, false
		}
	}
	return n, true
}

// --- transaction event collection ---

func arrayDelta(index int, change Change) []Change {
	if index > 0 {
		return []Change{Retain(index), change}
	}
	return []Change{change}
}

type pendingMapEvent struct {
	ev     *MapEvent
	target *mapNode
}

type txnEvents struct {
	events []Event
	maps   map[string]*pendingMapEvent
}

func newTxnEvents() *txnEvents {
	return &txnEvents{maps: make(map[string]*pendingMapEvent)}
}

func pathKey(path Path) string {
	return strings.Join(path, "\x1f")
}

func (tx *txnEvents) addMapChange(path Path, target *mapNode, key string, kind EntryKind, value any) {
	pk := pathKey(path)
	p, ok := tx.maps[pk]
	if !ok {
		p = &pendingMapEvent{
			ev:     &MapEvent{Path: path, Keys: make(map[string]EntryChange)},
			target: target,
		}
		tx.maps[pk] = p
		tx.events = append(tx.events, p.ev)
	}
	p.ev.Keys[key] = EntryChange{Kind: kind, Value: value}
}

func (tx *txnEvents) addArrayEvent(path Path, delta []Change) {
	tx.events = append(tx.events, &ArrayEvent{Path: path, Delta: delta})
}

// flush snapshots map targets as of transaction end.
func (tx *txnEvents) flush() []Event {
	for _, p := range tx.maps {
		p.ev.Target = p.target.snapshot().(map[string]any)
	}
	return tx.events
}
