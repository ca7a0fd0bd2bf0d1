package rdoc

// Document tree nodes. A map entry keeps its LWW stamp even after
// removal, so late writes from slow replicas lose deterministically.

type node interface {
	snapshot() any
}

type scalarNode struct {
	value any
}

func (s *scalarNode) snapshot() any { return s.value }

type mapEntry struct {
	n     node
	stamp ID
	dead  bool
}

type mapNode struct {
	entries map[string]*mapEntry
}

func newMapNode() *mapNode {
	return &mapNode{entries: make(map[string]*mapEntry)}
}

func (m *mapNode) snapshot() any {
	ret := make(map[string]any, len(m.entries))
	for key, e := range m.entries {
		if e.dead {
			continue
		}
		ret[key] = e.n.snapshot()
	}
	return ret
}

func (m *mapNode) get(key string) (node, bool) {
	e, ok := m.entries[key]
	if !ok || e.dead {
		return nil, false
	}
	return e.n, true
}

// set applies an LWW write; applied is false when an existing stamp wins.
func (m *mapNode) set(key string, n node, stamp ID) (kind EntryKind, applied bool) {
	e, ok := m.entries[key]
	if !ok {
		m.entries[key] = &mapEntry{n: n, stamp: stamp}
		return EntryInserted, true
	}
	if stamp.Less(e.stamp) {
		return 0, false
	}
	kind = EntryUpdated
	if e.dead {
		kind = EntryInserted
	}
	e.n, e.stamp, e.dead = n, stamp, false
	return kind, true
}

// remove tombstones the entry; visible reports whether a live value went away.
func (m *mapNode) remove(key string, stamp ID) (visible, applied bool) {
	e, ok := m.entries[key]
	if !ok {
		m.entries[key] = &mapEntry{stamp: stamp, dead: true}
		return false, true
	}
	if stamp.Less(e.stamp) {
		return false, false
	}
	visible = !e.dead
	e.n, e.stamp, e.dead = nil, stamp, true
	return visible, true
}

// valueToNode materializes an op value: JSON objects become nested maps
// (every entry stamped with the creating op), everything else a scalar.
func valueToNode(value any, stamp ID) node {
	obj, ok := value.(map[string]any)
	if !ok {
		return &scalarNode{value: value}
	}
	m := newMapNode()
	for key, v := range obj {
		m.entries[key] = &mapEntry{n: valueToNode(v, stamp), stamp: stamp}
	}
	return m
}
