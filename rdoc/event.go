package rdoc

// Structural events delivered to deep observers after each transaction
// (one local mutation call or one applied update blob).

type Event interface {
	EventPath() Path
}

type ChangeKind byte

const (
	ChangeRetain ChangeKind = iota
	ChangeAdded
	ChangeRemoved
)

// Change is one entry of an array delta. Retain and Removed carry Len,
// Added carries the inserted values in document order.
type Change struct {
	Kind   ChangeKind
	Len    int
	Values []any
}

func Retain(n int) Change {
	return Change{Kind: ChangeRetain, Len: n}
}

func Added(values ...any) Change {
	return Change{Kind: ChangeAdded, Values: values}
}

func Removed(n int) Change {
	return Change{Kind: ChangeRemoved, Len: n}
}

type ArrayEvent struct {
	Path  Path
	Delta []Change
}

func (e *ArrayEvent) EventPath() Path { return e.Path }

type EntryKind byte

const (
	EntryInserted EntryKind = iota
	EntryUpdated
	EntryRemoved
)

type EntryChange struct {
	Kind  EntryKind
	Value any
}

// MapEvent reports changed keys of one map. Target is a snapshot of the
// owning map's visible content at the end of the transaction.
type MapEvent struct {
	Path   Path
	Target map[string]any
	Keys   map[string]EntryChange
}

func (e *MapEvent) EventPath() Path { return e.Path }
