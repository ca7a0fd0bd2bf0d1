package docsync

import "sync"

// ViewChange is the closed set of semantic events derived from raw
// structural deltas. Consumers type-switch exhaustively; there is no
// string-keyed dispatch.
type ViewChange interface {
	isViewChange()
}

type ViewCreated struct{ View *View }
type ViewUpdated struct{ View *View }
type ViewDeleted struct{ ViewID string }

type LayoutChanged struct {
	ViewID string
	Layout Layout
}

type RowOrdersInserted struct{ RowOrders []RowOrder }

// RowsDeletedAt reports the visible indices removed by one delta batch.
type RowsDeletedAt struct{ Indices []uint32 }

type FiltersCreated struct {
	ViewID  string
	Filters []AnyMap
}
type FilterUpdated struct{ ViewID string }

type SortsCreated struct {
	ViewID string
	Sorts  []AnyMap
}
type SortUpdated struct{ ViewID string }

type GroupsCreated struct {
	ViewID string
	Groups []AnyMap
}
type GroupUpdated struct{ ViewID string }

type FieldOrderCreated struct {
	ViewID     string
	FieldOrder FieldOrder
}
type FieldOrderDeleted struct{ ViewID string }

func (ViewCreated) isViewChange()       {}
func (ViewUpdated) isViewChange()       {}
func (ViewDeleted) isViewChange()       {}
func (LayoutChanged) isViewChange()     {}
func (RowOrdersInserted) isViewChange() {}
func (RowsDeletedAt) isViewChange()     {}
func (FiltersCreated) isViewChange()    {}
func (FilterUpdated) isViewChange()     {}
func (SortsCreated) isViewChange()      {}
func (SortUpdated) isViewChange()       {}
func (GroupsCreated) isViewChange()     {}
func (GroupUpdated) isViewChange()      {}
func (FieldOrderCreated) isViewChange() {}
func (FieldOrderDeleted) isViewChange() {}

// ViewChangeBroadcast fans ViewChange events out to any number of
// subscribers. Delivery is lossy on lag: when a subscriber's buffer is
// full the oldest event is dropped, so slow consumers miss events
// rather than stall the document transaction.
type ViewChangeBroadcast struct {
	mu   sync.Mutex
	subs map[int]chan ViewChange
	next int
	buf  int
}

func NewViewChangeBroadcast(buf int) *ViewChangeBroadcast {
	if buf <= 0 {
		buf = 64
	}
	return &ViewChangeBroadcast{subs: make(map[int]chan ViewChange), buf: buf}
}

func (b *ViewChangeBroadcast) Subscribe() (<-chan ViewChange, func()) {
	ch := make(chan ViewChange, b.buf)
	b.mu.Lock()
	b.next++
	key := b.next
	b.subs[key] = ch
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, key)
		b.mu.Unlock()
	}
}

func (b *ViewChangeBroadcast) Send(ev ViewChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch: // drop the oldest
				default:
				}
				continue
			}
			break
		}
	}
}
