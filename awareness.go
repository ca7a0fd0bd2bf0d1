package docsync

import (
	"errors"
	"sync"
	"time"

	"github.com/docsync-io/docsync/rdoc"
	"github.com/docsync-io/docsync/utils"
	"github.com/learn-decentralized-systems/toytlv"
)

// Awareness is the ephemeral presence CRDT kept beside a document: a
// map of client id to an opaque state blob plus a per-client logical
// clock. Conflict resolution is last-write-wins per source client; no
// ordering across clients is guaranteed or required. Nothing here is
// persisted.
type Awareness struct {
	mu       sync.Mutex
	clientID uint64
	clients  map[uint64]*awarenessEntry

	handlers utils.CMap[int, AwarenessHandler]
	hseq     int
}

type awarenessEntry struct {
	state    []byte
	clock    uint64
	lastSeen time.Time
}

// AwarenessState is a queryable snapshot of one client's presence.
type AwarenessState struct {
	State []byte
	Clock uint64
}

type AwarenessEvent struct {
	Updated []uint64
	Removed []uint64
}

// AwarenessHandler receives the change sets plus the encoded update
// carrying exactly the changed client entries (the minimal diff).
type AwarenessHandler func(ev AwarenessEvent, update []byte)

func NewAwareness(clientID uint64) *Awareness {
	return &Awareness{
		clientID: clientID,
		clients:  make(map[uint64]*awarenessEntry),
	}
}

func (a *Awareness) ClientID() uint64 {
	return a.clientID
}

// OnUpdate registers a handler; the returned func unregisters it.
func (a *Awareness) OnUpdate(fn AwarenessHandler) (cancel func()) {
	a.mu.Lock()
	a.hseq++
	key := a.hseq
	a.mu.Unlock()
	a.handlers.Store(key, fn)
	return func() {
		a.handlers.Delete(key)
	}
}

// SetLocalState bumps the local clock and broadcasts only the local
// entry. A nil state is a removal on the wire, so it cleans instead.
func (a *Awareness) SetLocalState(state []byte) {
	if state == nil {
		a.CleanLocalState()
		return
	}
	a.mu.Lock()
	e, ok := a.clients[a.clientID]
	if !ok {
		e = &awarenessEntry{}
		a.clients[a.clientID] = e
	}
	e.clock++
	e.state = state
	e.lastSeen = time.Now()
	update := a.encode(a.clientID)
	a.mu.Unlock()

	a.fire(AwarenessEvent{Updated: []uint64{a.clientID}}, update)
}

// CleanLocalState removes the local entry; the removed set of the
// emitted event is exactly the local client id.
func (a *Awareness) CleanLocalState() {
	a.mu.Lock()
	e, ok := a.clients[a.clientID]
	if !ok {
		a.mu.Unlock()
		return
	}
	e.clock++
	e.state = nil
	update := a.encode(a.clientID)
	delete(a.clients, a.clientID)
	a.mu.Unlock()

	a.fire(AwarenessEvent{Removed: []uint64{a.clientID}}, update)
}

func (a *Awareness) LocalState() ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.clients[a.clientID]
	if !ok {
		return nil, false
	}
	return e.state, true
}

// Clients returns a snapshot of all live entries.
func (a *Awareness) Clients() map[uint64]AwarenessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	ret := make(map[uint64]AwarenessState, len(a.clients))
	for id, e := range a.clients {
		ret[id] = AwarenessState{State: e.state, Clock: e.clock}
	}
	return ret
}

// Update encodes the full client map for a late joiner.
func (a *Awareness) Update() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]uint64, 0, len(a.clients))
	for id := range a.clients {
		ids = append(ids, id)
	}
	return a.encode(ids...)
}

var ErrBadAwarenessUpdate = errors.New("bad awareness update")

// ApplyUpdate merges remote entries, last-write-wins per client clock,
// and emits an event with the updated/removed client id sets.
func (a *Awareness) ApplyUpdate(update []byte) error {
	type change struct {
		client  uint64
		clock   uint64
		state   []byte
		removed bool
	}
	var changes []change

	rest := update
	for len(rest) > 0 {
		body, r, err := toytlv.TakeWary('A', rest)
		if err != nil {
			return ErrBadAwarenessUpdate
		}
		rest = r
		idb, body, err := toytlv.TakeWary('I', body)
		if err != nil {
			return ErrBadAwarenessUpdate
		}
		clock, client := rdoc.UnzipUint64Pair(idb)
		c := change{client: client, clock: clock, removed: true}
		if len(body) > 0 {
			state, _, err := toytlv.TakeWary('S', body)
			if err != nil {
				return ErrBadAwarenessUpdate
			}
			c.state = state
			c.removed = false
		}
		changes = append(changes, c)
	}

	var ev AwarenessEvent
	var diff []byte
	a.mu.Lock()
	for _, c := range changes {
		e, ok := a.clients[c.client]
		if ok && c.clock <= e.clock {
			continue
		}
		if c.removed {
			if ok {
				delete(a.clients, c.client)
				ev.Removed = append(ev.Removed, c.client)
				diff = append(diff, encodeEntry(c.client, c.clock, nil)...)
			}
			continue
		}
		if !ok {
			e = &awarenessEntry{}
			a.clients[c.client] = e
		}
		e.clock = c.clock
		e.state = c.state
		e.lastSeen = time.Now()
		ev.Updated = append(ev.Updated, c.client)
		diff = append(diff, encodeEntry(c.client, c.clock, c.state)...)
	}
	a.mu.Unlock()

	if diff != nil {
		a.fire(ev, diff)
	}
	return nil
}

// RemoveOutdated garbage-collects remote entries not refreshed within
// maxAge. The local entry is only ever removed by CleanLocalState.
func (a *Awareness) RemoveOutdated(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	var ev AwarenessEvent
	a.mu.Lock()
	for id, e := range a.clients {
		if id == a.clientID || !e.lastSeen.Before(cutoff) {
			continue
		}
		delete(a.clients, id)
		ev.Removed = append(ev.Removed, id)
	}
	a.mu.Unlock()

	if len(ev.Removed) > 0 {
		a.fire(ev, nil)
	}
}

// encode serializes the named live entries. Callers hold the lock.
func (a *Awareness) encode(ids ...uint64) (update []byte) {
	for _, id := range ids {
		e, ok := a.clients[id]
		if !ok {
			continue
		}
		update = append(update, encodeEntry(id, e.clock, e.state)...)
	}
	return
}

// encodeEntry emits one 'A' record; nil state marks a removed client.
func encodeEntry(client, clock uint64, state []byte) []byte {
	body := toytlv.Record('I', rdoc.ZipUint64Pair(clock, client))
	if state != nil {
		body = append(body, toytlv.Record('S', state)...)
	}
	return toytlv.Record('A', body)
}

func (a *Awareness) fire(ev AwarenessEvent, update []byte) {
	a.handlers.Range(func(_ int, fn AwarenessHandler) bool {
		fn(ev, update)
		return true
	})
}
