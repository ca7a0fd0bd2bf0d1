package docsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync-io/docsync/rdoc"
)

func newTestObserver(t *testing.T) (*DocRef, *ViewObserver, <-chan ViewChange) {
	t.Helper()
	doc := NewDocRef(1)
	out := NewViewChangeBroadcast(64)
	obs := NewViewObserver(testLog, out)
	obs.Attach(doc)
	ch, cancel := out.Subscribe()
	t.Cleanup(cancel)
	return doc, obs, ch
}

func drainChanges(ch <-chan ViewChange) (ret []ViewChange) {
	for {
		select {
		case ev := <-ch:
			ret = append(ret, ev)
		default:
			return
		}
	}
}

func createView(doc *DocRef, viewID string) {
	doc.SetMap([]string{ViewsRoot}, viewID, map[string]any{
		"id":     viewID,
		"name":   "test view",
		"layout": "grid",
	})
}

func rowPath(viewID string) []string {
	return []string{ViewsRoot, viewID, KeyRowOrders}
}

func TestObserverViewLifecycle(t *testing.T) {
	doc, obs, ch := newTestObserver(t)

	createView(doc, "v1")
	changes := drainChanges(ch)
	require.Len(t, changes, 1)
	created, ok := changes[0].(ViewCreated)
	require.True(t, ok)
	assert.Equal(t, "v1", created.View.ID)
	assert.Equal(t, LayoutGrid, created.View.Layout)

	cached, ok := obs.CachedView("v1")
	require.True(t, ok)
	assert.Equal(t, "test view", cached.Name)

	doc.RemoveMap([]string{ViewsRoot}, "v1")
	changes = drainChanges(ch)
	require.Len(t, changes, 1)
	assert.Equal(t, ViewDeleted{ViewID: "v1"}, changes[0])
	_, ok = obs.CachedView("v1")
	assert.False(t, ok)
}

func TestObserverLayoutChange(t *testing.T) {
	doc, _, ch := newTestObserver(t)
	createView(doc, "v1")
	drainChanges(ch)

	doc.SetMap([]string{ViewsRoot, "v1"}, KeyLayout, "board")
	changes := drainChanges(ch)
	require.Len(t, changes, 2)
	updated, ok := changes[0].(ViewUpdated)
	require.True(t, ok)
	assert.Equal(t, "v1", updated.View.ID)
	assert.Equal(t, LayoutChanged{ViewID: "v1", Layout: LayoutBoard}, changes[1])

	// a non-layout key yields only the generic update
	doc.SetMap([]string{ViewsRoot, "v1"}, "name", "renamed")
	changes = drainChanges(ch)
	require.Len(t, changes, 1)
	updated = changes[0].(ViewUpdated)
	assert.Equal(t, "renamed", updated.View.Name)
}

func TestObserverFirstLayoutSet(t *testing.T) {
	doc, _, ch := newTestObserver(t)
	// view born without a layout key
	doc.SetMap([]string{ViewsRoot}, "v1", map[string]any{"id": "v1", "name": "bare"})
	drainChanges(ch)

	doc.SetMap([]string{ViewsRoot, "v1"}, KeyLayout, "board")
	changes := drainChanges(ch)
	require.Len(t, changes, 2)
	updated, ok := changes[0].(ViewUpdated)
	require.True(t, ok)
	assert.Equal(t, "v1", updated.View.ID)
	assert.Equal(t, LayoutChanged{ViewID: "v1", Layout: LayoutBoard}, changes[1])
}

func TestObserverRowOrders(t *testing.T) {
	doc, _, ch := newTestObserver(t)
	createView(doc, "v1")
	drainChanges(ch)

	doc.InsertAt(rowPath("v1"), 0,
		map[string]any{"id": "r1", "height": float64(60)},
		map[string]any{"id": "r2", "height": float64(90)},
	)
	changes := drainChanges(ch)
	require.Len(t, changes, 1)
	inserted, ok := changes[0].(RowOrdersInserted)
	require.True(t, ok)
	require.Len(t, inserted.RowOrders, 2)
	assert.Equal(t, RowOrder{ID: "r1", Height: 60}, inserted.RowOrders[0])
	assert.Equal(t, RowOrder{ID: "r2", Height: 90}, inserted.RowOrders[1])
}

func TestObserverRowDeleteIndices(t *testing.T) {
	doc, _, ch := newTestObserver(t)
	createView(doc, "v1")
	doc.InsertAt(rowPath("v1"), 0,
		map[string]any{"id": "a"},
		map[string]any{"id": "b"},
		map[string]any{"id": "c"},
	)
	drainChanges(ch)

	// delta [retain 1, removed 1] resolves to index {1}
	doc.RemoveAt(rowPath("v1"), 1, 1)
	changes := drainChanges(ch)
	require.Len(t, changes, 1)
	assert.Equal(t, RowsDeletedAt{Indices: []uint32{1}}, changes[0])

	// remaining [a c]: removing both reports one batched event
	doc.RemoveAt(rowPath("v1"), 0, 2)
	changes = drainChanges(ch)
	require.Len(t, changes, 1)
	assert.Equal(t, RowsDeletedAt{Indices: []uint32{0, 1}}, changes[0])
}

func TestObserverFiltersSortsGroups(t *testing.T) {
	doc, _, ch := newTestObserver(t)
	createView(doc, "v1")
	drainChanges(ch)

	doc.InsertAt([]string{ViewsRoot, "v1", KeyFilters}, 0, map[string]any{"field": "status"})
	doc.InsertAt([]string{ViewsRoot, "v1", KeySorts}, 0, map[string]any{"field": "name"})
	doc.InsertAt([]string{ViewsRoot, "v1", KeyGroups}, 0, map[string]any{"field": "owner"})
	changes := drainChanges(ch)
	require.Len(t, changes, 3)

	filters, ok := changes[0].(FiltersCreated)
	require.True(t, ok)
	assert.Equal(t, "v1", filters.ViewID)
	require.Len(t, filters.Filters, 1)
	assert.Equal(t, "status", filters.Filters[0]["field"])
	assert.IsType(t, SortsCreated{}, changes[1])
	assert.IsType(t, GroupsCreated{}, changes[2])

	doc.RemoveAt([]string{ViewsRoot, "v1", KeyFilters}, 0, 1)
	changes = drainChanges(ch)
	require.Len(t, changes, 1)
	assert.Equal(t, FilterUpdated{ViewID: "v1"}, changes[0])
}

func TestObserverFieldOrders(t *testing.T) {
	doc, _, ch := newTestObserver(t)
	createView(doc, "v1")
	drainChanges(ch)

	doc.InsertAt([]string{ViewsRoot, "v1", KeyFieldOrders}, 0,
		map[string]any{"id": "f1"},
		map[string]any{"id": "f2"},
	)
	changes := drainChanges(ch)
	require.Len(t, changes, 2)
	assert.Equal(t, FieldOrderCreated{ViewID: "v1", FieldOrder: FieldOrder{ID: "f1"}}, changes[0])
	assert.Equal(t, FieldOrderCreated{ViewID: "v1", FieldOrder: FieldOrder{ID: "f2"}}, changes[1])

	doc.RemoveAt([]string{ViewsRoot, "v1", KeyFieldOrders}, 0, 1)
	changes = drainChanges(ch)
	require.Len(t, changes, 1)
	assert.Equal(t, FieldOrderDeleted{ViewID: "v1"}, changes[0])
}

func TestObserverUnhandledKeyDropped(t *testing.T) {
	doc, _, ch := newTestObserver(t)
	createView(doc, "v1")
	drainChanges(ch)

	doc.InsertAt([]string{ViewsRoot, "v1", "calculations"}, 0, map[string]any{"id": "x"})
	assert.Empty(t, drainChanges(ch))
}

func TestObserverIgnoresForeignRegions(t *testing.T) {
	doc, _, ch := newTestObserver(t)
	doc.SetMap([]string{"meta"}, "title", "untracked")
	doc.InsertAt([]string{"rows"}, 0, "raw")
	assert.Empty(t, drainChanges(ch))
}

func TestObserverRemoteDeltaTranslation(t *testing.T) {
	// changes made on another replica arrive as an update blob and
	// translate exactly like local ones
	remote := NewDocRef(2)
	createView(remote, "v1")
	remote.InsertAt(rowPath("v1"), 0, map[string]any{"id": "r1"})

	doc, _, ch := newTestObserver(t)
	var diff []byte
	remote.With(func(d *rdoc.Doc) { diff = d.EncodeStateAsUpdate(make(rdoc.VV)) })
	doc.With(func(d *rdoc.Doc) { require.NoError(t, d.ApplyUpdate(diff)) })

	changes := drainChanges(ch)
	var sawView, sawRows bool
	for _, ev := range changes {
		switch e := ev.(type) {
		case ViewCreated:
			sawView = e.View.ID == "v1"
		case RowOrdersInserted:
			sawRows = len(e.RowOrders) == 1 && e.RowOrders[0].ID == "r1"
		}
	}
	assert.True(t, sawView)
	assert.True(t, sawRows)
}

func TestObserverEmptyDeleteKeySuppressed(t *testing.T) {
	out := NewViewChangeBroadcast(8)
	obs := NewViewObserver(testLog, out)
	ch, cancel := out.Subscribe()
	defer cancel()

	obs.HandleEvents([]rdoc.Event{&rdoc.MapEvent{
		Path: rdoc.Path{ViewsRoot},
		Keys: map[string]rdoc.EntryChange{
			"": {Kind: rdoc.EntryRemoved},
		},
	}})
	assert.Empty(t, drainChanges(ch))
}

func TestBroadcastDropsOldestOnLag(t *testing.T) {
	b := NewViewChangeBroadcast(2)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Send(ViewDeleted{ViewID: "1"})
	b.Send(ViewDeleted{ViewID: "2"})
	b.Send(ViewDeleted{ViewID: "3"}) // overflows, "1" is dropped

	got := drainChanges(ch)
	require.Len(t, got, 2)
	assert.Equal(t, ViewDeleted{ViewID: "2"}, got[0])
	assert.Equal(t, ViewDeleted{ViewID: "3"}, got[1])
}
