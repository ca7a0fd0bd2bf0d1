package docsync

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync-io/docsync/store"
)

var fastSink = SinkConfig{AckTimeout: 20 * time.Millisecond}

func TestRemoteDocRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemStore()
	objectID := NewObjectID()

	// replica 1 edits, then reconciles against the empty remote
	doc1 := NewDocRef(1)
	createView(doc1, "v1")
	doc1.InsertAt(rowPath("v1"), 0, map[string]any{"id": "r1"})

	r1 := NewRemoteDoc(objectID, backend, &SeqCounter{}, fastSink, testLog)
	defer r1.Close()
	r1.Sync(ctx, doc1)

	// the push travels through the sink asynchronously
	require.Eventually(t, func() bool {
		return backend.UpdateCount(objectID) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// replica 2 starts cold and pulls everything
	doc2 := NewDocRef(2)
	r2 := NewRemoteDoc(objectID, backend, &SeqCounter{}, fastSink, testLog)
	defer r2.Close()
	r2.Sync(ctx, doc2)

	rows, ok := doc2.GetList(rowPath("v1"))
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "r1", rows[0].(map[string]any)["id"])

	view1, _ := doc1.GetMap([]string{ViewsRoot, "v1"})
	view2, _ := doc2.GetMap([]string{ViewsRoot, "v1"})
	assert.Equal(t, view1, view2)
}

func TestRemoteDocBidirectionalSync(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemStore()
	objectID := NewObjectID()

	doc1 := NewDocRef(1)
	createView(doc1, "v1")
	r1 := NewRemoteDoc(objectID, backend, &SeqCounter{}, fastSink, testLog)
	defer r1.Close()
	r1.Sync(ctx, doc1)
	require.Eventually(t, func() bool {
		return backend.UpdateCount(objectID) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// replica 2 pulls the view, adds a row on top, pushes it back
	doc2 := NewDocRef(2)
	r2 := NewRemoteDoc(objectID, backend, &SeqCounter{}, fastSink, testLog)
	defer r2.Close()
	r2.Sync(ctx, doc2)
	stored := backend.UpdateCount(objectID)
	doc2.InsertAt(rowPath("v1"), 0, map[string]any{"id": "r2"})
	r2.Sync(ctx, doc2)
	require.Eventually(t, func() bool {
		return backend.UpdateCount(objectID) > stored
	}, 2*time.Second, 5*time.Millisecond)

	r1.Sync(ctx, doc1)
	rows, ok := doc1.GetList(rowPath("v1"))
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "r2", rows[0].(map[string]any)["id"])
}

func TestRemoteDocPushUpdateMergesIntoSink(t *testing.T) {
	backend := store.NewMemStore()
	objectID := NewObjectID()

	doc := NewDocRef(1)
	r := NewRemoteDoc(objectID, backend, &SeqCounter{}, fastSink, testLog)
	defer r.Close()
	doc.OnUpdate(r.PushUpdate)

	createView(doc, "v1")
	doc.InsertAt(rowPath("v1"), 0, map[string]any{"id": "r1"})
	doc.InsertAt(rowPath("v1"), 1, map[string]any{"id": "r2"})

	require.Eventually(t, func() bool {
		return r.sink.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)
	// three edits, at most three stored messages (fewer when merged)
	count := backend.UpdateCount(objectID)
	assert.Greater(t, count, 0)
	assert.LessOrEqual(t, count, 3)

	doc2 := NewDocRef(2)
	r2 := NewRemoteDoc(objectID, backend, &SeqCounter{}, fastSink, testLog)
	defer r2.Close()
	r2.Sync(context.Background(), doc2)
	rows, _ := doc2.GetList(rowPath("v1"))
	assert.Len(t, rows, 2)
}

// flakyStore fails the first few sends, then recovers.
type flakyStore struct {
	*store.MemStore
	failures int
}

func (f *flakyStore) SendUpdate(ctx context.Context, objectID string, id MsgID, update []byte) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("transient backend failure")
	}
	return f.MemStore.SendUpdate(ctx, objectID, id, update)
}

func TestRemoteDocRetriesUntilStored(t *testing.T) {
	backend := &flakyStore{MemStore: store.NewMemStore(), failures: 2}
	objectID := NewObjectID()

	doc := NewDocRef(1)
	r := NewRemoteDoc(objectID, backend, &SeqCounter{}, SinkConfig{AckTimeout: 10 * time.Millisecond}, testLog)
	defer r.Close()
	doc.OnUpdate(r.PushUpdate)

	createView(doc, "v1")
	require.Eventually(t, func() bool {
		return backend.UpdateCount(objectID) == 1 && r.sink.Pending() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRemoteDocSkipsCorruptHistory(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemStore()
	objectID := NewObjectID()

	doc1 := NewDocRef(1)
	createView(doc1, "v1")
	r1 := NewRemoteDoc(objectID, backend, &SeqCounter{}, fastSink, testLog)
	defer r1.Close()
	r1.Sync(ctx, doc1)
	require.Eventually(t, func() bool {
		return backend.UpdateCount(objectID) > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, backend.SendUpdate(ctx, objectID, 999, []byte("corrupt blob")))

	doc2 := NewDocRef(2)
	r2 := NewRemoteDoc(objectID, backend, &SeqCounter{}, fastSink, testLog)
	defer r2.Close()
	r2.Sync(ctx, doc2)

	// the good history still lands
	_, ok := doc2.GetMap([]string{ViewsRoot, "v1"})
	assert.True(t, ok)
}

func TestSpaceWiring(t *testing.T) {
	backend := store.NewMemStore()
	space := NewSpace(NewClientID(), backend, fastSink, testLog)
	defer space.CloseAll()

	objectID := NewObjectID()
	od := space.Open(objectID)
	assert.Same(t, od, space.Open(objectID))

	ch, cancel := od.Changes.Subscribe()
	defer cancel()

	createView(od.Doc, "v1")
	ev := <-ch
	created, ok := ev.(ViewCreated)
	require.True(t, ok)
	assert.Equal(t, "v1", created.View.ID)

	// the edit reaches the backend without an explicit sync call
	require.Eventually(t, func() bool {
		return backend.UpdateCount(objectID) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// a second client space converges through the shared backend
	peer := NewSpace(NewClientID(), backend, fastSink, testLog)
	defer peer.CloseAll()
	peer.Sync(context.Background(), objectID)
	view, ok := peer.Open(objectID).Doc.GetMap([]string{ViewsRoot, "v1"})
	require.True(t, ok)
	assert.Equal(t, "v1", view["id"])

	space.Close(objectID)
	_, loaded := space.docs.Load(objectID)
	assert.False(t, loaded)
}
