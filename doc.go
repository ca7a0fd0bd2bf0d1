package docsync

import (
	"sync"

	"github.com/docsync-io/docsync/rdoc"
)

// DocRef is the shared, lock-guarded handle over one document replica.
// The underlying rdoc.Doc is never exposed: every read and write goes
// through the scoped accessor, since the structure cannot be read while
// a mutation is in progress.
type DocRef struct {
	mu  sync.Mutex
	doc *rdoc.Doc
}

func NewDocRef(src uint64) *DocRef {
	return &DocRef{doc: rdoc.New(src)}
}

// With runs fn with the lock held. fn must not retain the doc or call
// back into this DocRef.
func (r *DocRef) With(fn func(*rdoc.Doc)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.doc)
}

// OnUpdate subscribes to update blobs produced by local mutations.
// Handlers run while the document lock is held and must not re-enter.
func (r *DocRef) OnUpdate(fn func([]byte)) {
	r.With(func(d *rdoc.Doc) {
		d.OnUpdate(fn)
	})
}

// Observe subscribes to deep structural events; same re-entrancy rule.
func (r *DocRef) Observe(fn func([]rdoc.Event)) {
	r.With(func(d *rdoc.Doc) {
		d.Observe(fn)
	})
}

func (r *DocRef) VersionVector() rdoc.VV {
	var vv rdoc.VV
	r.With(func(d *rdoc.Doc) {
		vv = d.VersionVector()
	})
	return vv
}

// Single-operation conveniences. Multi-step read-modify-write sequences
// should use With and hold the lock across the whole sequence.

func (r *DocRef) SetMap(path rdoc.Path, key string, value any) {
	r.With(func(d *rdoc.Doc) { d.SetMap(path, key, value) })
}

func (r *DocRef) RemoveMap(path rdoc.Path, key string) {
	r.With(func(d *rdoc.Doc) { d.RemoveMap(path, key) })
}

func (r *DocRef) InsertAt(path rdoc.Path, index int, values ...any) {
	r.With(func(d *rdoc.Doc) { d.InsertAt(path, index, values...) })
}

func (r *DocRef) RemoveAt(path rdoc.Path, index, n int) {
	r.With(func(d *rdoc.Doc) { d.RemoveAt(path, index, n) })
}

func (r *DocRef) GetMap(path rdoc.Path) (ret map[string]any, ok bool) {
	r.With(func(d *rdoc.Doc) { ret, ok = d.GetMap(path) })
	return
}

func (r *DocRef) GetList(path rdoc.Path) (ret []any, ok bool) {
	r.With(func(d *rdoc.Doc) { ret, ok = d.GetList(path) })
	return
}

func (r *DocRef) Get(path rdoc.Path, key string) (ret any, ok bool) {
	r.With(func(d *rdoc.Doc) { ret, ok = d.Get(path, key) })
	return
}

func (r *DocRef) ListLen(path rdoc.Path) (n int) {
	r.With(func(d *rdoc.Doc) {
		if list, ok := d.GetList(path); ok {
			n = len(list)
		}
	})
	return
}
