package docsync

import (
	"context"
	"sync"

	"github.com/docsync-io/docsync/rdoc"
	"github.com/docsync-io/docsync/utils"
	"github.com/learn-decentralized-systems/toyqueue"
)

// Storage is the remote history service this engine syncs against.
// SendUpdate success is what triggers the ack on the sink; its failure
// is observable only as an absent ack.
type Storage interface {
	GetAllUpdates(ctx context.Context, objectID string) (toyqueue.Records, error)
	SendUpdate(ctx context.Context, objectID string, id MsgID, update []byte) error
}

// RemoteDoc reconciles a local replica against remote-stored history.
// It keeps a mirror replica of the remote state; Sync closes the gap in
// both directions and later edits flow only through PushUpdate, which
// always routes via the sink.
type RemoteDoc struct {
	objectID string
	storage  Storage
	mirror   *DocRef
	sink     *Sink
	log      utils.Logger

	msgs   chan *Message
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRemoteDoc(objectID string, storage Storage, counter MsgIDCounter, conf SinkConfig, log utils.Logger) *RemoteDoc {
	msgs := make(chan *Message, 64)
	r := &RemoteDoc{
		objectID: objectID,
		storage:  storage,
		mirror:   NewDocRef(0),
		log:      log,
		msgs:     msgs,
	}
	r.sink = NewSink(objectID, counter, conf, log, func(m *Message) {
		select {
		case msgs <- m:
		default:
			// the bridge is wedged on a slow SendUpdate; the retry
			// timer will re-offer the same message
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.sink.Run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.bridge(ctx)
	}()
	return r
}

// bridge moves dispatched messages into the storage backend and acks
// the sink on success.
func (r *RemoteDoc) bridge(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.msgs:
			payload, err := m.Payload()
			if err != nil {
				r.log.Error("remote: failed to merge message payload", "msg", m.String(), "err", err)
				continue
			}
			if err := r.storage.SendUpdate(ctx, m.ObjectID, m.ID, payload); err != nil {
				r.log.Error("remote: send update failed", "msg", m.String(), "err", err)
				continue
			}
			r.log.Debug("remote: ack update", "msg_id", m.ID)
			r.sink.Ack(m.ID)
		}
	}
}

// Sync reconciles local against the remote history:
//  1. fetch all stored updates and fold them into the mirror,
//  2. apply the mirror's advantage over local to local,
//  3. apply local's advantage over the mirror to the mirror and push it
//     out through the sink.
//
// A single blob that fails to decode is logged and skipped; sync
// continues with the remaining history.
func (r *RemoteDoc) Sync(ctx context.Context, local *DocRef) {
	updates, err := r.storage.GetAllUpdates(ctx, r.objectID)
	if err != nil {
		r.log.Error("remote: failed to get updates", "object", r.objectID, "err", err)
		updates = nil
	}

	if len(updates) > 0 {
		r.mirror.With(func(d *rdoc.Doc) {
			for _, blob := range updates {
				if err := d.ApplyUpdate(blob); err != nil {
					SyncSkippedUpdates.WithLabelValues(r.objectID).Inc()
					r.log.Error("remote: failed to decode update", "object", r.objectID, "err", err)
				}
			}
		})

		// remote -> local
		localVV := local.VersionVector()
		var down []byte
		r.mirror.With(func(d *rdoc.Doc) {
			down = d.EncodeStateAsUpdate(localVV)
		})
		if down != nil {
			local.With(func(d *rdoc.Doc) {
				if err := d.ApplyUpdate(down); err != nil {
					r.log.Error("remote: failed to apply remote diff", "object", r.objectID, "err", err)
				}
			})
		}
	}

	// local -> remote
	mirrorVV := r.mirror.VersionVector()
	var up []byte
	local.With(func(d *rdoc.Doc) {
		up = d.EncodeStateAsUpdate(mirrorVV)
	})
	if up == nil {
		return
	}
	r.mirror.With(func(d *rdoc.Doc) {
		if err := d.ApplyUpdate(up); err != nil {
			r.log.Error("remote: failed to apply local diff", "object", r.objectID, "err", err)
		}
	})
	r.PushUpdate(up)
}

// PushUpdate hands a local update to the sink; it never bypasses the
// sink's ordering or merging.
func (r *RemoteDoc) PushUpdate(update []byte) {
	r.sink.EnqueueOrMerge(
		func(m *Message) {
			m.Merge(update)
		},
		func(id MsgID) *Message {
			return NewMessage(r.objectID, id, update)
		},
	)
}

// Mirror exposes the mirror replica handle (read-only use).
func (r *RemoteDoc) Mirror() *DocRef {
	return r.mirror
}

func (r *RemoteDoc) Close() {
	r.sink.Close()
	r.cancel()
	r.wg.Wait()
}
