package docsync

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/docsync-io/docsync/utils"
)

// Space holds the open documents of one client: for each object id a
// local replica, its remote sync coordinator, the view translator and
// an awareness engine, wired together.
type Space struct {
	clientID uint64
	storage  Storage
	conf     SinkConfig
	log      utils.Logger

	docs *xsync.MapOf[string, *OpenDoc]
}

type OpenDoc struct {
	ObjectID  string
	Doc       *DocRef
	Remote    *RemoteDoc
	Changes   *ViewChangeBroadcast
	Views     *ViewObserver
	Awareness *Awareness
}

func NewSpace(clientID uint64, storage Storage, conf SinkConfig, log utils.Logger) *Space {
	conf.SetDefaults()
	return &Space{
		clientID: clientID,
		storage:  storage,
		conf:     conf,
		log:      log,
		docs:     xsync.NewMapOf[string, *OpenDoc](),
	}
}

func NewObjectID() string {
	return uuid.NewString()
}

// NewClientID mints a random replica/client id. Ids stay within 32 bits
// because they ride in the source half of every operation id.
func NewClientID() uint64 {
	for {
		u := uuid.New()
		if id := uint64(binary.BigEndian.Uint32(u[:4])); id != 0 {
			return id
		}
	}
}

// Open returns the wired document for the object id, creating it on
// first use. Local edits flow DocRef -> RemoteDoc sink automatically.
func (s *Space) Open(objectID string) *OpenDoc {
	od, _ := s.docs.LoadOrCompute(objectID, func() *OpenDoc {
		doc := NewDocRef(s.clientID)
		remote := NewRemoteDoc(objectID, s.storage, NewTimeSeededCounter(), s.conf, s.log)
		doc.OnUpdate(remote.PushUpdate)

		changes := NewViewChangeBroadcast(0)
		views := NewViewObserver(s.log, changes)
		views.Attach(doc)

		return &OpenDoc{
			ObjectID:  objectID,
			Doc:       doc,
			Remote:    remote,
			Changes:   changes,
			Views:     views,
			Awareness: NewAwareness(s.clientID),
		}
	})
	return od
}

// Sync reconciles the named document against remote history.
func (s *Space) Sync(ctx context.Context, objectID string) {
	od := s.Open(objectID)
	od.Remote.Sync(ctx, od.Doc)
}

func (s *Space) Close(objectID string) {
	if od, ok := s.docs.LoadAndDelete(objectID); ok {
		od.Remote.Close()
	}
}

func (s *Space) CloseAll() {
	s.docs.Range(func(objectID string, od *OpenDoc) bool {
		s.docs.Delete(objectID)
		od.Remote.Close()
		return true
	})
}
