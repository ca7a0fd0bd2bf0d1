package store

import (
	"context"
	"sync"

	"github.com/learn-decentralized-systems/toyqueue"
)

// MemStore keeps update history in process memory, ordered by arrival.
// Deliveries are idempotent per message id, so a retried send after a
// lost ack does not duplicate history.
type MemStore struct {
	mu   sync.Mutex
	objs map[string]*memObject
}

type memObject struct {
	seen    map[uint64]struct{}
	updates toyqueue.Records
}

func NewMemStore() *MemStore {
	return &MemStore{objs: make(map[string]*memObject)}
}

func (s *MemStore) GetAllUpdates(_ context.Context, objectID string) (toyqueue.Records, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.objs[objectID]
	if obj == nil {
		return nil, nil
	}
	ret := make(toyqueue.Records, len(obj.updates))
	copy(ret, obj.updates)
	return ret, nil
}

func (s *MemStore) SendUpdate(_ context.Context, objectID string, id uint64, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.objs[objectID]
	if obj == nil {
		obj = &memObject{seen: make(map[uint64]struct{})}
		s.objs[objectID] = obj
	}
	if _, ok := obj.seen[id]; ok {
		return nil
	}
	obj.seen[id] = struct{}{}
	blob := make([]byte, len(update))
	copy(blob, update)
	obj.updates = append(obj.updates, blob)
	return nil
}

// UpdateCount reports the stored history length for an object.
func (s *MemStore) UpdateCount(objectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj := s.objs[objectID]; obj != nil {
		return len(obj.updates)
	}
	return 0
}
