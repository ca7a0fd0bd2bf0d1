package store

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash"
	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/pkg/errors"
)

// Key layout, one letter per keyspace:
//
//	'U' hash(object) msg_id  ->  update blob
//	'O' hash(object)         ->  object id (registry)
//
// The message id doubles as the sort key, so updates come back in the
// order their ids were minted.
const (
	keyspaceUpdate byte = 'U'
	keyspaceObject byte = 'O'
)

var WriteOptions = pebble.WriteOptions{Sync: false}

const historyCacheSize = 64

// PebbleStore persists update history in a pebble database. A small LRU
// of whole per-object histories serves repeated GetAllUpdates calls;
// any write to an object drops its cached history.
type PebbleStore struct {
	db    *pebble.DB
	cache *lru.Cache[string, toyqueue.Records]
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "store: failed to open pebble")
	}
	cache, _ := lru.New[string, toyqueue.Records](historyCacheSize)
	return &PebbleStore{db: db, cache: cache}, nil
}

func objectHash(objectID string) (hash [8]byte) {
	binary.BigEndian.PutUint64(hash[:], xxhash.Sum64String(objectID))
	return
}

func updateKey(objectID string, id uint64) []byte {
	hash := objectHash(objectID)
	key := make([]byte, 0, 17)
	key = append(key, keyspaceUpdate)
	key = append(key, hash[:]...)
	key = binary.BigEndian.AppendUint64(key, id)
	return key
}

func objectKey(objectID string) []byte {
	hash := objectHash(objectID)
	key := make([]byte, 0, 9)
	key = append(key, keyspaceObject)
	key = append(key, hash[:]...)
	return key
}

func (s *PebbleStore) GetAllUpdates(_ context.Context, objectID string) (toyqueue.Records, error) {
	if updates, ok := s.cache.Get(objectID); ok {
		return updates, nil
	}

	hash := objectHash(objectID)
	lower := append([]byte{keyspaceUpdate}, hash[:]...)
	upper := append([]byte{keyspaceUpdate}, hash[:]...)
	upper = binary.BigEndian.AppendUint64(upper, ^uint64(0))
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: append(upper, 0),
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: failed to open iterator")
	}
	defer it.Close()

	var updates toyqueue.Records
	for it.First(); it.Valid(); it.Next() {
		blob := make([]byte, len(it.Value()))
		copy(blob, it.Value())
		updates = append(updates, blob)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrapf(err, "store: history scan failed for %s", objectID)
	}
	s.cache.Add(objectID, updates)
	return updates, nil
}

func (s *PebbleStore) SendUpdate(_ context.Context, objectID string, id uint64, update []byte) error {
	batch := s.db.NewBatch()
	if err := batch.Set(updateKey(objectID, id), update, &WriteOptions); err != nil {
		_ = batch.Close()
		return errors.Wrapf(err, "store: failed to put update %d for %s", id, objectID)
	}
	if err := batch.Set(objectKey(objectID), []byte(objectID), &WriteOptions); err != nil {
		_ = batch.Close()
		return errors.Wrapf(err, "store: failed to register object %s", objectID)
	}
	if err := batch.Commit(&WriteOptions); err != nil {
		return errors.Wrapf(err, "store: failed to commit update %d for %s", id, objectID)
	}
	s.cache.Remove(objectID)
	return nil
}

// Objects lists every object id that has stored history.
func (s *PebbleStore) Objects() ([]string, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{keyspaceObject},
		UpperBound: []byte{keyspaceObject + 1},
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: failed to open iterator")
	}
	defer it.Close()

	var ids []string
	for it.First(); it.Valid(); it.Next() {
		ids = append(ids, string(it.Value()))
	}
	return ids, it.Error()
}

func (s *PebbleStore) Close() error {
	return errors.Wrap(s.db.Close(), "store: failed to close pebble")
}
