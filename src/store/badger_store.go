package store

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
)

const (
	storeIdKey  = "storeid"
	metaKey     = "meta"
	filePrefix  = "file"
	txPrefix    = "tx"
	chunkDigits = 9
)

// BadgerStore is a WritableStore backed by a Badger database, with an
// InmemStore acting as a write-through cache. It is the persistent store used
// by core members and by replicas that keep their copied state across
// restarts.
type BadgerStore struct {
	inmemStore  *InmemStore
	db          *badger.DB
	path        string
	chunkCounts map[string]int
}

// NewBadgerStore creates a brand new store with a fresh database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	inmemStore := NewInmemStore()

	handle, err := badger.Open(badgerOptions(path))
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore:  inmemStore,
		db:          handle,
		path:        path,
		chunkCounts: map[string]int{},
	}

	if err := store.dbSetStoreId(inmemStore.StoreId()); err != nil {
		return nil, err
	}

	return store, nil
}

// NewBlankBadgerStore creates a persistent store with a zero StoreId, as a
// target for a full store copy.
func NewBlankBadgerStore(path string) (*BadgerStore, error) {
	handle, err := badger.Open(badgerOptions(path))
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		inmemStore:  NewBlankInmemStore(),
		db:          handle,
		path:        path,
		chunkCounts: map[string]int{},
	}, nil
}

// LoadBadgerStore creates a store from an existing database.
func LoadBadgerStore(path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	handle, err := badger.Open(badgerOptions(path))
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore:  NewBlankInmemStore(),
		db:          handle,
		path:        path,
		chunkCounts: map[string]int{},
	}

	if err := store.dbLoad(); err != nil {
		return nil, err
	}

	return store, nil
}

// LoadOrCreateBadgerStore loads an existing database, or creates a new one if
// none is found at path.
func LoadOrCreateBadgerStore(path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(path)

	if err != nil {
		store, err = NewBadgerStore(path)

		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

func badgerOptions(path string) badger.Options {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = nil
	return opts
}

//==============================================================================
//Keys

func fileChunkKey(name string, chunk int) []byte {
	return []byte(fmt.Sprintf("%s_%s_%0*d", filePrefix, name, chunkDigits, chunk))
}

func txKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", txPrefix, id))
}

//==============================================================================
//Implement the Store and WritableStore interfaces

// StorePath returns the filepath of the underlying database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func (s *BadgerStore) StoreId() StoreId {
	return s.inmemStore.StoreId()
}

func (s *BadgerStore) SetStoreId(id StoreId) error {
	if err := s.inmemStore.SetStoreId(id); err != nil {
		return err
	}
	return s.dbSetStoreId(id)
}

func (s *BadgerStore) LastClosedTransactionId() uint64 {
	return s.inmemStore.LastClosedTransactionId()
}

func (s *BadgerStore) Snapshot() (*ConsensusSnapshot, error) {
	return s.inmemStore.Snapshot()
}

// SetMembers records the cluster membership that subsequent snapshots will
// carry.
func (s *BadgerStore) SetMembers(members []*MemberInfo, term uint64, index uint64) {
	s.inmemStore.SetMembers(members, term, index)
}

func (s *BadgerStore) FileNames() []string {
	return s.inmemStore.FileNames()
}

func (s *BadgerStore) ReadFileChunk(name string, chunk int) ([]byte, error) {
	return s.inmemStore.ReadFileChunk(name, chunk)
}

func (s *BadgerStore) WriteFileChunk(name string, data []byte) error {
	chunk := s.chunkCounts[name]

	if err := s.inmemStore.WriteFileChunk(name, data); err != nil {
		return err
	}

	s.chunkCounts[name] = chunk + 1

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileChunkKey(name, chunk), data)
	})
}

func (s *BadgerStore) Transactions(fromTxId uint64) ([]TxEntry, error) {
	return s.inmemStore.Transactions(fromTxId)
}

func (s *BadgerStore) AppendTransactions(txs []TxEntry) error {
	if err := s.inmemStore.AppendTransactions(txs); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, tx := range txs {
			if err := txn.Set(txKey(tx.Id), tx.Payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) ApplySnapshot(snapshot *ConsensusSnapshot) error {
	if err := s.inmemStore.ApplySnapshot(snapshot); err != nil {
		return err
	}

	val, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaKey), val)
	})
}

func (s *BadgerStore) Discard() error {
	if err := s.inmemStore.Discard(); err != nil {
		return err
	}
	s.chunkCounts = map[string]int{}
	return s.db.DropAll()
}

func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

//==============================================================================
//DB Methods

func (s *BadgerStore) dbSetStoreId(id StoreId) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(storeIdKey), id.Bytes())
	})
}

// dbLoad rebuilds the in-memory cache from the database.
func (s *BadgerStore) dbLoad() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(storeIdKey))
		if err != nil {
			return err
		}

		idBytes, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		id, err := StoreIdFromBytes(idBytes)
		if err != nil {
			return err
		}

		if err := s.inmemStore.SetStoreId(id); err != nil {
			return err
		}

		if item, err := txn.Get([]byte(metaKey)); err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			snapshot, err := UnmarshalConsensusSnapshot(val)
			if err != nil {
				return err
			}

			if err := s.inmemStore.ApplySnapshot(snapshot); err != nil {
				return err
			}
		}

		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(filePrefix)); it.ValidForPrefix([]byte(filePrefix)); it.Next() {
			item := it.Item()

			var name string
			if _, err := fmt.Sscanf(string(item.Key()), filePrefix+"_%s", &name); err != nil {
				continue
			}
			// strip the chunk suffix
			name = name[:len(name)-chunkDigits-1]

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := s.inmemStore.WriteFileChunk(name, val); err != nil {
				return err
			}
			s.chunkCounts[name]++
		}

		for it.Seek([]byte(txPrefix)); it.ValidForPrefix([]byte(txPrefix)); it.Next() {
			item := it.Item()

			var id uint64
			if _, err := fmt.Sscanf(string(item.Key()), txPrefix+"_%d", &id); err != nil {
				continue
			}

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := s.inmemStore.AppendTransactions([]TxEntry{{Id: id, Payload: val}}); err != nil {
				return err
			}
		}

		return nil
	})
}
