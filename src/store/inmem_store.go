package store

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// InmemStore is a map-backed implementation of WritableStore. It is used for
// tests and for replicas that do not need persistence.
type InmemStore struct {
	sync.RWMutex

	storeId   StoreId
	members   []*MemberInfo
	term      uint64
	index     uint64
	files     map[string][]byte
	fileNames []string
	txs       []TxEntry
	lastTxId  uint64
	chunkSize int
}

// NewInmemStore creates an empty InmemStore with a fresh StoreId.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		storeId:   NewStoreId(),
		files:     map[string][]byte{},
		chunkSize: DefaultChunkSize,
	}
}

// NewBlankInmemStore creates an InmemStore with a zero StoreId, as a target
// for a store copy.
func NewBlankInmemStore() *InmemStore {
	s := NewInmemStore()
	s.storeId = StoreId{}
	return s
}

// SetMembers records the cluster membership that subsequent snapshots will
// carry.
func (s *InmemStore) SetMembers(members []*MemberInfo, term uint64, index uint64) {
	s.Lock()
	defer s.Unlock()
	s.members = members
	s.term = term
	s.index = index
}

// StoreId implements Store.
func (s *InmemStore) StoreId() StoreId {
	s.RLock()
	defer s.RUnlock()
	return s.storeId
}

// SetStoreId implements WritableStore.
func (s *InmemStore) SetStoreId(id StoreId) error {
	s.Lock()
	defer s.Unlock()
	s.storeId = id
	return nil
}

// LastClosedTransactionId implements Store.
func (s *InmemStore) LastClosedTransactionId() uint64 {
	s.RLock()
	defer s.RUnlock()
	return s.lastTxId
}

// Snapshot implements Store. The returned snapshot is built fresh on every
// call and never mutated afterwards.
func (s *InmemStore) Snapshot() (*ConsensusSnapshot, error) {
	s.RLock()
	defer s.RUnlock()

	members := make([]*MemberInfo, len(s.members))
	for i, m := range s.members {
		cp := *m
		members[i] = &cp
	}

	return &ConsensusSnapshot{
		Members:      members,
		Term:         s.term,
		Index:        s.index,
		SnapshotTxId: s.lastTxId,
	}, nil
}

// FileNames implements Store.
func (s *InmemStore) FileNames() []string {
	s.RLock()
	defer s.RUnlock()

	names := make([]string, len(s.fileNames))
	copy(names, s.fileNames)
	return names
}

// ReadFileChunk implements Store.
func (s *InmemStore) ReadFileChunk(name string, chunk int) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	data, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("no such store file: %s", name)
	}

	start := chunk * s.chunkSize
	if start >= len(data) {
		return nil, io.EOF
	}

	end := start + s.chunkSize
	if end > len(data) {
		end = len(data)
	}

	out := make([]byte, end-start)
	copy(out, data[start:end])
	return out, nil
}

// WriteFileChunk implements WritableStore.
func (s *InmemStore) WriteFileChunk(name string, data []byte) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.files[name]; !ok {
		s.fileNames = append(s.fileNames, name)
		sort.Strings(s.fileNames)
	}

	s.files[name] = append(s.files[name], data...)
	return nil
}

// Transactions implements Store.
func (s *InmemStore) Transactions(fromTxId uint64) ([]TxEntry, error) {
	s.RLock()
	defer s.RUnlock()

	var out []TxEntry
	for _, tx := range s.txs {
		if tx.Id > fromTxId {
			out = append(out, tx)
		}
	}
	return out, nil
}

// AppendTransactions implements WritableStore.
func (s *InmemStore) AppendTransactions(txs []TxEntry) error {
	s.Lock()
	defer s.Unlock()

	for _, tx := range txs {
		if tx.Id <= s.lastTxId {
			continue
		}
		s.txs = append(s.txs, tx)
		s.lastTxId = tx.Id
	}
	return nil
}

// ApplySnapshot implements WritableStore.
func (s *InmemStore) ApplySnapshot(snapshot *ConsensusSnapshot) error {
	s.Lock()
	defer s.Unlock()

	s.members = snapshot.Members
	s.term = snapshot.Term
	s.index = snapshot.Index

	if snapshot.SnapshotTxId > s.lastTxId {
		s.lastTxId = snapshot.SnapshotTxId
	}
	return nil
}

// Discard implements WritableStore.
func (s *InmemStore) Discard() error {
	s.Lock()
	defer s.Unlock()

	s.storeId = StoreId{}
	s.files = map[string][]byte{}
	s.fileNames = nil
	s.txs = nil
	s.lastTxId = 0
	return nil
}

// Close implements Store.
func (s *InmemStore) Close() error {
	return nil
}
