package store

// Store is the read side of the storage/consensus layer that the catch-up
// protocol serves from. The catch-up subsystem never interprets file or
// transaction contents; it relays them as opaque bytes.
type Store interface {
	// StoreId returns the identity of this store instance.
	StoreId() StoreId
	// LastClosedTransactionId returns the id of the last transaction that was
	// durably closed.
	LastClosedTransactionId() uint64
	// Snapshot produces a point-in-time snapshot of the consensus layer's
	// in-memory state. The result is immutable.
	Snapshot() (*ConsensusSnapshot, error)
	// FileNames returns the names of the store files, in a stable order.
	FileNames() []string
	// ReadFileChunk returns chunk number `chunk` of the named file, or io.EOF
	// when the chunk index is past the end of the file.
	ReadFileChunk(name string, chunk int) ([]byte, error)
	// Transactions returns all closed transactions with id > fromTxId, in
	// ascending id order.
	Transactions(fromTxId uint64) ([]TxEntry, error)
	// Close closes the underlying database.
	Close() error
}

// WritableStore is the receiving side of a store copy. It is used by the
// catch-up client to populate a fresh replica store.
type WritableStore interface {
	Store

	// SetStoreId stamps the store with the identity of the store it was
	// copied from.
	SetStoreId(id StoreId) error
	// WriteFileChunk appends a chunk to the named file, creating it if
	// necessary.
	WriteFileChunk(name string, data []byte) error
	// AppendTransactions appends closed transactions and advances the last
	// closed transaction id.
	AppendTransactions(txs []TxEntry) error
	// ApplySnapshot installs a consensus snapshot, advancing the last closed
	// transaction id to the snapshot's mark.
	ApplySnapshot(snapshot *ConsensusSnapshot) error
	// Discard throws away all local content. It is called when a store copy
	// fails part-way through; partial data must never survive.
	Discard() error
}

// TxEntry is a single closed transaction as it appears in the replicated
// transaction log. The payload is opaque to the catch-up subsystem.
type TxEntry struct {
	Id      uint64
	Payload []byte
}

// DefaultChunkSize is the maximum size of a single store-file chunk on the
// wire.
const DefaultChunkSize = 1 << 16
