package store

import (
	"bytes"
	"io"
	"reflect"
	"testing"
)

func TestStoreIdRoundTrip(t *testing.T) {
	id := NewStoreId()

	back, err := StoreIdFromBytes(id.Bytes())
	if err != nil {
		t.Fatal(err)
	}

	if !id.Equals(back) {
		t.Fatalf("StoreId mismatch after round trip: %v != %v", id, back)
	}

	if _, err := StoreIdFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short store id")
	}
}

func TestSnapshotMarshal(t *testing.T) {
	snapshot := &ConsensusSnapshot{
		Members: []*MemberInfo{
			{ID: 0, NetAddr: "127.0.0.1:1337", Voting: true},
			{ID: 1, NetAddr: "127.0.0.1:1338", Voting: false},
		},
		Term:         3,
		Index:        17,
		SnapshotTxId: 42,
		PrevState:    []byte("state"),
	}

	raw, err := snapshot.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	back, err := UnmarshalConsensusSnapshot(raw)
	if err != nil {
		t.Fatal(err)
	}

	if !snapshot.Equals(back) {
		t.Fatalf("snapshot mismatch after round trip.\n got: %#v\nwant: %#v", back, snapshot)
	}
}

func TestInmemStoreFiles(t *testing.T) {
	s := NewInmemStore()
	s.chunkSize = 4

	if err := s.WriteFileChunk("nodes", []byte("abcdefgh")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFileChunk("nodes", []byte("ij")); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(s.FileNames(), []string{"nodes"}) {
		t.Fatalf("unexpected file names: %v", s.FileNames())
	}

	var got []byte
	for chunk := 0; ; chunk++ {
		data, err := s.ReadFileChunk("nodes", chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, data...)
	}

	if !bytes.Equal(got, []byte("abcdefghij")) {
		t.Fatalf("unexpected file content: %q", got)
	}

	if _, err := s.ReadFileChunk("missing", 0); err == nil {
		t.Fatal("expected error for unknown file")
	}
}

func TestInmemStoreTransactions(t *testing.T) {
	s := NewInmemStore()

	txs := []TxEntry{
		{Id: 1, Payload: []byte("one")},
		{Id: 2, Payload: []byte("two")},
		{Id: 3, Payload: []byte("three")},
	}

	if err := s.AppendTransactions(txs); err != nil {
		t.Fatal(err)
	}

	if got := s.LastClosedTransactionId(); got != 3 {
		t.Fatalf("expected last closed tx id 3, got %d", got)
	}

	//stale ids are ignored
	if err := s.AppendTransactions([]TxEntry{{Id: 2, Payload: []byte("dup")}}); err != nil {
		t.Fatal(err)
	}
	if got := s.LastClosedTransactionId(); got != 3 {
		t.Fatalf("expected last closed tx id 3 after stale append, got %d", got)
	}

	tail, err := s.Transactions(1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tail, txs[1:]) {
		t.Fatalf("unexpected tail: %v", tail)
	}
}

func TestInmemStoreSnapshotIdempotent(t *testing.T) {
	s := NewInmemStore()
	s.SetMembers([]*MemberInfo{{ID: 0, NetAddr: "a", Voting: true}}, 2, 9)
	s.AppendTransactions([]TxEntry{{Id: 42, Payload: []byte("tx")}})

	first, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	second, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Fatal("snapshots should be distinct instances")
	}

	if !first.Equals(second) {
		t.Fatalf("snapshots of an unchanged store should be equal: %#v != %#v", first, second)
	}

	if first.SnapshotTxId != 42 {
		t.Fatalf("expected snapshot tx id 42, got %d", first.SnapshotTxId)
	}
}

func TestInmemStoreDiscard(t *testing.T) {
	s := NewInmemStore()
	s.WriteFileChunk("nodes", []byte("abc"))
	s.AppendTransactions([]TxEntry{{Id: 1, Payload: []byte("tx")}})

	if err := s.Discard(); err != nil {
		t.Fatal(err)
	}

	if !s.StoreId().IsZero() {
		t.Fatal("store id should be zero after Discard")
	}
	if len(s.FileNames()) != 0 {
		t.Fatal("files should be gone after Discard")
	}
	if s.LastClosedTransactionId() != 0 {
		t.Fatal("tx id should be zero after Discard")
	}
}
