package store

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"testing"
)

func initBadgerStore(t *testing.T) (*BadgerStore, string) {
	dir, err := ioutil.TempDir("", "badger")
	if err != nil {
		t.Fatal(err)
	}

	s, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	return s, dir
}

func removeBadgerStore(s *BadgerStore, dir string, t *testing.T) {
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerStoreReload(t *testing.T) {
	s, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)

	id := s.StoreId()

	if err := s.WriteFileChunk("nodes", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFileChunk("nodes", []byte("def")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTransactions([]TxEntry{{Id: 7, Payload: []byte("tx7")}}); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	if !reloaded.StoreId().Equals(id) {
		t.Fatalf("store id not preserved across reload: %v != %v", reloaded.StoreId(), id)
	}

	if got := reloaded.LastClosedTransactionId(); got != 7 {
		t.Fatalf("expected last closed tx id 7, got %d", got)
	}

	var content []byte
	for chunk := 0; ; chunk++ {
		data, err := reloaded.ReadFileChunk("nodes", chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		content = append(content, data...)
	}

	if !bytes.Equal(content, []byte("abcdef")) {
		t.Fatalf("unexpected file content after reload: %q", content)
	}
}

func TestBadgerStoreDiscard(t *testing.T) {
	s, dir := initBadgerStore(t)
	defer removeBadgerStore(s, dir, t)

	if err := s.WriteFileChunk("nodes", []byte("abc")); err != nil {
		t.Fatal(err)
	}

	if err := s.Discard(); err != nil {
		t.Fatal(err)
	}

	if len(s.FileNames()) != 0 {
		t.Fatal("files should be gone after Discard")
	}
	if !s.StoreId().IsZero() {
		t.Fatal("store id should be zero after Discard")
	}
}
