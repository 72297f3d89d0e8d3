package catchup

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/braidb/braid/src/common"
	bnet "github.com/braidb/braid/src/net"
	"github.com/braidb/braid/src/store"
	"github.com/braidb/braid/src/version"
)

func newTestServer(t *testing.T, st store.Store) (*Server, string) {
	addr, layer := bnet.NewInmemStreamLayer("")

	server := NewServer(layer, st, time.Second, common.NewTestEntry(t, common.TestLogLevel))
	go server.Listen()

	return server, addr
}

func newTestClient(t *testing.T) *Client {
	_, layer := bnet.NewInmemStreamLayer("")
	return NewClient(layer, 2, time.Second, common.NewTestEntry(t, common.TestLogLevel))
}

func newLeaderStore() *store.InmemStore {
	st := store.NewInmemStore()
	st.SetMembers([]*store.MemberInfo{
		{ID: 0, NetAddr: "core0", Voting: true},
		{ID: 1, NetAddr: "core1", Voting: true},
		{ID: 2, NetAddr: "core2", Voting: true},
	}, 1, 7)

	st.WriteFileChunk("nodes", []byte("all the nodes"))
	st.WriteFileChunk("edges", []byte("all the edges"))

	txs := []store.TxEntry{}
	for id := uint64(1); id <= 42; id++ {
		txs = append(txs, store.TxEntry{Id: id, Payload: []byte{byte(id)}})
	}
	st.AppendTransactions(txs)

	return st
}

func TestFetchStoreId(t *testing.T) {
	st := newLeaderStore()
	server, addr := newTestServer(t, st)
	defer server.Close()

	client := newTestClient(t)
	defer client.Close()

	id, err := client.FetchStoreId(addr)
	if err != nil {
		t.Fatal(err)
	}

	if !id.Equals(st.StoreId()) {
		t.Fatalf("fetched store id %s, want %s", id, st.StoreId())
	}
}

func TestFetchSnapshotIdempotent(t *testing.T) {
	st := newLeaderStore()
	server, addr := newTestServer(t, st)
	defer server.Close()

	client := newTestClient(t)
	defer client.Close()

	first, err := client.FetchSnapshot(addr)
	if err != nil {
		t.Fatal(err)
	}

	second, err := client.FetchSnapshot(addr)
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Fatal("snapshots should be distinct instances")
	}
	if !first.Equals(second) {
		t.Fatalf("snapshots from an unchanged leader should be equal:\n%#v\n%#v", first, second)
	}
	if first.SnapshotTxId != 42 {
		t.Fatalf("expected snapshot tx id 42, got %d", first.SnapshotTxId)
	}
}

func readAll(t *testing.T, st store.Store, name string) []byte {
	t.Helper()

	var content []byte
	for chunk := 0; ; chunk++ {
		data, err := st.ReadFileChunk(name, chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		content = append(content, data...)
	}
	return content
}

func TestCopyStore(t *testing.T) {
	st := newLeaderStore()
	server, addr := newTestServer(t, st)
	defer server.Close()

	client := newTestClient(t)
	defer client.Close()

	dest := store.NewBlankInmemStore()

	if err := client.CopyStore(addr, st.StoreId(), dest); err != nil {
		t.Fatal(err)
	}

	if !dest.StoreId().Equals(st.StoreId()) {
		t.Fatalf("dest store id %s, want %s", dest.StoreId(), st.StoreId())
	}

	for _, name := range []string{"edges", "nodes"} {
		want := readAll(t, st, name)
		got := readAll(t, dest, name)
		if !bytes.Equal(got, want) {
			t.Fatalf("file %s mismatch after copy: %q != %q", name, got, want)
		}
	}
}

func TestCopyStoreMismatch(t *testing.T) {
	st := newLeaderStore()
	server, addr := newTestServer(t, st)
	defer server.Close()

	client := newTestClient(t)
	defer client.Close()

	dest := store.NewBlankInmemStore()

	err := client.CopyStore(addr, store.NewStoreId(), dest)
	if !IsStoreIdMismatch(err) {
		t.Fatalf("expected StoreIdMismatchError, got %v", err)
	}

	// nothing may have been written locally
	if len(dest.FileNames()) != 0 {
		t.Fatal("mismatched copy must not write local files")
	}
	if !dest.StoreId().IsZero() {
		t.Fatal("mismatched copy must not stamp a store id")
	}
}

func TestPullTransactions(t *testing.T) {
	st := newLeaderStore()
	server, addr := newTestServer(t, st)
	defer server.Close()

	client := newTestClient(t)
	defer client.Close()

	dest := store.NewBlankInmemStore()

	applied, err := client.PullTransactions(addr, 40, dest)
	if err != nil {
		t.Fatal(err)
	}

	if applied != 2 {
		t.Fatalf("expected 2 transactions applied, got %d", applied)
	}
	if dest.LastClosedTransactionId() != 42 {
		t.Fatalf("expected last closed tx id 42, got %d", dest.LastClosedTransactionId())
	}
}

func TestReplicate(t *testing.T) {
	st := newLeaderStore()
	server, addr := newTestServer(t, st)
	defer server.Close()

	client := newTestClient(t)
	defer client.Close()

	dest := store.NewBlankInmemStore()

	if err := client.Replicate(addr, dest); err != nil {
		t.Fatal(err)
	}

	if dest.LastClosedTransactionId() != st.LastClosedTransactionId() {
		t.Fatalf("replica at tx %d, leader at %d",
			dest.LastClosedTransactionId(), st.LastClosedTransactionId())
	}
	if !dest.StoreId().Equals(st.StoreId()) {
		t.Fatal("replica store id does not match leader")
	}

	// replicating again against an unchanged leader is a no-op
	if err := client.Replicate(addr, dest); err != nil {
		t.Fatal(err)
	}
}

func TestReplicateForeignStore(t *testing.T) {
	st := newLeaderStore()
	server, addr := newTestServer(t, st)
	defer server.Close()

	client := newTestClient(t)
	defer client.Close()

	// a dest that already belongs to a different store family must never be
	// merged with the leader's store
	dest := store.NewInmemStore()

	err := client.Replicate(addr, dest)
	if !IsStoreIdMismatch(err) {
		t.Fatalf("expected StoreIdMismatchError, got %v", err)
	}
}

func TestVersionGate(t *testing.T) {
	st := newLeaderStore()
	server, addr := newTestServer(t, st)
	defer server.Close()

	_, layer := bnet.NewInmemStreamLayer("")
	conn, err := layer.Dial(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	enc := NewEncoder(conn)
	dec := NewDecoder(conn, nil)

	// a store-id request with a bad version tag must be rejected before any
	// state transition
	if err := enc.Encode(&GetStoreIdRequest{Version: version.ProtocolVersion + 1}); err != nil {
		t.Fatal(err)
	}

	msg, err := dec.Decode()
	if err != nil {
		t.Fatal(err)
	}

	resp, ok := msg.(*ErrorResponse)
	if !ok {
		t.Fatalf("expected ErrorResponse, got %T", msg)
	}
	if resp.Code != ECodeVersionMismatch {
		t.Fatalf("expected version mismatch code, got %d", resp.Code)
	}

	// the connection state is unchanged: a well-versioned request on the same
	// connection is still served
	if err := enc.Encode(&GetStoreIdRequest{Version: version.ProtocolVersion}); err != nil {
		t.Fatal(err)
	}

	msg, err = dec.Decode()
	if err != nil {
		t.Fatal(err)
	}

	idResp, ok := msg.(*GetStoreIdResponse)
	if !ok {
		t.Fatalf("expected GetStoreIdResponse, got %T", msg)
	}
	if !idResp.StoreId.Equals(st.StoreId()) {
		t.Fatal("unexpected store id after version-gated exchange")
	}
}
