package cluster

import (
	"testing"
	"time"

	"github.com/braidb/braid/src/common"
	bnet "github.com/braidb/braid/src/net"
	"github.com/braidb/braid/src/store"
)

func testOptions() Options {
	return Options{
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
		MaxPool:      2,
		NewReplicaStore: func() (store.WritableStore, error) {
			return store.NewBlankInmemStore(), nil
		},
		NewStreamLayer: func() (bnet.StreamLayer, error) {
			_, layer := bnet.NewInmemStreamLayer("")
			return layer, nil
		},
	}
}

// newTestCluster builds a three core cluster with core 0 as leader, holding
// transactions up to lastTx.
func newTestCluster(t *testing.T, lastTx uint64) *Cluster {
	logger := common.NewTestEntry(t, common.TestLogLevel)

	c := NewCluster(testOptions(), logger)

	for id := 0; id < 3; id++ {
		st := store.NewInmemStore()

		if id == 0 {
			txs := []store.TxEntry{}
			for txId := uint64(1); txId <= lastTx; txId++ {
				txs = append(txs, store.TxEntry{Id: txId, Payload: []byte{byte(txId)}})
			}
			st.AppendTransactions(txs)
		}

		_, layer := bnet.NewInmemStreamLayer("")
		core := NewCoreMember(id, st, layer, time.Second, logger)
		core.Start()

		c.AddCore(core)
	}

	if err := c.SetLeader(0); err != nil {
		t.Fatal(err)
	}

	return c
}

func TestAwaitLeader(t *testing.T) {
	c := newTestCluster(t, 0)
	defer c.Shutdown()

	leader, err := c.AwaitLeader(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if leader.ID() != 0 {
		t.Fatalf("expected leader 0, got %d", leader.ID())
	}

	c.ClearLeader()

	_, err = c.AwaitLeader(50 * time.Millisecond)
	if !IsLeaderUnavailable(err) {
		t.Fatalf("expected LeaderUnavailableError, got %v", err)
	}
}

func TestReplicaLifecycle(t *testing.T) {
	c := newTestCluster(t, 0)
	defer c.Shutdown()

	// ids 0..2 are taken by cores
	id := c.NextFreeReplicaID()
	if id != 3 {
		t.Fatalf("expected next free id 3, got %d", id)
	}

	replica, err := c.AddReplicaWithID(id)
	if err != nil {
		t.Fatal(err)
	}
	if replica.ID() != id {
		t.Fatalf("replica id %d, want %d", replica.ID(), id)
	}

	if _, err := c.AddReplicaWithID(id); err == nil {
		t.Fatal("expected error adding a duplicate replica id")
	}
	if _, err := c.AddReplicaWithID(0); err == nil {
		t.Fatal("expected error adding a replica with a core id")
	}

	if next := c.NextFreeReplicaID(); next != 4 {
		t.Fatalf("expected next free id 4, got %d", next)
	}

	if err := c.RemoveReplicaWithID(id); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveReplicaWithID(id); err == nil {
		t.Fatal("expected error removing an absent replica")
	}

	if len(c.Replicas()) != 0 {
		t.Fatal("expected no replicas after removal")
	}
}

func TestReplicaTailsLeader(t *testing.T) {
	c := newTestCluster(t, 10)
	defer c.Shutdown()

	replica, err := c.AddReplicaWithID(c.NextFreeReplicaID())
	if err != nil {
		t.Fatal(err)
	}
	replica.Start()

	err = common.Await(func() bool {
		return replica.Store().LastClosedTransactionId() >= 10
	}, 5*time.Second, 0, nil)
	if err != nil {
		t.Fatal("replica did not bootstrap from the leader")
	}

	// new transactions closed after the bootstrap must also arrive
	leader := c.Leader().Store().(*store.InmemStore)
	leader.AppendTransactions([]store.TxEntry{
		{Id: 11, Payload: []byte("k")},
		{Id: 12, Payload: []byte("l")},
	})

	err = common.Await(func() bool {
		return replica.Store().LastClosedTransactionId() >= 12
	}, 5*time.Second, 0, nil)
	if err != nil {
		t.Fatal("replica did not tail new transactions")
	}
}

func TestCatchUpLoadConverges(t *testing.T) {
	c := newTestCluster(t, 42)
	defer c.Shutdown()

	load := NewCatchUpLoad(c, time.Second, 5*time.Second,
		common.NewTestEntry(t, common.TestLogLevel))

	if !load.DoWork() {
		t.Fatal("expected the catch-up iteration to succeed")
	}

	// the joined replica is removed again at the end of the iteration
	if len(c.Replicas()) != 0 {
		t.Fatal("expected the replica to be removed after the iteration")
	}
}

func TestCatchUpLoadNoLeader(t *testing.T) {
	c := newTestCluster(t, 42)
	defer c.Shutdown()

	c.ClearLeader()

	load := NewCatchUpLoad(c, 50*time.Millisecond, time.Second,
		common.NewTestEntry(t, common.TestLogLevel))

	// a missing leader is transient, the iteration is skipped
	if !load.DoWork() {
		t.Fatal("a leaderless iteration must not be a hard failure")
	}
	if len(c.Replicas()) != 0 {
		t.Fatal("no replica may be added without a leader")
	}
}

func TestCatchUpLoadTimeoutCleansUp(t *testing.T) {
	logger := common.NewTestEntry(t, common.TestLogLevel)

	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond

	c := NewCluster(opts, logger)
	defer c.Shutdown()

	// a core whose server never listens, so the replica cannot converge
	st := store.NewInmemStore()
	st.AppendTransactions([]store.TxEntry{{Id: 1, Payload: []byte("a")}})

	_, layer := bnet.NewInmemStreamLayer("")
	core := NewCoreMember(0, st, layer, time.Second, logger)
	c.AddCore(core)

	if err := c.SetLeader(0); err != nil {
		t.Fatal(err)
	}

	load := NewCatchUpLoad(c, time.Second, 200*time.Millisecond, logger)

	if load.DoWork() {
		t.Fatal("expected a hard failure when the replica cannot converge")
	}

	// cleanup ran exactly once
	if len(c.Replicas()) != 0 {
		t.Fatal("expected the stuck replica to be removed")
	}
}

type workloadFunc func() bool

func (f workloadFunc) DoWork() bool { return f() }

func TestWorkerStop(t *testing.T) {
	iterations := make(chan struct{}, 1024)

	w := NewWorker(workloadFunc(func() bool {
		select {
		case iterations <- struct{}{}:
		default:
		}
		time.Sleep(time.Millisecond)
		return true
	}), common.NewTestEntry(t, common.TestLogLevel))

	w.Start()

	select {
	case <-iterations:
	case <-time.After(time.Second):
		t.Fatal("workload never ran")
	}

	w.Stop()

	if !w.Healthy() {
		t.Fatal("a stopped worker is still healthy")
	}
}

func TestWorkerUnhealthyOnFailure(t *testing.T) {
	w := NewWorker(workloadFunc(func() bool {
		return false
	}), common.NewTestEntry(t, common.TestLogLevel))

	w.Start()

	err := common.Await(func() bool {
		return !w.Healthy()
	}, time.Second, 0, nil)
	if err != nil {
		t.Fatal("worker did not report the failure")
	}

	w.Stop()
}
