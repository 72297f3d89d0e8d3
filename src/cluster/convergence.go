package cluster

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/braidb/braid/src/common"
)

// Workload is one unit of repeatable cluster work. DoWork returns false on a
// hard failure, which stops the worker and marks it unhealthy. Transient
// conditions are handled inside DoWork and reported as true.
type Workload interface {
	DoWork() bool
}

// Worker repeats a workload until it fails or is stopped.
type Worker struct {
	logger *logrus.Entry
	work   Workload

	healthy int32

	shutdownCh chan struct{}
	shutdown   sync.Once
	wg         sync.WaitGroup
}

// NewWorker creates a worker for the given workload. It is healthy until the
// workload reports a hard failure.
func NewWorker(work Workload, logger *logrus.Entry) *Worker {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Worker{
		logger:     logger,
		work:       work,
		healthy:    1,
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the work loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.shutdownCh:
			return
		default:
		}

		if !w.work.DoWork() {
			atomic.StoreInt32(&w.healthy, 0)
			w.logger.Error("workload failed, stopping worker")
			return
		}
	}
}

// Healthy reports whether the workload has failed.
func (w *Worker) Healthy() bool {
	return atomic.LoadInt32(&w.healthy) == 1
}

// Stop terminates the work loop after the current iteration.
func (w *Worker) Stop() {
	w.shutdown.Do(func() {
		close(w.shutdownCh)
	})
	w.wg.Wait()
}

// CatchUpLoad joins a fresh replica to the cluster, waits for it to catch up
// with the leader, and removes it again. Repeated by a Worker, it exercises
// the whole catch-up path under membership churn.
type CatchUpLoad struct {
	logger *logrus.Entry

	cluster *Cluster

	// LeaderWait bounds how long one iteration waits for a leader before
	// retrying.
	LeaderWait time.Duration
	// CatchUpTimeout bounds how long a replica may take to reach the
	// leader's transaction id observed at join time.
	CatchUpTimeout time.Duration
}

// NewCatchUpLoad creates the workload against the given cluster.
func NewCatchUpLoad(c *Cluster, leaderWait, catchUpTimeout time.Duration, logger *logrus.Entry) *CatchUpLoad {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &CatchUpLoad{
		logger:         logger,
		cluster:        c,
		LeaderWait:     leaderWait,
		CatchUpTimeout: catchUpTimeout,
	}
}

// DoWork implements the Workload interface.
//
// A missing leader is a transient condition: the iteration is skipped and the
// worker stays healthy. Failing to join the replica, or the replica not
// converging in time, is a hard failure. The replica is removed exactly once
// on every path after a successful join.
func (l *CatchUpLoad) DoWork() bool {
	leader, err := l.cluster.AwaitLeader(l.LeaderWait)
	if err != nil {
		l.logger.WithError(err).Warning("skipping iteration")
		return true
	}

	// the mark the replica must reach, taken before the join
	t0 := leader.Store().LastClosedTransactionId()

	id := l.cluster.NextFreeReplicaID()

	replica, err := l.cluster.AddReplicaWithID(id)
	if err != nil {
		l.logger.WithError(err).Error("adding replica")
		return false
	}

	defer func() {
		if err := l.cluster.RemoveReplicaWithID(id); err != nil {
			l.logger.WithError(err).Error("removing replica")
		}
	}()

	replica.Start()

	err = common.Await(func() bool {
		return replica.Store().LastClosedTransactionId() >= t0
	}, l.CatchUpTimeout, 0, nil)

	if err != nil {
		caught := replica.Store().LastClosedTransactionId()
		l.logger.WithError(CatchUpTimeoutError{
			MemberID: id,
			WantTxId: t0,
			GotTxId:  caught,
			Timeout:  l.CatchUpTimeout,
		}).Error("replica did not converge")
		return false
	}

	l.logger.WithFields(logrus.Fields{
		"id": id,
		"tx": t0,
	}).Debug("replica caught up")

	return true
}
