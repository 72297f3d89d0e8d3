package cluster

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/braidb/braid/src/catchup"
	"github.com/braidb/braid/src/common"
	bnet "github.com/braidb/braid/src/net"
	"github.com/braidb/braid/src/store"
)

// Options configures a Cluster.
type Options struct {
	// Timeout is the I/O timeout applied to catch-up connections.
	Timeout time.Duration
	// PollInterval is how often replicas poll their upstream for new
	// transactions.
	PollInterval time.Duration
	// MaxPool is the connection pool size of replica clients.
	MaxPool int
	// NewReplicaStore builds the backing store for a new replica.
	NewReplicaStore func() (store.WritableStore, error)
	// NewStreamLayer builds the stream layer a new replica dials through.
	NewStreamLayer func() (bnet.StreamLayer, error)
}

// Cluster tracks the core members and replicas of a deployment. Core members
// are registered by the caller; replicas are created on demand and bootstrap
// from the current leader.
type Cluster struct {
	logger *logrus.Entry
	opts   Options

	mu       sync.Mutex
	cores    map[int]*CoreMember
	leaderID int
	replicas map[int]*ReplicaMember
}

// NewCluster creates an empty cluster with no leader.
func NewCluster(opts Options, logger *logrus.Entry) *Cluster {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Cluster{
		logger:   logger,
		opts:     opts,
		cores:    map[int]*CoreMember{},
		leaderID: -1,
		replicas: map[int]*ReplicaMember{},
	}
}

// AddCore registers a core member.
func (c *Cluster) AddCore(m *CoreMember) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cores[m.ID()] = m
}

// Cores returns the registered core members sorted by id.
func (c *Cluster) Cores() []*CoreMember {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []*CoreMember{}
	for _, m := range c.cores {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })

	return out
}

// SetLeader marks the core with the given id as leader.
func (c *Cluster) SetLeader(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cores[id]; !ok {
		return fmt.Errorf("no core member with id %d", id)
	}

	c.leaderID = id

	return nil
}

// ClearLeader marks the cluster as leaderless.
func (c *Cluster) ClearLeader() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.leaderID = -1
}

// Leader returns the current leader, or nil if none is set.
func (c *Cluster) Leader() *CoreMember {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.leaderID < 0 {
		return nil
	}

	return c.cores[c.leaderID]
}

// AwaitLeader blocks until a leader is available or the timeout expires, in
// which case it returns a LeaderUnavailableError.
func (c *Cluster) AwaitLeader(timeout time.Duration) (*CoreMember, error) {
	err := common.Await(func() bool {
		return c.Leader() != nil
	}, timeout, 0, nil)

	if err != nil {
		return nil, LeaderUnavailableError{Timeout: timeout}
	}

	return c.Leader(), nil
}

// Replicas returns the live replicas sorted by id.
func (c *Cluster) Replicas() []*ReplicaMember {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []*ReplicaMember{}
	for _, m := range c.replicas {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })

	return out
}

// NextFreeReplicaID returns the smallest member id not in use by a core or a
// replica.
func (c *Cluster) NextFreeReplicaID() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := 0
	for {
		_, core := c.cores[id]
		_, replica := c.replicas[id]
		if !core && !replica {
			return id
		}
		id++
	}
}

// AddReplicaWithID creates and registers a replica that will bootstrap from
// the current leader. The replica is not started; the caller decides when
// replication begins.
func (c *Cluster) AddReplicaWithID(id int) (*ReplicaMember, error) {
	leader := c.Leader()
	if leader == nil {
		return nil, LeaderUnavailableError{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.replicas[id]; ok {
		return nil, fmt.Errorf("replica with id %d already exists", id)
	}
	if _, ok := c.cores[id]; ok {
		return nil, fmt.Errorf("id %d is taken by a core member", id)
	}

	st, err := c.opts.NewReplicaStore()
	if err != nil {
		return nil, err
	}

	stream, err := c.opts.NewStreamLayer()
	if err != nil {
		return nil, err
	}

	client := catchup.NewClient(stream, c.opts.MaxPool, c.opts.Timeout,
		c.logger.WithField("member", id))

	replica := NewReplicaMember(id, st, client, leader.NetAddr(),
		c.opts.PollInterval, c.logger)

	c.replicas[id] = replica

	c.logger.WithFields(logrus.Fields{
		"id":     id,
		"leader": leader.ID(),
	}).Debug("added replica")

	return replica, nil
}

// RemoveReplicaWithID stops the replica and removes it from the cluster.
func (c *Cluster) RemoveReplicaWithID(id int) error {
	c.mu.Lock()
	replica, ok := c.replicas[id]
	if ok {
		delete(c.replicas, id)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no replica with id %d", id)
	}

	err := replica.Shutdown()

	c.logger.WithField("id", id).Debug("removed replica")

	return err
}

// Shutdown stops all replicas and core members.
func (c *Cluster) Shutdown() {
	for _, r := range c.Replicas() {
		if err := c.RemoveReplicaWithID(r.ID()); err != nil {
			c.logger.WithError(err).Error("stopping replica")
		}
	}
	for _, m := range c.Cores() {
		if err := m.Shutdown(); err != nil {
			c.logger.WithError(err).Error("stopping core member")
		}
	}
}
