package cluster

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/braidb/braid/src/catchup"
	bnet "github.com/braidb/braid/src/net"
	"github.com/braidb/braid/src/store"
)

// Member is a cluster participant exposing its identity and store.
type Member interface {
	ID() int
	NetAddr() string
	Store() store.Store
}

// CoreMember is a voting member serving the catch-up protocol from its store.
type CoreMember struct {
	id     int
	st     store.Store
	server *catchup.Server
}

// NewCoreMember creates a core member serving catch-up requests for st over
// the given stream layer.
func NewCoreMember(
	id int,
	st store.Store,
	stream bnet.StreamLayer,
	timeout time.Duration,
	logger *logrus.Entry,
) *CoreMember {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &CoreMember{
		id: id,
		st: st,
		server: catchup.NewServer(stream, st, timeout,
			logger.WithField("member", id)),
	}
}

// ID implements the Member interface.
func (m *CoreMember) ID() int {
	return m.id
}

// NetAddr implements the Member interface.
func (m *CoreMember) NetAddr() string {
	return m.server.AdvertiseAddr()
}

// Store implements the Member interface.
func (m *CoreMember) Store() store.Store {
	return m.st
}

// Start begins accepting catch-up connections.
func (m *CoreMember) Start() {
	go m.server.Listen()
}

// Shutdown stops the catch-up server.
func (m *CoreMember) Shutdown() error {
	return m.server.Close()
}

// ReplicaMember is a non-voting member that bootstraps its store from an
// upstream core and then keeps tailing its transaction log.
type ReplicaMember struct {
	logger *logrus.Entry

	id     int
	st     store.WritableStore
	client *catchup.Client
	target string

	pollInterval time.Duration

	bootstrapped bool

	shutdownCh chan struct{}
	shutdown   sync.Once
	wg         sync.WaitGroup
}

// NewReplicaMember creates a replica that replicates from the core at target.
func NewReplicaMember(
	id int,
	st store.WritableStore,
	client *catchup.Client,
	target string,
	pollInterval time.Duration,
	logger *logrus.Entry,
) *ReplicaMember {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &ReplicaMember{
		logger:       logger.WithField("member", id),
		id:           id,
		st:           st,
		client:       client,
		target:       target,
		pollInterval: pollInterval,
		shutdownCh:   make(chan struct{}),
	}
}

// ID implements the Member interface.
func (m *ReplicaMember) ID() int {
	return m.id
}

// NetAddr implements the Member interface.
func (m *ReplicaMember) NetAddr() string {
	return m.target
}

// Store implements the Member interface.
func (m *ReplicaMember) Store() store.Store {
	return m.st
}

// Start launches the replication loop.
func (m *ReplicaMember) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *ReplicaMember) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if err := m.sync(); err != nil {
			m.logger.WithError(err).Debug("replication attempt failed")
		}

		select {
		case <-m.shutdownCh:
			return
		case <-ticker.C:
		}
	}
}

// sync performs one replication round. The first successful round copies the
// whole store; after that only the transaction tail is pulled.
func (m *ReplicaMember) sync() error {
	if !m.bootstrapped {
		if err := m.client.Replicate(m.target, m.st); err != nil {
			return err
		}
		m.bootstrapped = true
		return nil
	}

	_, err := m.client.PullTransactions(m.target, m.st.LastClosedTransactionId(), m.st)
	return err
}

// Shutdown stops the replication loop and releases the client connections.
func (m *ReplicaMember) Shutdown() error {
	m.shutdown.Do(func() {
		close(m.shutdownCh)
	})
	m.wg.Wait()

	return m.client.Close()
}
