package braid

import (
	"crypto/tls"
	"os"

	"github.com/braidb/braid/src/catchup"
	"github.com/braidb/braid/src/cluster"
	"github.com/braidb/braid/src/config"
	bnet "github.com/braidb/braid/src/net"
	"github.com/braidb/braid/src/service"
	"github.com/braidb/braid/src/store"
)

// Braid is a node of the braid catch-up layer. A node always serves its store
// over the catch-up protocol; when an upstream address is configured it also
// runs as a read replica of that upstream.
type Braid struct {
	Config  *config.Config
	Store   store.WritableStore
	Stream  bnet.StreamLayer
	Server  *catchup.Server
	Replica *cluster.ReplicaMember
	Service *service.Service
}

// NewBraid instantiates a node from its configuration. Init must be called
// before Run.
func NewBraid(config *config.Config) *Braid {
	return &Braid{
		Config: config,
	}
}

func (b *Braid) initStore() error {
	replica := b.Config.UpstreamAddr != ""

	if !b.Config.Store {
		if replica {
			b.Store = store.NewBlankInmemStore()
		} else {
			b.Store = store.NewInmemStore()
		}

		b.Config.Logger().Debug("created new in-mem store")

		return nil
	}

	b.Config.Logger().WithField("path", b.Config.DatabaseDir).Debug("Attempting to load or create database")

	if !replica {
		st, err := store.LoadOrCreateBadgerStore(b.Config.DatabaseDir)
		if err != nil {
			return err
		}
		b.Store = st
		return nil
	}

	// a replica resumes from an existing copy, or starts from a blank store
	// that the first replication round will populate
	st, err := store.LoadBadgerStore(b.Config.DatabaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		st, err = store.NewBlankBadgerStore(b.Config.DatabaseDir)
		if err != nil {
			return err
		}
	}

	b.Store = st

	return nil
}

func (b *Braid) initStreamLayer() error {
	if b.Config.CertFile != "" && b.Config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(b.Config.CertFile, b.Config.KeyFile)
		if err != nil {
			return err
		}

		layer, err := bnet.NewTLSStreamLayer(
			b.Config.BindAddr,
			b.Config.AdvertiseAddr,
			&tls.Config{Certificates: []tls.Certificate{cert}},
		)
		if err != nil {
			return err
		}

		b.Stream = layer

		return nil
	}

	layer, err := bnet.NewTCPStreamLayer(b.Config.BindAddr, b.Config.AdvertiseAddr)
	if err != nil {
		return err
	}

	b.Stream = layer

	return nil
}

func (b *Braid) initServer() error {
	b.Server = catchup.NewServer(
		b.Stream,
		b.Store,
		b.Config.TCPTimeout,
		b.Config.Logger(),
	)

	return nil
}

func (b *Braid) initReplica() error {
	if b.Config.UpstreamAddr == "" {
		return nil
	}

	client := catchup.NewClient(
		b.Stream,
		b.Config.MaxPool,
		b.Config.TCPTimeout,
		b.Config.Logger(),
	)

	b.Replica = cluster.NewReplicaMember(
		0,
		b.Store,
		client,
		b.Config.UpstreamAddr,
		b.Config.PollInterval,
		b.Config.Logger(),
	)

	return nil
}

func (b *Braid) initService() error {
	if !b.Config.NoService {
		b.Service = service.NewService(
			b.Config.ServiceAddr,
			b.Config.Moniker,
			b.Store,
			nil,
			b.Config.Logger(),
		)
	}

	return nil
}

// Init builds the node components in dependency order.
func (b *Braid) Init() error {
	if err := b.initStore(); err != nil {
		return err
	}

	if err := b.initStreamLayer(); err != nil {
		return err
	}

	if err := b.initServer(); err != nil {
		return err
	}

	if err := b.initReplica(); err != nil {
		return err
	}

	if err := b.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the replication loop and the API service, then serves the
// catch-up protocol. It blocks until the server is shut down.
func (b *Braid) Run() {
	if b.Replica != nil {
		b.Replica.Start()
	}

	if b.Service != nil {
		go b.Service.Serve()
	}

	b.Server.Listen()
}

// Shutdown stops all components and closes the store.
func (b *Braid) Shutdown() {
	logger := b.Config.Logger()

	if b.Replica != nil {
		if err := b.Replica.Shutdown(); err != nil {
			logger.WithError(err).Error("stopping replica")
		}
	}

	if b.Server != nil {
		if err := b.Server.Close(); err != nil {
			logger.WithError(err).Error("stopping catch-up server")
		}
	}

	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			logger.WithError(err).Error("closing store")
		}
	}

	logger.Debug("braid node stopped")
}
