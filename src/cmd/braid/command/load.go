package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/braidb/braid/src/cluster"
	bnet "github.com/braidb/braid/src/net"
	"github.com/braidb/braid/src/service"
	"github.com/braidb/braid/src/store"
)

var (
	loadCores    int
	loadInterval time.Duration
)

// NewLoadCmd returns the command that runs the catch-up convergence load.
// It stands up an in-process cluster of core members, keeps closing
// transactions on the leader, and repeatedly joins a fresh replica, waits for
// it to catch up, and removes it again.
func NewLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "load",
		Short:   "Run the catch-up convergence load",
		PreRunE: loadConfig,
		RunE:    runLoad,
	}

	AddRunFlags(cmd)
	cmd.Flags().IntVar(&loadCores, "cores", 3, "Number of core members")
	cmd.Flags().DurationVar(&loadInterval, "tx-interval", 10*time.Millisecond, "Time between transactions on the leader")

	return cmd
}

func runLoad(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	opts := cluster.Options{
		Timeout:      _config.TCPTimeout,
		PollInterval: _config.PollInterval,
		MaxPool:      _config.MaxPool,
		NewReplicaStore: func() (store.WritableStore, error) {
			return store.NewBlankInmemStore(), nil
		},
		NewStreamLayer: func() (bnet.StreamLayer, error) {
			_, layer := bnet.NewInmemStreamLayer("")
			return layer, nil
		},
	}

	c := cluster.NewCluster(opts, logger)
	defer c.Shutdown()

	var leaderStore *store.InmemStore

	for id := 0; id < loadCores; id++ {
		st := store.NewInmemStore()
		if id == 0 {
			leaderStore = st
		}

		_, layer := bnet.NewInmemStreamLayer("")
		core := cluster.NewCoreMember(id, st, layer, _config.TCPTimeout, logger)
		core.Start()

		c.AddCore(core)
	}

	if err := c.SetLeader(0); err != nil {
		return err
	}

	// keep the leader busy so replicas always have a tail to chase
	stopGen := make(chan struct{})
	go func() {
		ticker := time.NewTicker(loadInterval)
		defer ticker.Stop()

		nextId := uint64(1)
		for {
			select {
			case <-stopGen:
				return
			case <-ticker.C:
				leaderStore.AppendTransactions([]store.TxEntry{
					{Id: nextId, Payload: []byte(fmt.Sprintf("tx-%d", nextId))},
				})
				nextId++
			}
		}
	}()
	defer close(stopGen)

	load := cluster.NewCatchUpLoad(c, _config.LeaderWait, _config.CatchUpTimeout, logger)

	worker := cluster.NewWorker(load, logger)
	worker.Start()

	if !_config.NoService {
		svc := service.NewService(_config.ServiceAddr, _config.Moniker, leaderStore, worker, logger)
		go svc.Serve()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	worker.Stop()

	if !worker.Healthy() {
		return fmt.Errorf("convergence load failed")
	}

	logger.Info("convergence load stopped while healthy")

	return nil
}
