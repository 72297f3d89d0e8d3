package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/braidb/braid/src/cluster"
	"github.com/braidb/braid/src/store"
)

// Service exposes the state of a braid node over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	moniker     string
	store       store.Store
	worker      *cluster.Worker
	logger      *logrus.Entry
}

// NewService creates the HTTP API around the given store. The worker is
// optional; when set, its health is included in the stats.
func NewService(bindAddress string, moniker string, st store.Store, worker *cluster.Worker, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		moniker:     moniker,
		store:       st,
		worker:      worker,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is usefull when braid is used
// in-memory and expected to use the same endpoint (address:port) as the
// application's API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering braid API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/storeid", s.makeHandler(s.GetStoreId))
	http.HandleFunc("/members", s.makeHandler(s.GetMembers))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when braid is used in-memory and another server has already been
// started with the DefaultServerMux and the same address:port combination.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving braid API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns a summary of the node state.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]string{
		"moniker":    s.moniker,
		"store_id":   s.store.StoreId().String(),
		"last_tx_id": strconv.FormatUint(s.store.LastClosedTransactionId(), 10),
		"num_files":  strconv.Itoa(len(s.store.FileNames())),
	}

	if s.worker != nil {
		stats["healthy"] = strconv.FormatBool(s.worker.Healthy())
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetStoreId returns the identity of the local store.
func (s *Service) GetStoreId(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.store.StoreId())
}

// GetMembers returns the cluster membership recorded in the latest consensus
// snapshot.
func (s *Service) GetMembers(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.store.Snapshot()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving snapshot")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(snapshot.Members)
}
