package catchup

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	bnet "github.com/braidb/braid/src/net"
	"github.com/braidb/braid/src/store"
	"github.com/braidb/braid/src/version"
)

// txBatchSize is the maximum number of transactions per TxChunk.
const txBatchSize = 256

// handlerFunc serves one request on one connection: it writes exactly one
// response (possibly chunked) and must re-arm the protocol before returning.
type handlerFunc func(ctx *serverConn, msg Message) error

// Server answers catch-up requests for the local store: store-id queries,
// full store copies, consensus-snapshot transfers and transaction tailing.
// Each accepted connection is served by its own goroutine with its own
// protocol state; connections are strictly half-duplex request/response.
type Server struct {
	logger *logrus.Entry

	stream bnet.StreamLayer
	store  store.Store

	handlers map[MessageType]handlerFunc

	timeout time.Duration

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// serverConn bundles the per-connection state handlers operate on.
type serverConn struct {
	conn  net.Conn
	enc   *Encoder
	proto *ServerProtocol
}

// NewServer creates a catch-up server for the given store, listening on the
// given stream layer. The dispatch table maps each request type to its
// handler; the version gate is folded into the dispatch loop so handlers can
// assume version-compatible input.
func NewServer(
	stream bnet.StreamLayer,
	st store.Store,
	timeout time.Duration,
	logger *logrus.Entry,
) *Server {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	s := &Server{
		logger:     logger,
		stream:     stream,
		store:      st,
		timeout:    timeout,
		shutdownCh: make(chan struct{}),
	}

	s.handlers = map[MessageType]handlerFunc{
		MsgStoreIdRequest:   s.handleStoreIdRequest,
		MsgSnapshotRequest:  s.handleSnapshotRequest,
		MsgStoreFileRequest: s.handleStoreFileRequest,
		MsgTxStreamRequest:  s.handleTxStreamRequest,
	}

	return s
}

// AdvertiseAddr returns the address peers should use to reach this server.
func (s *Server) AdvertiseAddr() string {
	return s.stream.AdvertiseAddr()
}

// Close is used to stop the server.
func (s *Server) Close() error {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()

	if !s.shutdown {
		close(s.shutdownCh)
		s.stream.Close()

		s.shutdown = true
	}
	return nil
}

// IsShutdown is used to check if the server is shutdown.
func (s *Server) IsShutdown() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

// Listen accepts incoming connections until the server is closed.
func (s *Server) Listen() {
	for {
		conn, err := s.stream.Accept()
		if err != nil {
			if s.IsShutdown() {
				return
			}
			s.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted catch-up connection")

		// Handle the connection in dedicated routine
		go s.handleConn(conn)
	}
}

// handleConn serves one connection for its lifespan. Any handler error or
// decode failure tears the connection down; a partially written response is
// never retried on the same connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	proto := NewServerProtocol()
	dec := NewDecoder(conn, proto)
	ctx := &serverConn{
		conn:  conn,
		enc:   NewEncoder(conn),
		proto: proto,
	}

	for {
		msg, err := dec.Decode()
		if err != nil {
			if err != io.EOF {
				s.logger.WithField("error", err).Error("Failed to decode incoming request")
			}
			return
		}

		if err := s.dispatch(ctx, msg); err != nil {
			s.logger.WithFields(logrus.Fields{
				"from":  conn.RemoteAddr(),
				"type":  msg.MessageType().String(),
				"error": err,
			}).Error("Failed to serve catch-up request")
			return
		}

		if s.IsShutdown() {
			return
		}
	}
}

// dispatch gates the message on its version tag, then routes it through the
// dispatch table. The protocol state is left untouched when the gate rejects.
func (s *Server) dispatch(ctx *serverConn, msg Message) error {
	if msg.MessageVersion() != version.ProtocolVersion {
		s.logger.WithFields(logrus.Fields{
			"local":  version.ProtocolVersion,
			"remote": msg.MessageVersion(),
		}).Warn("Rejecting message with mismatched protocol version")

		return ctx.enc.Encode(&ErrorResponse{
			Version: version.ProtocolVersion,
			Code:    ECodeVersionMismatch,
			Message: (&VersionMismatchError{
				Local:  version.ProtocolVersion,
				Remote: msg.MessageVersion(),
			}).Error(),
		})
	}

	handler, ok := s.handlers[msg.MessageType()]
	if !ok {
		s.logger.WithField("type", msg.MessageType().String()).Error("Unexpected request type")
		ctx.enc.Encode(&ErrorResponse{
			Version: version.ProtocolVersion,
			Code:    ECodeInvalidRequest,
			Message: "unexpected request type " + msg.MessageType().String(),
		})
		return decodeErrorf("no handler for message type %s", msg.MessageType())
	}

	ctx.proto.beginDispatch()

	if err := handler(ctx, msg); err != nil {
		return err
	}

	if !ctx.proto.reArmed() {
		s.logger.WithField("type", msg.MessageType().String()).
			Error("Handler did not re-arm the protocol state")
		return errProtocolNotReArmed
	}

	return nil
}

func (s *Server) handleStoreIdRequest(ctx *serverConn, msg Message) error {
	if err := ctx.enc.Encode(&GetStoreIdResponse{
		Version: version.ProtocolVersion,
		StoreId: s.store.StoreId(),
	}); err != nil {
		return err
	}

	ctx.proto.Expect(ExpectMessageType)
	return nil
}

func (s *Server) handleSnapshotRequest(ctx *serverConn, msg Message) error {
	snapshot, err := s.store.Snapshot()
	if err != nil {
		return err
	}

	if err := ctx.enc.Encode(&GetSnapshotResponse{
		Version:  version.ProtocolVersion,
		Snapshot: snapshot,
	}); err != nil {
		return err
	}

	ctx.proto.Expect(ExpectMessageType)
	return nil
}

func (s *Server) handleStoreFileRequest(ctx *serverConn, msg Message) error {
	req := msg.(*GetStoreFileRequest)

	if !req.DesiredStoreId.Equals(s.store.StoreId()) {
		s.logger.WithFields(logrus.Fields{
			"desired": req.DesiredStoreId.String(),
			"local":   s.store.StoreId().String(),
		}).Warn("Refusing store copy for foreign store id")

		if err := ctx.enc.Encode(&ErrorResponse{
			Version: version.ProtocolVersion,
			Code:    ECodeStoreIdMismatch,
			Message: (&StoreIdMismatchError{
				Expected: req.DesiredStoreId,
				Actual:   s.store.StoreId(),
			}).Error(),
		}); err != nil {
			return err
		}

		ctx.proto.Expect(ExpectMessageType)
		return nil
	}

	ctx.proto.Expect(ExpectFileChunks)

	// write deadlines only apply while streaming; the connection may then sit
	// idle in the client's pool
	defer ctx.conn.SetWriteDeadline(time.Time{})

	for _, name := range s.store.FileNames() {
		for chunk := 0; ; chunk++ {
			data, err := s.store.ReadFileChunk(name, chunk)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}

			if s.timeout > 0 {
				ctx.conn.SetWriteDeadline(time.Now().Add(s.timeout))
			}

			if err := ctx.enc.Encode(&FileChunk{
				Version: version.ProtocolVersion,
				Name:    name,
				Data:    data,
			}); err != nil {
				return err
			}
		}
	}

	if err := ctx.enc.Encode(&StreamEnd{Version: version.ProtocolVersion}); err != nil {
		return err
	}

	ctx.proto.Expect(ExpectMessageType)
	return nil
}

func (s *Server) handleTxStreamRequest(ctx *serverConn, msg Message) error {
	req := msg.(*GetTxStreamRequest)

	txs, err := s.store.Transactions(req.FromTxId)
	if err != nil {
		return err
	}

	ctx.proto.Expect(ExpectTxChunks)

	defer ctx.conn.SetWriteDeadline(time.Time{})

	for start := 0; start < len(txs); start += txBatchSize {
		end := start + txBatchSize
		if end > len(txs) {
			end = len(txs)
		}

		if s.timeout > 0 {
			ctx.conn.SetWriteDeadline(time.Now().Add(s.timeout))
		}

		if err := ctx.enc.Encode(&TxChunk{
			Version: version.ProtocolVersion,
			Txs:     txs[start:end],
		}); err != nil {
			return err
		}
	}

	if err := ctx.enc.Encode(&StreamEnd{Version: version.ProtocolVersion}); err != nil {
		return err
	}

	ctx.proto.Expect(ExpectMessageType)
	return nil
}
