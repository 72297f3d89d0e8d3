package catchup

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	bnet "github.com/braidb/braid/src/net"
	"github.com/braidb/braid/src/store"
	"github.com/braidb/braid/src/version"
)

// Client drives a catch-up server through the ordered request sequence:
// store id, snapshot or store copy, then transaction tailing. Connections are
// pooled per target; a connection that suffered a decode or version failure is
// released, never returned to the pool.
type Client struct {
	logger *logrus.Entry

	stream bnet.StreamLayer

	connPool     map[string][]*clientConn
	connPoolLock sync.Mutex
	maxPool      int

	timeout time.Duration
}

// clientConn wraps an outgoing connection with its codec and protocol state.
type clientConn struct {
	target string
	conn   net.Conn
	enc    *Encoder
	dec    *Decoder
	proto  *ClientProtocol
}

// Release closes the underlying connection.
func (c *clientConn) Release() error {
	return c.conn.Close()
}

// NewClient creates a catch-up client dialing through the given stream layer.
// The maxPool controls how many connections are pooled per target. The
// timeout is used to apply I/O deadlines.
func NewClient(
	stream bnet.StreamLayer,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) *Client {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Client{
		logger:   logger,
		stream:   stream,
		connPool: make(map[string][]*clientConn),
		maxPool:  maxPool,
		timeout:  timeout,
	}
}

// Close releases all pooled connections.
func (c *Client) Close() error {
	c.connPoolLock.Lock()
	defer c.connPoolLock.Unlock()

	for _, conns := range c.connPool {
		for _, conn := range conns {
			conn.Release()
		}
	}
	c.connPool = make(map[string][]*clientConn)
	return nil
}

// getPooledConn is used to grab a pooled connection.
func (c *Client) getPooledConn(target string) *clientConn {
	c.connPoolLock.Lock()
	defer c.connPoolLock.Unlock()

	conns, ok := c.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *clientConn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	c.connPool[target] = conns[:num-1]
	return conn
}

// getConn is used to get a usable connection, dialing if the pool is empty.
func (c *Client) getConn(target string) (*clientConn, error) {
	if conn := c.getPooledConn(target); conn != nil {
		return conn, nil
	}

	conn, err := c.stream.Dial(target, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %v", target, err)
	}

	proto := NewClientProtocol()

	return &clientConn{
		target: target,
		conn:   conn,
		enc:    NewEncoder(conn),
		dec:    NewDecoder(conn, proto),
		proto:  proto,
	}, nil
}

// returnConn returns a healthy connection back to the pool.
func (c *Client) returnConn(conn *clientConn) {
	c.connPoolLock.Lock()
	defer c.connPoolLock.Unlock()

	key := conn.target
	conns := c.connPool[key]

	if len(conns) < c.maxPool {
		c.connPool[key] = append(conns, conn)
	} else {
		conn.Release()
	}
}

// checkVersion gates an inbound message before it is acted on. The connection
// is not reusable after a mismatch.
func (c *Client) checkVersion(msg Message) error {
	if msg.MessageVersion() != version.ProtocolVersion {
		return &VersionMismatchError{
			Local:  version.ProtocolVersion,
			Remote: msg.MessageVersion(),
		}
	}
	return nil
}

// FetchStoreId asks the server at target for the identity of its store.
func (c *Client) FetchStoreId(target string) (store.StoreId, error) {
	conn, err := c.getConn(target)
	if err != nil {
		return store.StoreId{}, err
	}

	conn.proto.Expect(ExpectStoreId)

	if c.timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := conn.enc.Encode(&GetStoreIdRequest{Version: version.ProtocolVersion}); err != nil {
		conn.Release()
		return store.StoreId{}, err
	}

	msg, err := conn.dec.Decode()
	if err != nil {
		conn.Release()
		return store.StoreId{}, err
	}

	if err := c.checkVersion(msg); err != nil {
		conn.Release()
		return store.StoreId{}, err
	}

	switch resp := msg.(type) {
	case *GetStoreIdResponse:
		conn.proto.Expect(ExpectMessageType)
		c.returnConn(conn)
		return resp.StoreId, nil
	case *ErrorResponse:
		conn.Release()
		return store.StoreId{}, remoteError(resp)
	default:
		conn.Release()
		return store.StoreId{}, decodeErrorf("unexpected response %s to store id request", msg.MessageType())
	}
}

// FetchSnapshot asks the server at target for a consensus snapshot.
func (c *Client) FetchSnapshot(target string) (*store.ConsensusSnapshot, error) {
	conn, err := c.getConn(target)
	if err != nil {
		return nil, err
	}

	conn.proto.Expect(ExpectSnapshot)

	if c.timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := conn.enc.Encode(&GetSnapshotRequest{Version: version.ProtocolVersion}); err != nil {
		conn.Release()
		return nil, err
	}

	msg, err := conn.dec.Decode()
	if err != nil {
		conn.Release()
		return nil, err
	}

	if err := c.checkVersion(msg); err != nil {
		conn.Release()
		return nil, err
	}

	switch resp := msg.(type) {
	case *GetSnapshotResponse:
		conn.proto.Expect(ExpectMessageType)
		c.returnConn(conn)
		return resp.Snapshot, nil
	case *ErrorResponse:
		conn.Release()
		return nil, remoteError(resp)
	default:
		conn.Release()
		return nil, decodeErrorf("unexpected response %s to snapshot request", msg.MessageType())
	}
}

// CopyStore streams the full store of the server at target into dest. The
// remote store identity must equal expected before any data is written
// locally; partial data is discarded on any failure.
func (c *Client) CopyStore(target string, expected store.StoreId, dest store.WritableStore) error {
	remote, err := c.FetchStoreId(target)
	if err != nil {
		return err
	}

	if !remote.Equals(expected) {
		return &StoreIdMismatchError{Expected: expected, Actual: remote}
	}

	conn, err := c.getConn(target)
	if err != nil {
		return err
	}

	conn.proto.Expect(ExpectFileChunks)

	if c.timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := conn.enc.Encode(&GetStoreFileRequest{
		Version:        version.ProtocolVersion,
		DesiredStoreId: expected,
	}); err != nil {
		conn.Release()
		return err
	}

	chunks := 0

	for {
		// streaming transfers are long-lived: the deadline bounds each
		// chunk, not the whole copy
		if c.timeout > 0 {
			conn.conn.SetReadDeadline(time.Now().Add(c.timeout))
		}

		msg, err := conn.dec.Decode()
		if err != nil {
			conn.Release()
			dest.Discard()
			return err
		}

		if err := c.checkVersion(msg); err != nil {
			conn.Release()
			dest.Discard()
			return err
		}

		switch resp := msg.(type) {
		case *FileChunk:
			if err := dest.WriteFileChunk(resp.Name, resp.Data); err != nil {
				conn.Release()
				dest.Discard()
				return err
			}
			chunks++
		case *StreamEnd:
			conn.proto.Expect(ExpectMessageType)
			c.returnConn(conn)

			c.logger.WithFields(logrus.Fields{
				"target": target,
				"chunks": chunks,
			}).Debug("Store copy complete")

			return dest.SetStoreId(remote)
		case *ErrorResponse:
			conn.Release()
			dest.Discard()
			return remoteError(resp)
		default:
			conn.Release()
			dest.Discard()
			return decodeErrorf("unexpected message %s during store copy", msg.MessageType())
		}
	}
}

// PullTransactions tails the server's transaction log from fromTxId into
// dest. It returns the number of transactions applied.
func (c *Client) PullTransactions(target string, fromTxId uint64, dest store.WritableStore) (int, error) {
	conn, err := c.getConn(target)
	if err != nil {
		return 0, err
	}

	conn.proto.Expect(ExpectTxChunks)

	if c.timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := conn.enc.Encode(&GetTxStreamRequest{
		Version:  version.ProtocolVersion,
		FromTxId: fromTxId,
	}); err != nil {
		conn.Release()
		return 0, err
	}

	applied := 0

	for {
		if c.timeout > 0 {
			conn.conn.SetReadDeadline(time.Now().Add(c.timeout))
		}

		msg, err := conn.dec.Decode()
		if err != nil {
			conn.Release()
			return applied, err
		}

		if err := c.checkVersion(msg); err != nil {
			conn.Release()
			return applied, err
		}

		switch resp := msg.(type) {
		case *TxChunk:
			if err := dest.AppendTransactions(resp.Txs); err != nil {
				conn.Release()
				return applied, err
			}
			applied += len(resp.Txs)
		case *StreamEnd:
			conn.proto.Expect(ExpectMessageType)
			c.returnConn(conn)
			return applied, nil
		case *ErrorResponse:
			conn.Release()
			return applied, remoteError(resp)
		default:
			conn.Release()
			return applied, decodeErrorf("unexpected message %s during tx stream", msg.MessageType())
		}
	}
}

// remoteError converts a server ErrorResponse into the matching local error
// type.
func remoteError(resp *ErrorResponse) error {
	switch resp.Code {
	case ECodeVersionMismatch:
		return &VersionMismatchError{Local: version.ProtocolVersion, Remote: resp.Version}
	case ECodeStoreIdMismatch:
		return fmt.Errorf("remote refused store copy: %s", resp.Message)
	default:
		return fmt.Errorf("remote error: %s", resp.Message)
	}
}
