package catchup

// NextMessage is the per-connection expectation of which message kind is valid
// next. It drives context-dependent decoding: a frame that does not match the
// active expectation is never parsed as a structured message.
type NextMessage uint8

const (
	// ExpectMessageType means the connection is between exchanges: any fresh
	// request (server side) or control message is acceptable next.
	ExpectMessageType NextMessage = iota
	// ExpectStoreId means a store-id response is the only structured message
	// acceptable next.
	ExpectStoreId
	// ExpectSnapshot means a snapshot response is the only structured message
	// acceptable next.
	ExpectSnapshot
	// ExpectFileChunks means file chunks or an end-of-stream marker are
	// acceptable next.
	ExpectFileChunks
	// ExpectTxChunks means transaction chunks or an end-of-stream marker are
	// acceptable next.
	ExpectTxChunks
)

func (s NextMessage) String() string {
	switch s {
	case ExpectMessageType:
		return "MessageType"
	case ExpectStoreId:
		return "StoreId"
	case ExpectSnapshot:
		return "Snapshot"
	case ExpectFileChunks:
		return "FileChunks"
	case ExpectTxChunks:
		return "TxChunks"
	default:
		return "Unknown"
	}
}

// protocol is the single mutable piece of per-connection state the catch-up
// subsystem owns. It is only ever touched by the handler currently executing
// for its connection, so it needs no locking.
type protocol struct {
	expecting NextMessage
	armed     bool
}

// Expect re-arms the protocol with the next expected message kind. Every
// handler must call it exactly once before returning; the serve loop fails
// loudly otherwise.
func (p *protocol) Expect(next NextMessage) {
	p.expecting = next
	p.armed = true
}

// IsExpecting reports whether state is the active expectation.
func (p *protocol) IsExpecting(state NextMessage) bool {
	return p.expecting == state
}

// Expecting returns the active expectation.
func (p *protocol) Expecting() NextMessage {
	return p.expecting
}

// beginDispatch clears the armed flag before a handler runs, so that a
// handler that forgets to call Expect is detected.
func (p *protocol) beginDispatch() {
	p.armed = false
}

// reArmed reports whether Expect was called since the last beginDispatch.
func (p *protocol) reArmed() bool {
	return p.armed
}

// ClientProtocol tracks which response kind the client side of a connection is
// entitled to read next.
type ClientProtocol struct {
	protocol
}

// NewClientProtocol returns a client protocol in its initial state.
func NewClientProtocol() *ClientProtocol {
	p := &ClientProtocol{}
	p.Expect(ExpectMessageType)
	return p
}

// ServerProtocol tracks which request kind the server side of a connection is
// ready to serve next.
type ServerProtocol struct {
	protocol
}

// NewServerProtocol returns a server protocol in its initial state, awaiting
// a fresh request.
func NewServerProtocol() *ServerProtocol {
	p := &ServerProtocol{}
	p.Expect(ExpectMessageType)
	return p
}
