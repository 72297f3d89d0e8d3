package net

import (
	"net"
	"time"
)

// StreamLayer provides the low level ordered byte-stream abstraction that the
// catch-up server and client are built on.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr returns the publicly-reachable address of the stream
	AdvertiseAddr() string
}
