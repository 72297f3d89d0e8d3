package net

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generated UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// process-global registry of in-memory listeners
var (
	inmemRegistry     = map[string]*InmemStreamLayer{}
	inmemRegistryLock sync.Mutex
)

type inmemAddr struct {
	addr string
}

func (a inmemAddr) Network() string { return "inmem" }
func (a inmemAddr) String() string  { return a.addr }

// InmemStreamLayer implements the StreamLayer interface with net.Pipe
// connections, to allow the catch-up protocol to be tested without going over
// a network.
type InmemStreamLayer struct {
	addr     string
	acceptCh chan net.Conn

	closed     bool
	closedCh   chan struct{}
	closedLock sync.Mutex
}

// NewInmemStreamLayer creates an in-memory stream layer and registers it under
// the given address. An empty address is replaced with a random one.
func NewInmemStreamLayer(addr string) (string, *InmemStreamLayer) {
	if addr == "" {
		addr = NewInmemAddr()
	}

	layer := &InmemStreamLayer{
		addr:     addr,
		acceptCh: make(chan net.Conn, 16),
		closedCh: make(chan struct{}),
	}

	inmemRegistryLock.Lock()
	inmemRegistry[addr] = layer
	inmemRegistryLock.Unlock()

	return addr, layer
}

// Dial implements the StreamLayer interface.
func (i *InmemStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	inmemRegistryLock.Lock()
	remote, ok := inmemRegistry[address]
	inmemRegistryLock.Unlock()

	if !ok {
		return nil, fmt.Errorf("failed to connect to %s: no such in-memory listener", address)
	}

	local, served := net.Pipe()

	select {
	case remote.acceptCh <- served:
		return local, nil
	case <-remote.closedCh:
		return nil, fmt.Errorf("failed to connect to %s: listener closed", address)
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out connecting to %s", address)
	}
}

// Accept implements the net.Listener interface.
func (i *InmemStreamLayer) Accept() (net.Conn, error) {
	select {
	case conn := <-i.acceptCh:
		return conn, nil
	case <-i.closedCh:
		return nil, errors.New("stream layer closed")
	}
}

// Close implements the net.Listener interface.
func (i *InmemStreamLayer) Close() error {
	i.closedLock.Lock()
	defer i.closedLock.Unlock()

	if !i.closed {
		i.closed = true
		close(i.closedCh)

		inmemRegistryLock.Lock()
		delete(inmemRegistry, i.addr)
		inmemRegistryLock.Unlock()
	}
	return nil
}

// Addr implements the net.Listener interface.
func (i *InmemStreamLayer) Addr() net.Addr {
	return inmemAddr{addr: i.addr}
}

// AdvertiseAddr implements the StreamLayer interface.
func (i *InmemStreamLayer) AdvertiseAddr() string {
	return i.addr
}
