package net

import (
	"crypto/tls"
	"net"
	"time"
)

// TLSStreamLayer implements the StreamLayer interface over TLS. For
// certificate verification, the ServerName in the config needs to match one of
// the common names or alt names in the server certificate.
type TLSStreamLayer struct {
	advertise string
	listener  net.Listener
	config    *tls.Config
}

// NewTLSStreamLayer binds a TLS listener with the given config.
func NewTLSStreamLayer(bindAddr string, advertiseAddr string, config *tls.Config) (*TLSStreamLayer, error) {
	listener, err := tls.Listen("tcp", bindAddr, config)
	if err != nil {
		return nil, err
	}

	return &TLSStreamLayer{
		advertise: advertiseAddr,
		listener:  listener,
		config:    config,
	}, nil
}

// Dial implements the StreamLayer interface.
func (t *TLSStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(&dialer, "tcp", address, t.config)
}

// Accept implements the net.Listener interface.
func (t *TLSStreamLayer) Accept() (c net.Conn, err error) {
	return t.listener.Accept()
}

// Close implements the net.Listener interface.
func (t *TLSStreamLayer) Close() (err error) {
	return t.listener.Close()
}

// Addr implements the net.Listener interface.
func (t *TLSStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface.
func (t *TLSStreamLayer) AdvertiseAddr() string {
	if t.advertise != "" {
		return t.advertise
	}
	return t.listener.Addr().String()
}
