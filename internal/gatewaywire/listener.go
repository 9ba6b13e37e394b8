package gatewaywire

import (
	"net"

	"github.com/casual-go/casual/internal/casualerr"
)

// ListenerConfig configures the inbound gateway accept loop.
type ListenerConfig struct {
	Addr    string
	Local   Handshake
	Handler func(conn *Conn, remote Handshake)
	OnError func(error)
}

// Listener is the passive side of a gateway connection, modeled on the
// teacher's tcp.StartTCPListener accept loop, with the WebSocket
// handshake replaced by casual's domain handshake.
type Listener struct {
	ln net.Listener
}

// Listen opens the TCP listening socket for inbound gateway
// connections.
func Listen(cfg ListenerConfig) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, casualerr.Newf(casualerr.KindCommunicationUnavailable, "gateway listen %s: %v", cfg.Addr, err)
	}
	l := &Listener{ln: ln}
	go l.acceptLoop(cfg)
	return l, nil
}

func (l *Listener) acceptLoop(cfg ListenerConfig) {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
			return
		}
		go func() {
			conn, remote, err := Accept(nc, cfg.Local)
			if err != nil {
				nc.Close()
				if cfg.OnError != nil {
					cfg.OnError(err)
				}
				return
			}
			cfg.Handler(conn, remote)
		}()
	}
}

// Addr reports the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
