package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/italolelis/zher/internal/logctx"
)

// Responder answers presence probes so that other peers can find this one.
type Responder struct {
	proto Protocol
	conn  *net.UDPConn
}

// ListenResponder binds the discovery socket at addr, for example ":4837".
func ListenResponder(proto Protocol, addr string) (*Responder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, &SocketSetupError{Operation: "resolve", Err: err}
	}

	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, &SocketSetupError{Operation: "bind", Err: err}
	}

	return &Responder{proto: proto, conn: conn}, nil
}

// Addr returns the bound address.
func (r *Responder) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Serve answers probes until the context is cancelled or Close is called.
func (r *Responder) Serve(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "discovery_responder")

	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	probe := r.proto.Probe()
	reply := r.proto.Reply()
	buf := make([]byte, maxDatagramSize)

	logger.InfoContext(ctx, "answering discovery probes", "addr", r.Addr().String())

	for {
		n, from, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("failed to read probe: %w", err)
		}

		if !bytes.Equal(bytes.TrimSpace(buf[:n]), probe) {
			continue
		}

		if _, err := r.conn.WriteToUDPAddrPort(reply, from); err != nil {
			logger.WarnContext(ctx, "failed to answer probe", "peer", from.String(), "err", err)

			continue
		}

		logger.DebugContext(ctx, "answered probe", "peer", from.String())
	}
}

// Close stops Serve.
func (r *Responder) Close() error {
	if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
