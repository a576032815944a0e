package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/italolelis/zher/internal/logctx"
	"github.com/italolelis/zher/internal/telemetry"
)

const (
	defaultTimeout      = 3 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	maxDatagramSize     = 1024
)

// TargetLister yields the broadcast addresses a round probes.
type TargetLister interface {
	BroadcastTargets(ctx context.Context) []netip.Addr
}

// StaticTargets is a fixed TargetLister.
type StaticTargets []netip.Addr

func (s StaticTargets) BroadcastTargets(context.Context) []netip.Addr {
	return s
}

// Service runs discovery rounds. Each round uses its own socket, so concurrent
// calls to Discover are safe.
type Service struct {
	proto        Protocol
	targets      TargetLister
	timeout      time.Duration
	pollInterval time.Duration
	telemetry    *telemetry.Telemetry
}

// Option configures a Service.
type Option func(*Service)

// WithTargets replaces the source of broadcast targets.
func WithTargets(t TargetLister) Option {
	return func(s *Service) { s.targets = t }
}

// WithTimeout sets the length of a discovery round.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPollInterval sets how long a single socket read may block.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithTelemetry records discovery rounds.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Service) { s.telemetry = t }
}

// NewService creates a discovery Service. Without WithTargets it probes nothing.
func NewService(proto Protocol, opts ...Option) *Service {
	s := &Service{
		proto:        proto,
		targets:      StaticTargets(nil),
		timeout:      defaultTimeout,
		pollInterval: defaultPollInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Discover probes every broadcast target and collects announcements until the
// round's timeout elapses. Peers are sorted and deduplicated by address.
// Only socket setup failures and context cancellation are reported as errors.
func (s *Service) Discover(ctx context.Context) ([]PeerInfo, error) {
	var peers []PeerInfo

	err := s.telemetry.InstrumentDiscovery(ctx, func(ctx context.Context) (int, error) {
		var err error

		peers, err = s.discover(ctx)

		return len(peers), err
	})

	return peers, err
}

func (s *Service) discover(ctx context.Context) ([]PeerInfo, error) {
	logger := logctx.LoggerFromContext(ctx).With("component", "discovery")

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, &SocketSetupError{Operation: "bind", Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)

	targets := s.targets.BroadcastTargets(ctx)
	if err := s.sendProbes(ctx, conn, targets); err != nil {
		logger.WarnContext(ctx, "some probes could not be sent", "err", err)
	}

	logger.DebugContext(ctx, "probes sent", "targets", len(targets), "timeout", s.timeout)

	peers := make([]PeerInfo, 0)
	prefix := s.proto.ReplyPrefix()
	buf := make([]byte, maxDatagramSize)

	for {
		now := time.Now()
		if !now.Before(deadline) {
			break
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("discovery round interrupted: %w", err)
		}

		readBy := now.Add(s.pollInterval)
		if readBy.After(deadline) {
			readBy = deadline
		}

		if err := conn.SetReadDeadline(readBy); err != nil {
			return nil, &SocketSetupError{Operation: "set read deadline", Err: err}
		}

		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			logger.WarnContext(ctx, "discovery poll stopped early", "err", err)

			break
		}

		if !bytes.HasPrefix(buf[:n], prefix) {
			continue
		}

		peers = append(peers, newPeerInfo(from.Addr().Unmap(), s.proto.ServicePort))
	}

	slices.SortFunc(peers, func(a, b PeerInfo) int { return a.IP.Compare(b.IP) })
	peers = slices.CompactFunc(peers, func(a, b PeerInfo) bool { return a.IP == b.IP })

	logger.InfoContext(ctx, "discovery round finished", "peers", len(peers))

	return peers, nil
}

// sendProbes fires the probe at every target. A failed send does not stop the
// others; the first failure is returned once all sends are done.
func (s *Service) sendProbes(ctx context.Context, conn *net.UDPConn, targets []netip.Addr) error {
	logger := logctx.LoggerFromContext(ctx)
	probe := s.proto.Probe()

	var g errgroup.Group

	for _, target := range targets {
		g.Go(func() error {
			dst := netip.AddrPortFrom(target, s.proto.DiscoveryPort)
			if _, err := conn.WriteToUDPAddrPort(probe, dst); err != nil {
				logger.DebugContext(ctx, "failed to send probe", "target", dst.String(), "err", err)

				return fmt.Errorf("probe to %s: %w", dst, err)
			}

			return nil
		})
	}

	return g.Wait()
}
