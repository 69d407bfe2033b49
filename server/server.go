// Package server echoes benchmark frames back to their sender, optionally
// impairing the responses with loss, jitter, delay, duplication or reordering.
package server

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"udpbench/affinity"
	"udpbench/clock"
	"udpbench/logging"
	"udpbench/protocol"
)

// DefaultWorkers is the number of receive loops started when Options.Workers
// is not set.
const DefaultWorkers = 4

// Options configure a Server.
type Options struct {
	Policy  Policy
	Workers int
	Cores   affinity.Provider
	Logger  *zap.Logger
	Metrics *Metrics
	// Seed seeds the per-worker random sources; zero picks a time-based seed.
	Seed int64
	// ListenPacket defaults to net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)
}

// Server owns a bound UDP socket shared by its workers.
type Server struct {
	conn    net.PacketConn
	policy  Policy
	workers int
	cores   affinity.Provider
	log     *zap.Logger
	count   policyCounters
	seed    int64

	// guard serializes the receive and send of one response across workers.
	guard sync.Mutex
}

// Listen binds addr and prepares a server. The socket stays open until Serve
// returns or Close is called.
func Listen(addr string, opts Options) (*Server, error) {
	if opts.Cores == nil {
		return nil, errors.New("no core provider")
	}
	policy := opts.Policy
	if policy == nil {
		policy = passThrough{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	listen := opts.ListenPacket
	if listen == nil {
		listen = net.ListenPacket
	}
	conn, err := listen("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind server socket %s", addr)
	}

	log := logging.OrNop(opts.Logger).With(zap.String("policy", policy.Name()))
	log.Info("server bound", zap.Stringer("local", conn.LocalAddr()))

	return &Server{
		conn:    conn,
		policy:  policy,
		workers: workers,
		cores:   opts.Cores,
		log:     log,
		count:   opts.Metrics.forPolicy(policy.Name()),
		seed:    seed,
	}, nil
}

// Addr is the bound local address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Close closes the socket, which stops every worker.
func (s *Server) Close() error { return s.conn.Close() }

// Serve runs min(workers, cores) pinned workers until ctx is done or the
// socket is closed. The socket is closed when Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	defer s.conn.Close()
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	cores, err := affinity.Take(s.cores, s.workers)
	if err != nil {
		return err
	}
	s.log.Info("serving", zap.Int("workers", len(cores)))

	var g errgroup.Group
	for i, core := range cores {
		rng := rand.New(rand.NewSource(s.seed + int64(i)))
		g.Go(func() error {
			if err := affinity.PinCurrent(s.cores, core); err != nil {
				s.log.Warn("pin failed, running unpinned", zap.Int("core", int(core)), zap.Error(err))
			}
			s.work(ctx, rng)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("server stopped")
	return nil
}

func (s *Server) work(ctx context.Context, rng *rand.Rand) {
	buf := make([]byte, protocol.MaxDatagram)
	out := make([]byte, 0, protocol.MaxDatagram)

	for {
		s.guard.Lock()
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.guard.Unlock()
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("receive", zap.Error(err))
			continue
		}

		f, err := protocol.DecodeNoCopy(buf[:n])
		if err != nil {
			s.guard.Unlock()
			s.count.malformed.Inc()
			s.log.Debug("discarding datagram", zap.Stringer("from", addr), zap.Error(err))
			continue
		}
		s.count.received.Inc()

		reply := f.Reply().AppendTo(out[:0])
		act := s.policy.Decide(rng)

		switch {
		case act.Drop:
			s.guard.Unlock()
			s.count.dropped.Inc()
			s.log.Debug("dropped", zap.Stringer("frame", f))
		case act.Delay > 0:
			s.guard.Unlock()
			s.count.delayed.Inc()
			if !clock.Sleep(ctx, act.Delay) {
				return
			}
			s.send(reply, addr)
		default:
			s.send(reply, addr)
			if act.Duplicate {
				s.count.duplicated.Inc()
				s.send(reply, addr)
			}
			s.guard.Unlock()
		}
	}
}

func (s *Server) send(b []byte, to net.Addr) {
	if _, err := s.conn.WriteTo(b, to); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.log.Warn("send", zap.Stringer("to", to), zap.Error(err))
		}
		return
	}
	s.count.sent.Inc()
}
