// Package client drives benchmark traffic against an echo server and measures
// throughput and round-trip times.
package client

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"udpbench/affinity"
	"udpbench/logging"
	"udpbench/protocol"
	"udpbench/rtt"
)

const (
	// DefaultReadTimeout bounds every receive so workers re-check their stop
	// condition at least this often.
	DefaultReadTimeout = 5 * time.Second

	durationWorkers  = 4
	bitrateReceivers = 4
	batchSize        = 10

	sessionSpace = 1 << 16
)

// Engine runs benchmark modes from one client address against one server.
type Engine struct {
	ServerAddr  string
	ClientAddr  string
	PayloadSize int

	Cores  affinity.Provider
	Logger *zap.Logger

	// ReadTimeout defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
	// ListenPacket defaults to net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)
}

// Params selects a mode and its knobs.
type Params struct {
	Mode         Mode
	Duration     time.Duration
	PacketCount  int
	Bitrate      int64
	Scale        BitrateScale
	PingInterval time.Duration
}

// Run executes the mode in p. table receives the RTT records of every mode
// except packet_count; a nil table is replaced by a private one.
func (e *Engine) Run(ctx context.Context, p Params, table *rtt.Table) (Result, error) {
	switch p.Mode {
	case ByDurationCustomBitrate:
		return e.RunBitrate(ctx, p.Duration, p.Bitrate, p.Scale, table)
	case ByPacketCount:
		return e.RunPacketCount(ctx, p.PacketCount)
	case Ping:
		return e.RunPing(ctx, p.Duration, p.PingInterval, table)
	default:
		return e.RunDuration(ctx, p.Duration, table)
	}
}

// run is the per-invocation state shared by the workers of one mode.
type run struct {
	conn     net.PacketConn
	server   net.Addr
	timeout  time.Duration
	payload  []byte
	cores    affinity.Provider
	log      *zap.Logger
	counters RunCounters

	seq     atomic.Uint64
	wrapped atomic.Bool
}

func (e *Engine) open(ctx context.Context, mode Mode) (*run, func(), error) {
	if e.PayloadSize < 0 || e.PayloadSize > protocol.MaxPayload {
		return nil, nil, errors.Errorf("payload size %d outside [0, %d]", e.PayloadSize, protocol.MaxPayload)
	}
	if e.Cores == nil {
		return nil, nil, errors.New("no core provider")
	}

	log := logging.OrNop(e.Logger).With(zap.Stringer("mode", mode), zap.String("server", e.ServerAddr))

	server, err := net.ResolveUDPAddr("udp", e.ServerAddr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "resolve server %s", e.ServerAddr)
	}

	listen := e.ListenPacket
	if listen == nil {
		listen = net.ListenPacket
	}
	log.Debug("binding client socket", zap.String("client", e.ClientAddr))
	conn, err := listen("udp", e.ClientAddr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "bind client socket %s", e.ClientAddr)
	}
	log.Info("socket bound", zap.Stringer("local", conn.LocalAddr()))

	timeout := e.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	closeFn := func() {
		stop()
		conn.Close()
	}

	return &run{
		conn:    conn,
		server:  server,
		timeout: timeout,
		payload: make([]byte, e.PayloadSize),
		cores:   e.Cores,
		log:     log,
	}, closeFn, nil
}

// pin binds the calling worker to core. Failure leaves the worker unpinned.
func (r *run) pin(core affinity.CoreID) {
	if err := affinity.PinCurrent(r.cores, core); err != nil {
		r.log.Warn("pin failed, running unpinned", zap.Int("core", int(core)), zap.Error(err))
	}
}

type recvStatus int

const (
	recvOK recvStatus = iota
	recvRetry
	recvClosed
)

// receive reads one datagram and decodes it. The read gives up after the
// configured timeout or at until, whichever is first; a zero until means no
// bound. ts is taken right after the read returns, before any decoding work.
func (r *run) receive(buf []byte, until time.Time) (f protocol.Frame, n int, ts int64, status recvStatus) {
	deadline := time.Now().Add(r.timeout)
	if !until.IsZero() && until.Before(deadline) {
		deadline = until
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return f, 0, 0, recvClosed
		}
		r.log.Error("set read deadline", zap.Error(err))
	}

	n, _, err := r.conn.ReadFrom(buf)
	ts = rtt.Now()
	switch {
	case err == nil:
	case errors.Is(err, os.ErrDeadlineExceeded):
		r.log.Debug("no data received yet, continuing")
		return f, 0, 0, recvRetry
	case errors.Is(err, net.ErrClosed):
		return f, 0, 0, recvClosed
	default:
		r.log.Error("receive", zap.Error(err))
		return f, 0, 0, recvRetry
	}

	f, err = protocol.DecodeNoCopy(buf[:n])
	if err != nil {
		r.counters.malformed.Add(1)
		r.log.Debug("discarding datagram", zap.Int("bytes", n), zap.Error(err))
		return f, n, ts, recvRetry
	}
	r.log.Debug("received", zap.Stringer("frame", f))
	return f, n, ts, recvOK
}

// send writes one encoded frame and accounts for it.
func (r *run) send(b []byte) sendStatus {
	start := time.Now()
	_, err := r.conn.WriteTo(b, r.server)
	took := time.Since(start)
	if err != nil {
		r.counters.sendErrors.Add(1)
		if errors.Is(err, net.ErrClosed) {
			return sendClosed
		}
		r.log.Warn("send", zap.Error(err))
		return sendFailed
	}
	r.counters.sent(len(b), took)
	return sendOK
}

type sendStatus int

const (
	sendOK sendStatus = iota
	sendFailed
	sendClosed
)

// nextID hands out session ids from a counter shared by all senders of a run.
// Ids are 16 bits wide. Once the id space is used up the run keeps sending,
// but tracked is false: an id reused within one table would pair a new send
// with an old receive. The first untracked request logs a warning.
func (r *run) nextID() (id protocol.SessionID, tracked bool) {
	seq := r.seq.Add(1) - 1
	if seq < sessionSpace {
		return protocol.SessionID(seq), true
	}
	r.wrapped.Store(true)
	r.counters.untracked.Add(1)
	if seq == sessionSpace {
		r.log.Warn("session ids exhausted, RTT recording stopped", zap.Uint64("requests", seq))
	}
	return protocol.SessionID(seq), false
}

func (r *run) request(id protocol.SessionID, buf []byte) []byte {
	f := protocol.Frame{Type: protocol.Request, SessionID: id, Payload: r.payload}
	return f.AppendTo(buf[:0])
}

// durationReceiver records responses until d has elapsed since start. After
// the session ids are exhausted responses are still counted but no longer
// recorded.
func (r *run) durationReceiver(ctx context.Context, start time.Time, d time.Duration, table rtt.Recorder) {
	buf := make([]byte, protocol.MaxDatagram)
	until := start.Add(d)
	for time.Since(start) < d && ctx.Err() == nil {
		f, n, ts, status := r.receive(buf, until)
		if status == recvClosed {
			return
		}
		if status != recvOK {
			continue
		}
		r.counters.received(n)
		if f.Type != protocol.Response || r.wrapped.Load() {
			continue
		}
		table.RecordReceive(f.SessionID, ts)
	}
}

func wait(g *errgroup.Group) {
	// workers never return errors; they log and carry on
	_ = g.Wait()
}
