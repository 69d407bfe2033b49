package client

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"udpbench/protocol"
)

// RunPacketCount sends exactly n requests with session ids 0..n-1 and waits
// until n responses have come back. Lost responses keep the receiver waiting
// until ctx is cancelled. No RTT table is kept.
func (e *Engine) RunPacketCount(ctx context.Context, n int) (Result, error) {
	r, closeFn, err := e.open(ctx, ByPacketCount)
	if err != nil {
		return Result{}, err
	}
	defer closeFn()

	if n > sessionSpace {
		r.log.Warn("packet count exceeds the session id space, ids will repeat", zap.Int("count", n))
	}

	var g errgroup.Group
	g.Go(func() error {
		r.countReceiver(ctx, n)
		return nil
	})
	g.Go(func() error {
		buf := make([]byte, 0, protocol.HeaderLen+len(r.payload))
		for i := 0; i < n && ctx.Err() == nil; i++ {
			if r.send(r.request(protocol.SessionID(i), buf)) == sendClosed {
				return nil
			}
		}
		r.log.Debug("all requests sent", zap.Int("count", n))
		return nil
	})

	wait(&g)

	res := r.counters.result(ByPacketCount, 0)
	r.log.Info("speedtest finished", res.Fields()...)
	return res, nil
}

func (r *run) countReceiver(ctx context.Context, n int) {
	buf := make([]byte, protocol.MaxDatagram)
	for got := 0; got < n && ctx.Err() == nil; {
		f, size, _, status := r.receive(buf, time.Time{})
		if status == recvClosed {
			return
		}
		if status != recvOK {
			continue
		}
		if f.Type != protocol.Response {
			continue
		}
		r.counters.received(size)
		got++
	}
}
