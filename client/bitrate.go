package client

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"udpbench/affinity"
	"udpbench/clock"
	"udpbench/protocol"
	"udpbench/rtt"
)

// RunBitrate paces a single sender so the request stream carries roughly
// bitrate*scale bits per second, while four pinned receivers collect the
// responses until d has elapsed.
func (e *Engine) RunBitrate(ctx context.Context, d time.Duration, bitrate int64, scale BitrateScale, table *rtt.Table) (Result, error) {
	if table == nil {
		table = rtt.NewTable()
	}

	r, closeFn, err := e.open(ctx, ByDurationCustomBitrate)
	if err != nil {
		return Result{}, err
	}
	defer closeFn()

	cores, err := affinity.Take(r.cores, bitrateReceivers)
	if err != nil {
		return Result{}, err
	}

	interval := Interval(e.PayloadSize, bitrate, scale)
	r.log.Info("pacing sender",
		zap.Int64("bitrate", bitrate),
		zap.Stringer("scale", scale),
		zap.Duration("interval", interval))

	var g errgroup.Group
	start := time.Now()

	for i := 0; i < bitrateReceivers; i++ {
		core := cores[i%len(cores)]
		g.Go(func() error {
			r.pin(core)
			r.durationReceiver(ctx, start, d, table)
			return nil
		})
	}
	g.Go(func() error {
		r.pacedSender(ctx, start, d, interval, table)
		return nil
	})

	wait(&g)

	res := r.counters.result(ByDurationCustomBitrate, d)
	r.log.Info("speedtest finished", res.Fields()...)
	return res, nil
}

// pacedSender sends one request per interval until d has elapsed since start.
// The last wait is cut short at the end of the run.
func (r *run) pacedSender(ctx context.Context, start time.Time, d, interval time.Duration, table rtt.Recorder) {
	buf := make([]byte, 0, protocol.HeaderLen+len(r.payload))
	end := start.Add(d)
	for time.Now().Before(end) {
		id, tracked := r.nextID()
		ts := rtt.Now()
		switch r.send(r.request(id, buf)) {
		case sendClosed:
			return
		case sendOK:
			if tracked {
				table.RecordSend(id, ts)
			}
		}
		if !clock.Sleep(ctx, clock.Until(end, interval)) {
			return
		}
	}
}
