package client

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"udpbench/affinity"
	"udpbench/protocol"
	"udpbench/rtt"
)

// RunDuration floods the server for d with four senders and four receivers,
// each pinned to one of the first four cores. Senders write batches of
// batchSize requests between checks of the deadline.
func (e *Engine) RunDuration(ctx context.Context, d time.Duration, table *rtt.Table) (Result, error) {
	if table == nil {
		table = rtt.NewTable()
	}

	r, closeFn, err := e.open(ctx, ByDuration)
	if err != nil {
		return Result{}, err
	}
	defer closeFn()

	cores, err := affinity.Take(r.cores, durationWorkers)
	if err != nil {
		return Result{}, err
	}

	var g errgroup.Group
	start := time.Now()

	for i := 0; i < durationWorkers; i++ {
		core := cores[i%len(cores)]
		g.Go(func() error {
			r.pin(core)
			r.durationReceiver(ctx, start, d, table)
			return nil
		})
	}
	for i := 0; i < durationWorkers; i++ {
		core := cores[i%len(cores)]
		g.Go(func() error {
			r.pin(core)
			r.durationSender(ctx, start, d, table)
			return nil
		})
	}

	wait(&g)

	res := r.counters.result(ByDuration, d)
	r.log.Info("speedtest finished", res.Fields()...)
	return res, nil
}

func (r *run) durationSender(ctx context.Context, start time.Time, d time.Duration, table rtt.Recorder) {
	buf := make([]byte, 0, protocol.HeaderLen+len(r.payload))
	for time.Since(start) < d && ctx.Err() == nil {
		for i := 0; i < batchSize; i++ {
			id, tracked := r.nextID()
			b := r.request(id, buf)
			ts := rtt.Now()
			switch r.send(b) {
			case sendClosed:
				return
			case sendOK:
				if tracked {
					table.RecordSend(id, ts)
				}
			}
		}
	}
}
