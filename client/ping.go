package client

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"udpbench/affinity"
	"udpbench/rtt"
)

// RunPing sends one request every interval for d and records every round
// trip in table. The receiver is pinned to the first core.
func (e *Engine) RunPing(ctx context.Context, d, interval time.Duration, table *rtt.Table) (Result, error) {
	if table == nil {
		table = rtt.NewTable()
	}

	r, closeFn, err := e.open(ctx, Ping)
	if err != nil {
		return Result{}, err
	}
	defer closeFn()

	cores, err := affinity.Take(r.cores, 1)
	if err != nil {
		return Result{}, err
	}
	r.log.Info("pinging", zap.Duration("interval", interval), zap.Duration("duration", d))

	var g errgroup.Group
	start := time.Now()

	g.Go(func() error {
		r.pin(cores[0])
		r.durationReceiver(ctx, start, d, table)
		return nil
	})
	g.Go(func() error {
		r.pacedSender(ctx, start, d, interval, table)
		return nil
	})

	wait(&g)

	res := r.counters.result(Ping, d)
	r.log.Info("ping finished", append(res.Fields(), zap.Int("replies", len(table.Snapshot())))...)
	return res, nil
}
