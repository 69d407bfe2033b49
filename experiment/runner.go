// Package experiment drives benchmark runs: a single measurement or a loop
// over servers and payload sizes, evaluating and persisting the RTTs of each.
package experiment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"udpbench/client"
	"udpbench/clock"
	"udpbench/logging"
	"udpbench/report"
	"udpbench/rtt"
)

// Target is the server and payload size of one run.
type Target struct {
	ServerAddr  string
	PayloadSize int
}

// Benchmark performs one measurement.
type Benchmark interface {
	Run(ctx context.Context, t Target, p client.Params, table *rtt.Table) (client.Result, error)
}

// EngineBenchmark runs measurements on copies of Base retargeted per run.
type EngineBenchmark struct {
	Base client.Engine
}

func (b EngineBenchmark) Run(ctx context.Context, t Target, p client.Params, table *rtt.Table) (client.Result, error) {
	e := b.Base
	e.ServerAddr = t.ServerAddr
	e.PayloadSize = t.PayloadSize
	return e.Run(ctx, p, table)
}

// Plan repeats every (server, payload size) pair Count times, pausing
// Interval after each run.
type Plan struct {
	Count        int
	Interval     time.Duration
	Servers      []string
	PayloadSizes []int
}

// Outcome is what one run produced. Summary is nil when the mode keeps no
// table or no round trip completed.
type Outcome struct {
	Target
	Iteration int
	Result    client.Result
	Summary   *report.Summary
}

// Runner evaluates and stores the results of benchmark runs.
type Runner struct {
	Bench  Benchmark
	Params client.Params
	// Sink receives one summary per evaluated run; nil keeps nothing.
	Sink report.Sink
	// RawPath, when set, receives the raw samples of single runs.
	RawPath string
	Logger  *zap.Logger
	// Sleep waits between experiment runs and reports false once ctx is done.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Single performs one run against t.
func (r *Runner) Single(ctx context.Context, t Target) (Outcome, error) {
	log := logging.OrNop(r.Logger)
	log.Info("starting single mode", zap.Stringer("mode", r.Params.Mode))

	out, samples, err := r.runOnce(ctx, t, 0)
	if err != nil {
		return out, err
	}
	if r.RawPath != "" && samples != nil {
		if err := report.WriteRaw(r.RawPath, samples); err != nil {
			log.Error("write raw samples", zap.String("path", r.RawPath), zap.Error(err))
		}
	}
	return out, nil
}

// Experiment runs plan and returns the outcome of every completed run. It
// stops early, without error, once ctx is done.
func (r *Runner) Experiment(ctx context.Context, plan Plan) ([]Outcome, error) {
	log := logging.OrNop(r.Logger)
	sleep := r.Sleep
	if sleep == nil {
		sleep = clock.Sleep
	}

	log.Info("starting experiment mode",
		zap.Stringer("mode", r.Params.Mode),
		zap.Int("count", plan.Count),
		zap.Strings("servers", plan.Servers),
		zap.Ints("payloadSizes", plan.PayloadSizes))

	var outcomes []Outcome
	for i := 0; i < plan.Count; i++ {
		log.Info("starting experiment iteration", zap.Int("iteration", i))
		for _, server := range plan.Servers {
			for _, size := range plan.PayloadSizes {
				if ctx.Err() != nil {
					return outcomes, nil
				}
				log.Info("starting experiment run", zap.String("server", server), zap.Int("payloadSize", size))

				out, _, err := r.runOnce(ctx, Target{ServerAddr: server, PayloadSize: size}, i)
				if err != nil {
					return outcomes, err
				}
				outcomes = append(outcomes, out)

				if !sleep(ctx, plan.Interval) {
					return outcomes, nil
				}
			}
		}
	}
	return outcomes, nil
}

func (r *Runner) runOnce(ctx context.Context, t Target, iteration int) (Outcome, []int64, error) {
	log := logging.OrNop(r.Logger).With(zap.String("server", t.ServerAddr), zap.Int("payloadSize", t.PayloadSize))
	out := Outcome{Target: t, Iteration: iteration}

	var table *rtt.Table
	if r.Params.Mode.UsesTable() {
		table = rtt.NewTable()
	}

	res, err := r.Bench.Run(ctx, t, r.Params, table)
	if err != nil {
		return out, nil, err
	}
	out.Result = res
	if table == nil {
		return out, nil, nil
	}

	if res.Untracked > 0 {
		log.Warn("rtt statistics cover only the first session ids",
			zap.Uint64("untracked", res.Untracked),
			zap.Int("records", table.Len()))
	}

	samples, negative := nonNegative(table.Snapshot())
	if negative > 0 {
		log.Warn("discarding negative round trips", zap.Int("count", negative))
	}
	log.Debug("rtt samples", zap.Int64s("rtts", samples))

	stats, err := rtt.Evaluate(samples)
	if err != nil {
		log.Warn("no statistics for run", zap.Int("records", table.Len()), zap.Error(err))
		return out, samples, nil
	}
	logStats(log, stats)

	sum := report.NewSummary(t.ServerAddr, r.Params.Mode.String(), stats, table.Len())
	out.Summary = &sum
	if r.Sink != nil {
		if err := r.Sink.Append(sum); err != nil {
			log.Error("store summary", zap.String("runID", sum.RunID), zap.Error(err))
		}
	}
	return out, samples, nil
}

// nonNegative drops the samples below zero, which only a clock step or a
// reused session id can produce.
func nonNegative(samples []int64) ([]int64, int) {
	kept := samples[:0]
	for _, s := range samples {
		if s >= 0 {
			kept = append(kept, s)
		}
	}
	return kept, len(samples) - len(kept)
}

func logStats(log *zap.Logger, s rtt.Stats) {
	log.Info("rtt statistics (us)",
		zap.Int("completed", s.Count),
		zap.Float64("average", s.Mean),
		zap.Int64("median", s.Median),
		zap.Int64("min", s.Min),
		zap.Int64("max", s.Max),
		zap.Float64("variance", s.Variance),
		zap.Float64("stddev", s.StdDev),
		zap.Int64("p95", s.P95))
}
