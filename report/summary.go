// Package report persists RTT samples and per-run statistics.
package report

import (
	"time"

	"github.com/rs/xid"
	"go.uber.org/multierr"

	"udpbench/rtt"
)

// Summary is the evaluated outcome of one run against one server.
type Summary struct {
	RunID      string
	CreatedAt  time.Time
	ServerAddr string
	Mode       string

	Stats rtt.Stats
	// Samples counts every record in the table, Completed only those with
	// both timestamps set.
	Samples   int
	Completed int
}

// NewSummary stamps stats with a fresh run id and the current time.
func NewSummary(server, mode string, stats rtt.Stats, samples int) Summary {
	return Summary{
		RunID:      xid.New().String(),
		CreatedAt:  time.Now(),
		ServerAddr: server,
		Mode:       mode,
		Stats:      stats,
		Samples:    samples,
		Completed:  stats.Count,
	}
}

// Sink stores summaries.
type Sink interface {
	Append(s Summary) error
}

// Sinks fans a summary out to every sink and collects all failures.
type Sinks []Sink

func (ss Sinks) Append(s Summary) error {
	var err error
	for _, sink := range ss {
		err = multierr.Append(err, sink.Append(s))
	}
	return err
}
