package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics are the server's Prometheus counters, labelled by policy name.
type Metrics struct {
	received   *prometheus.CounterVec
	sent       *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	duplicated *prometheus.CounterVec
	delayed    *prometheus.CounterVec
	malformed  *prometheus.CounterVec
}

func counter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "udpbench",
			Subsystem: "server",
			Name:      name,
			Help:      help,
		},
		[]string{"policy"},
	)
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		received:   counter("received_total", "Benchmark frames received."),
		sent:       counter("sent_total", "Response datagrams sent."),
		dropped:    counter("dropped_total", "Responses dropped by the loss policy."),
		duplicated: counter("duplicated_total", "Responses sent twice."),
		delayed:    counter("delayed_total", "Responses held back before sending."),
		malformed:  counter("malformed_total", "Datagrams too short to carry a frame header."),
	}
	for _, c := range []prometheus.Collector{m.received, m.sent, m.dropped, m.duplicated, m.delayed, m.malformed} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register server metrics")
		}
	}
	return m, nil
}

// policyCounters are the counters of one policy label, resolved once.
type policyCounters struct {
	received, sent, dropped, duplicated, delayed, malformed prometheus.Counter
}

func (m *Metrics) forPolicy(name string) policyCounters {
	if m == nil {
		m = discard
	}
	return policyCounters{
		received:   m.received.WithLabelValues(name),
		sent:       m.sent.WithLabelValues(name),
		dropped:    m.dropped.WithLabelValues(name),
		duplicated: m.duplicated.WithLabelValues(name),
		delayed:    m.delayed.WithLabelValues(name),
		malformed:  m.malformed.WithLabelValues(name),
	}
}

// discard backs servers built without metrics; it is never registered.
var discard = &Metrics{
	received:   counter("received_total", ""),
	sent:       counter("sent_total", ""),
	dropped:    counter("dropped_total", ""),
	duplicated: counter("duplicated_total", ""),
	delayed:    counter("delayed_total", ""),
	malformed:  counter("malformed_total", ""),
}

// Router serves g on /metrics.
func Router(g prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// ServeMetrics exposes g over HTTP on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen for metrics on %s", addr)
	}
	log.Info("serving metrics", zap.String("url", "http://"+ln.Addr().String()+"/metrics"))

	srv := &http.Server{Handler: Router(g), ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve metrics")
	}
	return nil
}
