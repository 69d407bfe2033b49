package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"udpbench/affinity"
	"udpbench/protocol"
)

var _ = Describe("Server", func() {
	var (
		mockCtrl *gomock.Controller
		cores    *MockProvider
		reg      *prometheus.Registry
		metrics  *Metrics
		cancel   context.CancelFunc
		done     chan error
		peer     net.Conn
	)

	start := func(policy Policy) *Server {
		srv, err := Listen("127.0.0.1:0", Options{
			Policy:  policy,
			Cores:   cores,
			Metrics: metrics,
			Seed:    7,
		})
		Expect(err).ToNot(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- srv.Serve(ctx) }()

		peer, err = net.Dial("udp", srv.Addr().String())
		Expect(err).ToNot(HaveOccurred())
		return srv
	}

	exchange := func(f protocol.Frame) (protocol.Frame, error) {
		_, err := peer.Write(protocol.Encode(f))
		Expect(err).ToNot(HaveOccurred())
		Expect(peer.SetReadDeadline(time.Now().Add(300 * time.Millisecond))).To(Succeed())
		buf := make([]byte, protocol.MaxDatagram)
		n, err := peer.Read(buf)
		if err != nil {
			return protocol.Frame{}, err
		}
		return protocol.Decode(buf[:n])
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		cores = NewMockProvider(mockCtrl)
		cores.EXPECT().Cores().Return([]affinity.CoreID{0, 1, 2, 3, 4, 5, 6, 7}, nil).AnyTimes()
		reg = prometheus.NewRegistry()

		var err error
		metrics, err = NewMetrics(reg)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(done).Should(Receive(BeNil()))
			cancel = nil
		}
		if peer != nil {
			peer.Close()
			peer = nil
		}
		mockCtrl.Finish()
	})

	It("should echo a response with the same id and payload", func() {
		cores.EXPECT().Pin(gomock.Any()).Return(nil).Times(DefaultWorkers)
		start(NewPolicy("default", Profile{}))

		got, err := exchange(protocol.Frame{Type: protocol.Request, SessionID: 513, Payload: []byte("hello")})

		Expect(err).ToNot(HaveOccurred())
		Expect(got.Type).To(Equal(protocol.Response))
		Expect(got.SessionID).To(Equal(protocol.SessionID(513)))
		Expect(got.Payload).To(Equal([]byte("hello")))
		Eventually(func() float64 {
			return testutil.ToFloat64(metrics.sent.WithLabelValues("default"))
		}).Should(Equal(1.0))
	})

	It("should start one worker per core when cores are scarce", func() {
		mockCtrl.Finish()
		mockCtrl = gomock.NewController(GinkgoT())
		cores = NewMockProvider(mockCtrl)
		cores.EXPECT().Cores().Return([]affinity.CoreID{2, 3}, nil)
		cores.EXPECT().Pin(affinity.CoreID(2)).Return(nil)
		cores.EXPECT().Pin(affinity.CoreID(3)).Return(nil)

		start(nil)

		_, err := exchange(protocol.Frame{Type: protocol.Request, SessionID: 1})
		Expect(err).ToNot(HaveOccurred())
	})

	It("should drop everything at 100% loss", func() {
		cores.EXPECT().Pin(gomock.Any()).Return(nil).AnyTimes()
		start(NewPolicy("loss", Profile{Loss: 100}))

		for i := 0; i < 3; i++ {
			_, err := exchange(protocol.Frame{Type: protocol.Request, SessionID: protocol.SessionID(i)})
			Expect(err).To(HaveOccurred())
		}
		Expect(testutil.ToFloat64(metrics.dropped.WithLabelValues("loss"))).To(Equal(3.0))
		Expect(testutil.ToFloat64(metrics.received.WithLabelValues("loss"))).To(Equal(3.0))
	})

	It("should send every response twice at 100% duplication", func() {
		cores.EXPECT().Pin(gomock.Any()).Return(nil).AnyTimes()
		start(NewPolicy("duplicate", Profile{Duplicate: 100}))

		first, err := exchange(protocol.Frame{Type: protocol.Request, SessionID: 9})
		Expect(err).ToNot(HaveOccurred())

		buf := make([]byte, protocol.MaxDatagram)
		n, err := peer.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		second, err := protocol.Decode(buf[:n])
		Expect(err).ToNot(HaveOccurred())

		Expect(second).To(Equal(first))
	})

	It("should hold responses back under the delay policy", func() {
		cores.EXPECT().Pin(gomock.Any()).Return(nil).AnyTimes()
		start(NewPolicy("delay", Profile{Delay: 100}))

		sent := time.Now()
		_, err := exchange(protocol.Frame{Type: protocol.Request, SessionID: 4})

		Expect(err).ToNot(HaveOccurred())
		Expect(time.Since(sent)).To(BeNumerically(">=", 100*time.Millisecond))
		Expect(testutil.ToFloat64(metrics.delayed.WithLabelValues("delay"))).To(Equal(1.0))
	})

	It("should discard malformed datagrams and keep serving", func() {
		cores.EXPECT().Pin(gomock.Any()).Return(nil).AnyTimes()
		start(nil)

		_, err := peer.Write([]byte{0x01})
		Expect(err).ToNot(HaveOccurred())

		got, err := exchange(protocol.Frame{Type: protocol.Request, SessionID: 2})
		Expect(err).ToNot(HaveOccurred())
		Expect(got.SessionID).To(Equal(protocol.SessionID(2)))
		Expect(testutil.ToFloat64(metrics.malformed.WithLabelValues("default"))).To(Equal(1.0))
	})

	It("should stop when the socket is closed", func() {
		cores.EXPECT().Pin(gomock.Any()).Return(nil).AnyTimes()
		srv := start(nil)

		Expect(srv.Close()).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))
		cancel()
		cancel = nil
	})

	It("should fail to serve without cores", func() {
		mockCtrl.Finish()
		mockCtrl = gomock.NewController(GinkgoT())
		cores = NewMockProvider(mockCtrl)
		cores.EXPECT().Cores().Return(nil, nil)

		srv, err := Listen("127.0.0.1:0", Options{Cores: cores})
		Expect(err).ToNot(HaveOccurred())

		Expect(srv.Serve(context.Background())).To(MatchError(affinity.ErrNoCores))
	})

	It("should expose the counters on /metrics", func() {
		metrics.forPolicy("jitter").received.Inc()

		ts := httptest.NewServer(Router(reg))
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/metrics")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).ToNot(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring(`udpbench_server_received_total{policy="jitter"} 1`))
	})
})
