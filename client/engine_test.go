package client

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.uber.org/mock/gomock"

	"udpbench/affinity"
	"udpbench/protocol"
	"udpbench/rtt"
)

type echoServer struct {
	conn net.PacketConn
	done chan struct{}
}

// startEcho answers every decodable datagram with reply(frame); a nil reply
// sends nothing back.
func startEcho(reply func(protocol.Frame) []byte) *echoServer {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())

	s := &echoServer{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		buf := make([]byte, protocol.MaxDatagram)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			f, err := protocol.Decode(buf[:n])
			if err != nil {
				continue
			}
			if out := reply(f); out != nil {
				_, _ = conn.WriteTo(out, addr)
			}
		}
	}()
	return s
}

func (s *echoServer) addr() string { return s.conn.LocalAddr().String() }

func (s *echoServer) stop() {
	s.conn.Close()
	<-s.done
}

func respond(f protocol.Frame) []byte { return protocol.Encode(f.Reply()) }

var _ = Describe("Engine", func() {
	var (
		mockCtrl *gomock.Controller
		cores    *MockProvider
		echo     *echoServer
		engine   *Engine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		cores = NewMockProvider(mockCtrl)
		echo = startEcho(respond)
		engine = &Engine{
			ServerAddr:  echo.addr(),
			ClientAddr:  "127.0.0.1:0",
			PayloadSize: 64,
			Cores:       cores,
			ReadTimeout: 50 * time.Millisecond,
		}
	})

	AfterEach(func() {
		echo.stop()
		mockCtrl.Finish()
	})

	Context("ping", func() {
		It("should record a round trip for every reply", func() {
			cores.EXPECT().Cores().Return([]affinity.CoreID{3, 5}, nil)
			cores.EXPECT().Pin(affinity.CoreID(3)).Return(nil)

			table := rtt.NewTable()
			res, err := engine.RunPing(context.Background(), 300*time.Millisecond, 20*time.Millisecond, table)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.Mode).To(Equal(Ping))
			Expect(res.Unit).To(Equal("B/us"))
			Expect(res.PacketsSent).To(BeNumerically(">", 5))

			samples := table.Snapshot()
			Expect(samples).ToNot(BeEmpty())
			for _, s := range samples {
				Expect(s).To(BeNumerically(">=", 0))
			}
		})

		It("should count malformed replies and record nothing", func() {
			echo.stop()
			echo = startEcho(func(protocol.Frame) []byte { return []byte{0x00, 0x01} })
			engine.ServerAddr = echo.addr()

			cores.EXPECT().Cores().Return([]affinity.CoreID{0}, nil)
			cores.EXPECT().Pin(gomock.Any()).Return(nil)

			table := rtt.NewTable()
			res, err := engine.RunPing(context.Background(), 200*time.Millisecond, 20*time.Millisecond, table)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.Malformed).To(BeNumerically(">", 0))
			Expect(res.PacketsReceived).To(BeZero())
			Expect(table.Snapshot()).To(BeEmpty())
		})

		It("should ignore request frames coming back", func() {
			echo.stop()
			echo = startEcho(func(f protocol.Frame) []byte { return protocol.Encode(f) })
			engine.ServerAddr = echo.addr()

			cores.EXPECT().Cores().Return([]affinity.CoreID{0}, nil)
			cores.EXPECT().Pin(gomock.Any()).Return(nil)

			table := rtt.NewTable()
			res, err := engine.RunPing(context.Background(), 200*time.Millisecond, 20*time.Millisecond, table)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.PacketsReceived).To(BeNumerically(">", 0))
			Expect(table.Snapshot()).To(BeEmpty())
		})
	})

	Context("packet count", func() {
		It("should send exactly n requests and wait for n responses", func() {
			res, err := engine.RunPacketCount(context.Background(), 50)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.Mode).To(Equal(ByPacketCount))
			Expect(res.PacketsSent).To(Equal(uint64(50)))
			Expect(res.PacketsReceived).To(Equal(uint64(50)))
			Expect(res.BytesSent).To(Equal(uint64(50 * (protocol.HeaderLen + 64))))
			Expect(res.Duration).To(BeZero())
		})

		It("should stop waiting when the context is cancelled", func() {
			echo.stop()
			echo = startEcho(func(protocol.Frame) []byte { return nil })
			engine.ServerAddr = echo.addr()

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			start := time.Now()
			res, err := engine.RunPacketCount(ctx, 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
			Expect(res.PacketsSent).To(Equal(uint64(10)))
			Expect(res.PacketsReceived).To(BeZero())
		})

		It("should not count request frames coming back", func() {
			echo.stop()
			echo = startEcho(func(f protocol.Frame) []byte { return protocol.Encode(f) })
			engine.ServerAddr = echo.addr()

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			res, err := engine.RunPacketCount(ctx, 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.PacketsSent).To(Equal(uint64(10)))
			Expect(res.PacketsReceived).To(BeZero())
			Expect(res.BytesReceived).To(BeZero())
		})

		It("should return at once for zero packets", func() {
			res, err := engine.RunPacketCount(context.Background(), 0)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.PacketsSent).To(BeZero())
		})
	})

	Context("duration", func() {
		It("should pin eight workers and fill the table", func() {
			cores.EXPECT().Cores().Return([]affinity.CoreID{0, 1, 2, 3, 4, 5}, nil)
			cores.EXPECT().Pin(gomock.Any()).Return(nil).Times(2 * durationWorkers)

			table := rtt.NewTable()
			res, err := engine.RunDuration(context.Background(), 200*time.Millisecond, table)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.Mode).To(Equal(ByDuration))
			Expect(res.Unit).To(Equal("B/s"))
			Expect(res.PacketsSent).To(BeNumerically(">", 0))
			Expect(res.ThroughputSent).To(BeNumerically("~", float64(res.BytesSent)/0.2, 1))
			Expect(table.Len()).To(BeNumerically(">", 0))
			Expect(table.Len()).To(BeNumerically("<=", sessionSpace))
		})

		It("should keep negative round trips out of the table once ids run out", func() {
			ctx := context.Background()
			r, closeFn, err := engine.open(ctx, ByDuration)
			Expect(err).ToNot(HaveOccurred())
			defer closeFn()

			table := rtt.NewTable()
			start := time.Now()
			d := 500 * time.Millisecond
			done := make(chan struct{})
			go func() {
				defer close(done)
				r.durationReceiver(ctx, start, d, table)
			}()

			// complete the last 100 ids first, then flood past the id space
			r.seq.Store(sessionSpace - 100)
			buf := make([]byte, 0, protocol.HeaderLen+len(r.payload))
			for i := 0; i < 100; i++ {
				id, tracked := r.nextID()
				Expect(tracked).To(BeTrue())
				ts := rtt.Now()
				Expect(r.send(r.request(id, buf))).To(Equal(sendOK))
				table.RecordSend(id, ts)
			}
			Eventually(func() int { return len(table.Snapshot()) }).Should(BeNumerically(">", 0))

			r.durationSender(ctx, start, d, table)
			<-done

			res := r.counters.result(ByDuration, d)
			Expect(res.Untracked).To(BeNumerically(">", 0))
			Expect(table.Len()).To(BeNumerically("<=", 100))

			samples := table.Snapshot()
			for _, s := range samples {
				Expect(s).To(BeNumerically(">=", 0))
			}
			stats, err := rtt.Evaluate(samples)
			Expect(err).ToNot(HaveOccurred())
			Expect(stats.Min).To(BeNumerically(">=", 0))
		})

		It("should report only valid round trips on a long flood", func() {
			engine.Cores = affinity.Noop(4)

			table := rtt.NewTable()
			res, err := engine.RunDuration(context.Background(), time.Second, table)

			Expect(err).ToNot(HaveOccurred())
			Expect(table.Len()).To(BeNumerically("<=", sessionSpace))
			if res.PacketsSent > sessionSpace {
				Expect(res.Untracked).To(BeNumerically(">", 0))
			}
			for _, s := range table.Snapshot() {
				Expect(s).To(BeNumerically(">=", 0))
			}
		})

		It("should share fewer cores between the workers", func() {
			cores.EXPECT().Cores().Return([]affinity.CoreID{7}, nil)
			cores.EXPECT().Pin(affinity.CoreID(7)).Return(nil).Times(2 * durationWorkers)

			_, err := engine.RunDuration(context.Background(), 50*time.Millisecond, nil)

			Expect(err).ToNot(HaveOccurred())
		})

		It("should keep running when pinning fails", func() {
			cores.EXPECT().Cores().Return([]affinity.CoreID{0}, nil)
			cores.EXPECT().Pin(gomock.Any()).Return(errors.New("not permitted")).AnyTimes()

			res, err := engine.RunDuration(context.Background(), 50*time.Millisecond, nil)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.PacketsSent).To(BeNumerically(">", 0))
		})

		It("should fail without cores", func() {
			cores.EXPECT().Cores().Return(nil, nil)

			_, err := engine.RunDuration(context.Background(), 50*time.Millisecond, nil)

			Expect(errors.Is(err, affinity.ErrNoCores)).To(BeTrue())
		})
	})

	Context("custom bitrate", func() {
		It("should pace the sender", func() {
			cores.EXPECT().Cores().Return([]affinity.CoreID{0, 1, 2, 3}, nil)
			cores.EXPECT().Pin(gomock.Any()).Return(nil).Times(bitrateReceivers)

			// 100 bytes at 80 Kbit/s is one request roughly every 10ms.
			engine.PayloadSize = 100
			table := rtt.NewTable()
			res, err := engine.RunBitrate(context.Background(), 300*time.Millisecond, 80, Kbps, table)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.Mode).To(Equal(ByDurationCustomBitrate))
			Expect(res.Unit).To(Equal("bit/s"))
			Expect(res.PacketsSent).To(BeNumerically(">", 5))
			Expect(res.PacketsSent).To(BeNumerically("<", 60))
			Expect(table.Snapshot()).ToNot(BeEmpty())
		})

		It("should end on time when the interval outlasts the run", func() {
			cores.EXPECT().Cores().Return([]affinity.CoreID{0, 1, 2, 3}, nil)
			cores.EXPECT().Pin(gomock.Any()).Return(nil).Times(bitrateReceivers)

			// 1000 bytes at 8 bit/s is one request every 1000s.
			engine.PayloadSize = 1000
			start := time.Now()
			res, err := engine.RunBitrate(context.Background(), 200*time.Millisecond, 8, Bps, nil)

			Expect(err).ToNot(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
			Expect(res.PacketsSent).To(Equal(uint64(1)))
		})
	})

	Context("setup failures", func() {
		It("should wrap bind errors", func() {
			engine.ListenPacket = func(string, string) (net.PacketConn, error) {
				return nil, errors.New("address in use")
			}

			_, err := engine.RunPacketCount(context.Background(), 1)

			Expect(err).To(MatchError(ContainSubstring("bind client socket")))
		})

		It("should reject oversized payloads", func() {
			engine.PayloadSize = protocol.MaxPayload + 1

			_, err := engine.RunPacketCount(context.Background(), 1)

			Expect(err).To(HaveOccurred())
		})

		It("should dispatch on the mode", func() {
			res, err := engine.Run(context.Background(), Params{Mode: ByPacketCount, PacketCount: 3}, nil)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.Mode).To(Equal(ByPacketCount))
			Expect(res.PacketsReceived).To(Equal(uint64(3)))
		})
	})
})
