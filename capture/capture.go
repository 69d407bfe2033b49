// Package capture rebuilds RTT tables from packet captures of benchmark
// traffic.
package capture

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"udpbench/protocol"
	"udpbench/rtt"
)

const ngMagic = 0x0A0D0D0A

// Result counts what Analyze saw.
type Result struct {
	Packets   int
	Requests  int
	Responses int
	// Skipped counts packets that were not benchmark frames to or from the
	// client.
	Skipped int
}

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

// endpoint matches a host and, when port is non-zero, a port.
type endpoint struct {
	ip   net.IP
	port uint16
}

func parseEndpoint(addr string) (endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host, portStr = addr, "0"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return endpoint{}, errors.Errorf("client address %q is not an IP", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return endpoint{}, errors.Wrapf(err, "client port %q", portStr)
	}
	return endpoint{ip: ip, port: uint16(port)}, nil
}

func (e endpoint) matches(o endpoint) bool {
	return e.ip.Equal(o.ip) && (e.port == 0 || e.port == o.port)
}

func openSource(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, errors.Wrap(err, "read capture header")
	}
	if binary.LittleEndian.Uint32(magic) == ngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, errors.Wrap(err, "open pcapng")
		}
		return ng, nil
	}
	p, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, errors.Wrap(err, "open pcap")
	}
	return p, nil
}

// Analyze reads a pcap or pcapng stream and records every request sent by
// clientAddr and every response sent back to it, timestamped with the
// capture time. clientAddr may omit the port to match any port.
func Analyze(r io.Reader, clientAddr string) (*rtt.Table, Result, error) {
	var res Result

	client, err := parseEndpoint(clientAddr)
	if err != nil {
		return nil, res, err
	}
	src, err := openSource(r)
	if err != nil {
		return nil, res, err
	}

	table := rtt.NewTable()
	for {
		data, ci, err := src.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return table, res, errors.Wrapf(err, "read packet %d", res.Packets+1)
		}
		res.Packets++

		f, from, to, ok := decode(data, src.LinkType())
		if !ok {
			res.Skipped++
			continue
		}

		ts := ci.Timestamp.UnixMicro()
		switch {
		case f.Type == protocol.Request && client.matches(from):
			table.RecordSend(f.SessionID, ts)
			res.Requests++
		case f.Type == protocol.Response && client.matches(to):
			table.RecordReceive(f.SessionID, ts)
			res.Responses++
		default:
			res.Skipped++
		}
	}
	return table, res, nil
}

// decode extracts the benchmark frame and UDP endpoints from one captured
// packet.
func decode(data []byte, link layers.LinkType) (f protocol.Frame, from, to endpoint, ok bool) {
	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	udpLayer, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if udpLayer == nil {
		return f, from, to, false
	}

	var srcIP, dstIP net.IP
	switch n := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, dstIP = n.SrcIP, n.DstIP
	case *layers.IPv6:
		srcIP, dstIP = n.SrcIP, n.DstIP
	default:
		return f, from, to, false
	}

	app := gopacket.NewPacket(udpLayer.Payload, protocol.LayerTypeFrame, gopacket.NoCopy)
	frame, _ := app.Layer(protocol.LayerTypeFrame).(*protocol.Layer)
	if frame == nil {
		return f, from, to, false
	}

	from = endpoint{ip: srcIP, port: uint16(udpLayer.SrcPort)}
	to = endpoint{ip: dstIP, port: uint16(udpLayer.DstPort)}
	return frame.Frame, from, to, true
}
