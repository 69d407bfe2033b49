package protocol

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypeFrame lets gopacket decode benchmark frames out of UDP payloads.
var LayerTypeFrame = gopacket.RegisterLayerType(2001, gopacket.LayerTypeMetadata{
	Name:    "UDPBench",
	Decoder: gopacket.DecodeFunc(decodeLayer),
})

// Layer is the gopacket view of a Frame.
type Layer struct {
	layers.BaseLayer
	Frame Frame
}

func (l *Layer) LayerType() gopacket.LayerType { return LayerTypeFrame }

func (l *Layer) CanDecode() gopacket.LayerClass { return LayerTypeFrame }

func (l *Layer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// Payload returns the benchmark payload, which makes Layer an application layer.
func (l *Layer) Payload() []byte { return l.Frame.Payload }

func (l *Layer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	f, err := DecodeNoCopy(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	l.Frame = f
	l.BaseLayer = layers.BaseLayer{Contents: data[:HeaderLen], Payload: data[HeaderLen:]}
	return nil
}

func decodeLayer(data []byte, p gopacket.PacketBuilder) error {
	l := &Layer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	p.SetApplicationLayer(l)
	return nil
}
