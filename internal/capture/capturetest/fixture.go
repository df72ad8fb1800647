// Package capturetest builds synthetic capture files for tests.
package capturetest

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Frame is one packet of a fixture.
type Frame struct {
	Time time.Time
	Data []byte
}

// TCP describes a TCP segment to synthesise.
type TCP struct {
	Src, Dst         string
	SrcPort, DstPort uint16
	Window           uint16
	SYN, ACK, FIN    bool
	PSH, RST         bool
	Payload          int
}

// UDP describes a UDP datagram to synthesise.
type UDP struct {
	Src, Dst         string
	SrcPort, DstPort uint16
	Payload          int
}

// TCPFrame serialises an Ethernet/IPv4/TCP frame.
func TCPFrame(t testing.TB, ts time.Time, p TCP) Frame {
	t.Helper()
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP(p.Src).To4(), DstIP: net.ParseIP(p.Dst).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(p.SrcPort), DstPort: layers.TCPPort(p.DstPort),
		Window: p.Window, SYN: p.SYN, ACK: p.ACK, FIN: p.FIN, PSH: p.PSH, RST: p.RST,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return Frame{Time: ts, Data: serialize(t, ip, tcp, p.Payload)}
}

// UDPFrame serialises an Ethernet/IPv4/UDP frame.
func UDPFrame(t testing.TB, ts time.Time, p UDP) Frame {
	t.Helper()
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.ParseIP(p.Src).To4(), DstIP: net.ParseIP(p.Dst).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(p.SrcPort), DstPort: layers.UDPPort(p.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return Frame{Time: ts, Data: serialize(t, ip, udp, p.Payload)}
}

// ARPFrame serialises a non-IP frame.
func ARPFrame(t testing.TB, ts time.Time) Frame {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: srcMAC, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		t.Fatal(err)
	}
	return Frame{Time: ts, Data: buf.Bytes()}
}

func serialize(t testing.TB, ip *layers.IPv4, l4 gopacket.SerializableLayer, payload int) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, l4, gopacket.Payload(make([]byte, payload))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// WriteFile writes frames to a classic PCAP file at path.
func WriteFile(t testing.TB, path string, frames []Frame) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	for _, fr := range frames {
		ci := gopacket.CaptureInfo{Timestamp: fr.Time, CaptureLength: len(fr.Data), Length: len(fr.Data)}
		if err := w.WritePacket(ci, fr.Data); err != nil {
			t.Fatal(err)
		}
	}
}
