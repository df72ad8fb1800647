package capture

import (
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// packetDecoder turns raw frames into PacketInfo using a reusable
// DecodingLayerParser. It is not safe for concurrent use.
type packetDecoder struct {
	source string

	eth     layers.Ethernet
	sll     layers.LinuxSLL
	loop    layers.Loopback
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// newPacketDecoder returns a decoder for frames of the given link type.
func newPacketDecoder(link layers.LinkType, source string) *packetDecoder {
	d := &packetDecoder{source: source, decoded: make([]gopacket.LayerType, 0, 8)}

	first := layers.LayerTypeEthernet
	switch link {
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		first = layers.LayerTypeLoopback
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	case layers.LinkTypeIPv6:
		first = layers.LayerTypeIPv6
	}

	d.parser = gopacket.NewDecodingLayerParser(first,
		&d.eth, &d.sll, &d.loop, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.payload,
	)
	d.parser.IgnoreUnsupported = true
	return d
}

// decode extracts packet metadata. ok is false when the frame could not
// be decoded at all.
func (d *packetDecoder) decode(data []byte, ci gopacket.CaptureInfo) (*models.PacketInfo, bool) {
	ts := ci.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	info := &models.PacketInfo{
		TimestampNano: ts.UnixNano(),
		Length:        uint32(ci.Length),
		CaptureLength: uint32(ci.CaptureLength),
		Interface:     d.source,
	}
	if info.Length == 0 {
		info.Length = uint32(len(data))
	}

	err := d.parser.DecodeLayers(data, &d.decoded)

	for _, layerType := range d.decoded {
		switch layerType {
		case layers.LayerTypeEthernet:
			info.SrcMAC = d.eth.SrcMAC.String()
			info.DstMAC = d.eth.DstMAC.String()
			info.EtherType = uint16(d.eth.EthernetType)

		case layers.LayerTypeIPv4:
			info.SrcIP = append(info.SrcIP[:0], d.ip4.SrcIP...)
			info.DstIP = append(info.DstIP[:0], d.ip4.DstIP...)
			info.Protocol = uint8(d.ip4.Protocol)

		case layers.LayerTypeIPv6:
			info.SrcIP = append(info.SrcIP[:0], d.ip6.SrcIP...)
			info.DstIP = append(info.DstIP[:0], d.ip6.DstIP...)
			info.Protocol = uint8(d.ip6.NextHeader)

		case layers.LayerTypeTCP:
			info.HasTCP = true
			info.SrcPort = uint16(d.tcp.SrcPort)
			info.DstPort = uint16(d.tcp.DstPort)
			info.Window = d.tcp.Window
			info.PayloadLength = len(d.tcp.Payload)
			info.TCPFlags = tcpFlags(&d.tcp)

		case layers.LayerTypeUDP:
			info.SrcPort = uint16(d.udp.SrcPort)
			info.DstPort = uint16(d.udp.DstPort)
			info.PayloadLength = len(d.udp.Payload)
		}
	}

	return info, err == nil || len(d.decoded) > 0
}

// tcpFlags packs the TCP flag bits into a byte.
func tcpFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.FIN {
		flags |= models.FlagFIN
	}
	if tcp.SYN {
		flags |= models.FlagSYN
	}
	if tcp.RST {
		flags |= models.FlagRST
	}
	if tcp.PSH {
		flags |= models.FlagPSH
	}
	if tcp.ACK {
		flags |= models.FlagACK
	}
	if tcp.URG {
		flags |= models.FlagURG
	}
	return flags
}
