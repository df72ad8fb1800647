// Package models defines the core data structures shared by the capture,
// monitor and API layers.
package models

import (
	"net"
	"strconv"
	"time"
)

// PacketInfo represents metadata about a captured packet.
type PacketInfo struct {
	TimestampNano int64  `json:"timestamp_nano"`
	Length        uint32 `json:"length"`
	CaptureLength uint32 `json:"capture_length"`
	Interface     string `json:"interface"`
	SrcMAC        string `json:"src_mac,omitempty"`
	DstMAC        string `json:"dst_mac,omitempty"`
	EtherType     uint16 `json:"ether_type,omitempty"`
	SrcIP         net.IP `json:"src_ip,omitempty"`
	DstIP         net.IP `json:"dst_ip,omitempty"`
	Protocol      uint8  `json:"protocol,omitempty"`
	SrcPort       uint16 `json:"src_port,omitempty"`
	DstPort       uint16 `json:"dst_port,omitempty"`
	TCPFlags      uint8  `json:"tcp_flags,omitempty"`
	HasTCP        bool   `json:"has_tcp,omitempty"`
	Window        uint16 `json:"window,omitempty"`
	PayloadLength int    `json:"payload_length,omitempty"`
}

// IsIP reports whether an IP layer was decoded.
func (p *PacketInfo) IsIP() bool {
	return p.SrcIP != nil && p.DstIP != nil
}

// Timestamp returns the capture time.
func (p *PacketInfo) Timestamp() time.Time {
	return time.Unix(0, p.TimestampNano)
}

// TCP flag bits as packed into PacketInfo.TCPFlags.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
	FlagURG uint8 = 0x20
)

// FlagString renders TCP flags as letters in FSRPAU order ("S", "SA", "FA").
func FlagString(flags uint8) string {
	if flags == 0 {
		return ""
	}
	order := []struct {
		bit uint8
		c   byte
	}{
		{FlagFIN, 'F'}, {FlagSYN, 'S'}, {FlagRST, 'R'},
		{FlagPSH, 'P'}, {FlagACK, 'A'}, {FlagURG, 'U'},
	}
	out := make([]byte, 0, 6)
	for _, o := range order {
		if flags&o.bit != 0 {
			out = append(out, o.c)
		}
	}
	return string(out)
}

// FlowFeatures are the per-flow statistics attached to every packet record.
// Lengths are in bytes, inter-arrival times in microseconds.
type FlowFeatures struct {
	AvgBwdSegmentSize    float64 `json:"avg_bwd_segment_size"`
	BwdPacketLengthMean  float64 `json:"bwd_packet_length_mean"`
	InitWinBytesForward  float64 `json:"init_win_bytes_forward"`
	FwdIATMax            float64 `json:"fwd_iat_max"`
	FwdIATTotal          float64 `json:"fwd_iat_total"`
	MaxPacketLength      float64 `json:"max_packet_length"`
	BwdPacketLengthMax   float64 `json:"bwd_packet_length_max"`
	BwdPacketLengthStd   float64 `json:"bwd_packet_length_std"`
	BwdIATMax            float64 `json:"bwd_iat_max"`
	InitWinBytesBackward float64 `json:"init_win_bytes_backward"`
	BwdIATTotal          float64 `json:"bwd_iat_total"`
}

// PacketRecord is one analysed IP packet as shown on the dashboards and
// written to the capture CSV.
type PacketRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SourceIP      string    `json:"source_ip"`
	DestinationIP string    `json:"destination_ip"`
	PacketLength  int       `json:"packet_length"`
	Protocol      int       `json:"protocol"`
	SrcPort       int       `json:"src_port,omitempty"`
	DstPort       int       `json:"dst_port,omitempty"`
	WindowSize    int       `json:"window_size,omitempty"`
	Flags         string    `json:"flags,omitempty"`
	HasTCP        bool      `json:"-"`

	FlowFeatures

	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Features returns the numeric view of the record keyed by column name,
// used to build model input vectors.
func (r *PacketRecord) Features() map[string]float64 {
	return map[string]float64{
		"packet_length":           float64(r.PacketLength),
		"protocol":                float64(r.Protocol),
		"src_port":                float64(r.SrcPort),
		"dst_port":                float64(r.DstPort),
		"window_size":             float64(r.WindowSize),
		"avg_bwd_segment_size":    r.AvgBwdSegmentSize,
		"bwd_packet_length_mean":  r.BwdPacketLengthMean,
		"init_win_bytes_forward":  r.InitWinBytesForward,
		"fwd_iat_max":             r.FwdIATMax,
		"fwd_iat_total":           r.FwdIATTotal,
		"max_packet_length":       r.MaxPacketLength,
		"bwd_packet_length_max":   r.BwdPacketLengthMax,
		"bwd_packet_length_std":   r.BwdPacketLengthStd,
		"bwd_iat_max":             r.BwdIATMax,
		"init_win_bytes_backward": r.InitWinBytesBackward,
		"bwd_iat_total":           r.BwdIATTotal,
	}
}

// CSVHeader is the column order of the capture CSV.
var CSVHeader = []string{
	"timestamp", "source_ip", "destination_ip", "packet_length", "protocol",
	"src_port", "dst_port", "window_size", "flags",
	"avg_bwd_segment_size", "bwd_packet_length_mean", "init_win_bytes_forward",
	"fwd_iat_max", "fwd_iat_total", "max_packet_length", "bwd_packet_length_max",
	"bwd_packet_length_std", "bwd_iat_max", "init_win_bytes_backward", "bwd_iat_total",
	"prediction", "confidence",
}

// CSVRow renders the record in CSVHeader order.
func (r *PacketRecord) CSVRow() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		r.Timestamp.Format("2006-01-02T15:04:05.000000"),
		r.SourceIP,
		r.DestinationIP,
		strconv.Itoa(r.PacketLength),
		strconv.Itoa(r.Protocol),
		strconv.Itoa(r.SrcPort),
		strconv.Itoa(r.DstPort),
		strconv.Itoa(r.WindowSize),
		r.Flags,
		f(r.AvgBwdSegmentSize),
		f(r.BwdPacketLengthMean),
		f(r.InitWinBytesForward),
		f(r.FwdIATMax),
		f(r.FwdIATTotal),
		f(r.MaxPacketLength),
		f(r.BwdPacketLengthMax),
		f(r.BwdPacketLengthStd),
		f(r.BwdIATMax),
		f(r.InitWinBytesBackward),
		f(r.BwdIATTotal),
		r.Prediction,
		f(r.Confidence),
	}
}

// Alert is a malicious verdict raised by the monitor.
type Alert struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SourceIP      string    `json:"source_ip"`
	DestinationIP string    `json:"destination_ip"`
	SrcPort       int       `json:"src_port,omitempty"`
	DstPort       int       `json:"dst_port,omitempty"`
	Protocol      string    `json:"protocol,omitempty"`
	Prediction    string    `json:"prediction"`
	Confidence    float64   `json:"confidence"`
}

// CaptureStats holds real-time capture statistics.
type CaptureStats struct {
	PacketsReceived  uint64    `json:"packets_received"`
	PacketsDropped   uint64    `json:"packets_dropped"`
	BytesReceived    uint64    `json:"bytes_received"`
	ParseErrors      uint64    `json:"parse_errors"`
	PacketsPerSecond float64   `json:"packets_per_second"`
	BytesPerSecond   float64   `json:"bytes_per_second"`
	StartTime        time.Time `json:"start_time"`
	LastUpdate       time.Time `json:"last_update"`
	Interface        string    `json:"interface"`
	PromiscuousMode  bool      `json:"promiscuous_mode"`
	CaptureFilter    string    `json:"capture_filter,omitempty"`
}

// ProtocolName maps an IP protocol number to a short name.
func ProtocolName(proto uint8) string {
	switch proto {
	case 1:
		return "ICMP"
	case 6:
		return "TCP"
	case 17:
		return "UDP"
	case 58:
		return "ICMPv6"
	default:
		return "Other"
	}
}
