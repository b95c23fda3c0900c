package source

import (
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/haolipeng/traffic_visor/pkg/types"
)

// Project 从数据包中提取连接记录，没有IP层的数据包返回false
func Project(packet gopacket.Packet) (types.ConnectionRecord, bool) {
	var rec types.ConnectionRecord

	switch {
	case packet.Layer(layers.LayerTypeIPv4) != nil:
		ip4 := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		rec.Src = ip4.SrcIP.String()
		rec.Dst = ip4.DstIP.String()
		rec.Proto = protocolName(ip4.Protocol)
	case packet.Layer(layers.LayerTypeIPv6) != nil:
		ip6 := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		rec.Src = ip6.SrcIP.String()
		rec.Dst = ip6.DstIP.String()
		rec.Proto = protocolName(upperProtocol(packet, ip6.NextHeader))
	default:
		return rec, false
	}

	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		rec.SrcPort = uint16(tcp.SrcPort)
		rec.DstPort = uint16(tcp.DstPort)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		rec.SrcPort = uint16(udp.SrcPort)
		rec.DstPort = uint16(udp.DstPort)
	}

	return rec, rec.Valid()
}

// upperProtocol 沿IPv6扩展头链找到最终的上层协议
func upperProtocol(packet gopacket.Packet, next layers.IPProtocol) layers.IPProtocol {
	for _, layer := range packet.Layers() {
		switch ext := layer.(type) {
		case *layers.IPv6HopByHop:
			next = ext.NextHeader
		case *layers.IPv6Routing:
			next = ext.NextHeader
		case *layers.IPv6Fragment:
			next = ext.NextHeader
		case *layers.IPv6Destination:
			next = ext.NextHeader
		}
	}
	return next
}

// protocolName 返回协议名称，ICMPv4和ICMPv6统一为ICMP，未知协议使用协议号
func protocolName(proto layers.IPProtocol) string {
	switch proto {
	case layers.IPProtocolTCP:
		return "TCP"
	case layers.IPProtocolUDP:
		return "UDP"
	case layers.IPProtocolICMPv4, layers.IPProtocolICMPv6:
		return "ICMP"
	}

	name := proto.String()
	if name == "" || strings.HasPrefix(name, "Unknown") {
		return strconv.Itoa(int(proto))
	}
	return name
}
