package source

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/haolipeng/traffic_visor/pkg/config"
	"github.com/haolipeng/traffic_visor/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// PcapSource 从网卡实时抓包
type PcapSource struct {
	handle *pcap.Handle
	device string
	stats  *metrics.SourceMetrics
}

func NewPcapSource(cfg *config.Config) (*PcapSource, error) {
	if cfg.Interface.Name == "" {
		return nil, fmt.Errorf("interface name is required")
	}

	handle, err := pcap.OpenLive(
		cfg.Interface.Name,
		cfg.Interface.SnapLen,
		cfg.Interface.Promiscuous,
		cfg.Interface.Timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %s: %w", cfg.Interface.Name, err)
	}

	// 设置BPF过滤器
	if cfg.Interface.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.Interface.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter: %w", err)
		}
	}

	return &PcapSource{
		handle: handle,
		device: cfg.Interface.Name,
		stats:  &metrics.SourceMetrics{},
	}, nil
}

func (s *PcapSource) Run(ctx context.Context, out Appender) error {
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	logrus.Infof("Started packet capture on %s with link type: %v", s.device, s.handle.LinkType())
	return readPackets(ctx, packetSource, out, s.stats)
}

func (s *PcapSource) Stats() *metrics.SourceMetrics {
	return s.stats
}

func (s *PcapSource) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
