package source

import (
	"context"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/traffic_visor/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// PcapFileSource 从pcap文件回放数据包
type PcapFileSource struct {
	file     *os.File
	reader   *pcapgo.Reader
	filename string
	stats    *metrics.SourceMetrics
}

func NewPcapFileSource(filename string) (*PcapFileSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header %s: %w", filename, err)
	}

	return &PcapFileSource{
		file:     f,
		reader:   reader,
		filename: filename,
		stats:    &metrics.SourceMetrics{},
	}, nil
}

func (s *PcapFileSource) Run(ctx context.Context, out Appender) error {
	packetSource := gopacket.NewPacketSource(s.reader, s.reader.LinkType())
	logrus.Infof("Started reading packets from file: %s", s.filename)
	return readPackets(ctx, packetSource, out, s.stats)
}

func (s *PcapFileSource) Stats() *metrics.SourceMetrics {
	return s.stats
}

func (s *PcapFileSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
