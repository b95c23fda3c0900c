package source

import (
	"context"
	"errors"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/haolipeng/traffic_visor/pkg/metrics"
	"github.com/haolipeng/traffic_visor/pkg/types"
	"github.com/sirupsen/logrus"
)

// Appender 接收投影后的连接记录，由缓冲区实现
type Appender interface {
	Append(rec types.ConnectionRecord) bool
}

// Source 数据源，Run阻塞直到ctx取消或数据读完
type Source interface {
	Run(ctx context.Context, out Appender) error
	Stats() *metrics.SourceMetrics
	Close() error
}

// readPackets 从packetSource读取数据包并写入out
// 读到文件末尾时返回nil，ctx取消时返回nil
func readPackets(ctx context.Context, packetSource *gopacket.PacketSource, out Appender, stats *metrics.SourceMetrics) error {
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stopping packet capture due to context cancellation")
			return nil
		default:
		}

		packet, err := packetSource.NextPacket()
		if err != nil {
			if err == io.EOF || errors.Is(err, pcap.NextErrorNoMorePackets) {
				logrus.Info("Reached end of packet stream")
				return nil
			}
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			stats.IncrementErrorCount()
			logrus.Warnf("Error capturing packet: %v", err)
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return err
			}
			continue
		}

		stats.IncrementPacketsCaptured()
		stats.AddBytesProcessed(uint64(len(packet.Data())))

		rec, ok := Project(packet)
		if !ok || !out.Append(rec) {
			stats.IncrementPacketsDropped()
		}
	}
}
