package metrics

import (
	"sync/atomic"
)

// SourceMetrics 采集端的计数器，由采集goroutine更新
type SourceMetrics struct {
	PacketsCaptured uint64
	PacketsDropped  uint64
	BytesProcessed  uint64
	ErrorCount      uint64
}

// IncrementPacketsCaptured 增加捕获的数据包计数
func (m *SourceMetrics) IncrementPacketsCaptured() {
	atomic.AddUint64(&m.PacketsCaptured, 1)
}

// IncrementPacketsDropped 增加丢弃的数据包计数（无法投影出源地址）
func (m *SourceMetrics) IncrementPacketsDropped() {
	atomic.AddUint64(&m.PacketsDropped, 1)
}

// AddBytesProcessed 增加处理的字节数
func (m *SourceMetrics) AddBytesProcessed(bytes uint64) {
	atomic.AddUint64(&m.BytesProcessed, bytes)
}

func (m *SourceMetrics) IncrementErrorCount() {
	atomic.AddUint64(&m.ErrorCount, 1)
}

// GetStats 返回计数器快照
func (m *SourceMetrics) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"packets_captured": atomic.LoadUint64(&m.PacketsCaptured),
		"packets_dropped":  atomic.LoadUint64(&m.PacketsDropped),
		"bytes_processed":  atomic.LoadUint64(&m.BytesProcessed),
		"error_count":      atomic.LoadUint64(&m.ErrorCount),
	}
}
