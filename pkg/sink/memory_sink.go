package sink

import (
	"context"
	"sync"

	"github.com/haolipeng/traffic_visor/pkg/stream"
	"github.com/haolipeng/traffic_visor/pkg/types"
)

// MemorySink 把批次保存在内存中，用于测试和快照
type MemorySink struct {
	results []stream.Batch
	closed  bool
	mu      sync.Mutex
}

func NewMemorySink() *MemorySink {
	return &MemorySink{results: make([]stream.Batch, 0)}
}

func (s *MemorySink) Send(ctx context.Context, batch stream.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrTransportClosed
	}
	s.results = append(s.results, batch)
	return nil
}

// GetResults 获取收集的批次
func (s *MemorySink) GetResults() []stream.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.Batch, len(s.results))
	copy(out, s.results)
	return out
}

// Close 关闭后Send返回ErrTransportClosed，模拟对端断开
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
