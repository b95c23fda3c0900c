package buffer

import (
	"sync"

	"github.com/haolipeng/traffic_visor/pkg/types"
)

// CaptureBuffer 是一个线程安全的有界环形缓冲区，保存最近观测到的连接记录
//
// size 计数器单调递增，即使发生淘汰也不会减少，消费者可以把它当作水位线
// 使用。当水位线早于最旧的保留记录时，ReadSince 只返回仍保留的尾部记录。
type CaptureBuffer struct {
	mu         sync.Mutex
	records    []types.ConnectionRecord
	head       int    // 最旧记录在records中的位置，仅有界模式使用
	count      int    // 当前保留的记录数
	maxRecords int    // 0表示不限制容量
	total      uint64 // 累计追加的记录数
}

// New 创建缓冲区，maxRecords<=0 表示不限制容量
func New(maxRecords int) *CaptureBuffer {
	if maxRecords < 0 {
		maxRecords = 0
	}
	b := &CaptureBuffer{maxRecords: maxRecords}
	if maxRecords > 0 {
		b.records = make([]types.ConnectionRecord, maxRecords)
	}
	return b
}

// Append 追加一条记录，缓冲区满时淘汰最旧的记录
// 缺少源地址的记录会被丢弃并返回false
func (b *CaptureBuffer) Append(rec types.ConnectionRecord) bool {
	if !rec.Valid() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxRecords == 0 {
		b.records = append(b.records, rec)
		b.count++
		b.total++
		return true
	}

	if b.count < b.maxRecords {
		b.records[(b.head+b.count)%b.maxRecords] = rec
		b.count++
	} else {
		// 覆盖最旧的记录
		b.records[b.head] = rec
		b.head = (b.head + 1) % b.maxRecords
	}
	b.total++
	return true
}

// Snapshot 返回当前保留的全部记录的副本
func (b *CaptureBuffer) Snapshot() []types.ConnectionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyFrom(0)
}

// ReadSince 返回绝对序号不小于watermark且仍被保留的记录
func (b *CaptureBuffer) ReadSince(watermark uint64) []types.ConnectionRecord {
	records, _ := b.ReadFrom(watermark)
	return records
}

// ReadFrom 与ReadSince相同，同时返回在同一把锁内读取的size，
// 调用方用它作为下一次读取的水位线，保证不重复也不遗漏
func (b *CaptureBuffer) ReadFrom(watermark uint64) ([]types.ConnectionRecord, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if watermark >= b.total {
		return []types.ConnectionRecord{}, b.total
	}

	evicted := b.total - uint64(b.count)
	offset := 0
	if watermark > evicted {
		offset = int(watermark - evicted)
	}
	return b.copyFrom(offset), b.total
}

// copyFrom 复制从第offset条保留记录开始的数据，调用方需持有锁
func (b *CaptureBuffer) copyFrom(offset int) []types.ConnectionRecord {
	if offset >= b.count {
		return []types.ConnectionRecord{}
	}

	out := make([]types.ConnectionRecord, 0, b.count-offset)
	if b.maxRecords == 0 {
		return append(out, b.records[offset:b.count]...)
	}
	for i := offset; i < b.count; i++ {
		out = append(out, b.records[(b.head+i)%b.maxRecords])
	}
	return out
}

// Size 返回累计追加的记录数
func (b *CaptureBuffer) Size() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Len 返回当前保留的记录数
func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Evicted 返回已被淘汰的记录数
func (b *CaptureBuffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total - uint64(b.count)
}

// Cap 返回容量上限，0表示不限制
func (b *CaptureBuffer) Cap() int {
	return b.maxRecords
}
