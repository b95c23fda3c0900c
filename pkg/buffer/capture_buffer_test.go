package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/haolipeng/traffic_visor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(src string) types.ConnectionRecord {
	return types.ConnectionRecord{Src: src, Dst: "10.0.0.1", Proto: "TCP"}
}

// 超出容量后只保留最新的记录，size等于追加总数
func TestCaptureBufferEvictsOldest(t *testing.T) {
	b := New(2)
	b.Append(rec("one"))
	b.Append(rec("two"))
	b.Append(rec("three"))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "two", snap[0].Src)
	assert.Equal(t, "three", snap[1].Src)
	assert.Equal(t, uint64(3), b.Size())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, uint64(1), b.Evicted())
}

func TestCaptureBufferRetainsMostRecent(t *testing.T) {
	testCases := []struct {
		name    string
		max     int
		appends int
	}{
		{name: "容量1", max: 1, appends: 5},
		{name: "容量3", max: 3, appends: 10},
		{name: "恰好填满", max: 4, appends: 4},
		{name: "不限容量", max: 0, appends: 7},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := New(tc.max)
			for i := 0; i < tc.appends; i++ {
				assert.True(t, b.Append(rec(fmt.Sprintf("src-%d", i))))
			}

			want := tc.appends
			if tc.max > 0 && tc.max < want {
				want = tc.max
			}
			snap := b.Snapshot()
			require.Len(t, snap, want)
			for i, r := range snap {
				assert.Equal(t, fmt.Sprintf("src-%d", tc.appends-want+i), r.Src)
			}
			assert.Equal(t, uint64(tc.appends), b.Size())
		})
	}
}

func TestCaptureBufferDropsRecordWithoutSource(t *testing.T) {
	b := New(0)
	assert.False(t, b.Append(types.ConnectionRecord{Dst: "1.1.1.1"}))
	assert.False(t, b.Append(types.ConnectionRecord{Src: "  "}))
	assert.Equal(t, uint64(0), b.Size())
	assert.Empty(t, b.Snapshot())
}

func TestReadSinceFromZero(t *testing.T) {
	b := New(10)
	for i := 0; i < 5; i++ {
		b.Append(rec(fmt.Sprintf("src-%d", i)))
	}

	got := b.ReadSince(0)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("src-%d", i), r.Src)
	}

	got = b.ReadSince(3)
	require.Len(t, got, 2)
	assert.Equal(t, "src-3", got[0].Src)
}

func TestReadSinceIsIdempotent(t *testing.T) {
	b := New(4)
	for i := 0; i < 6; i++ {
		b.Append(rec(fmt.Sprintf("src-%d", i)))
	}
	assert.Equal(t, b.ReadSince(3), b.ReadSince(3))
	assert.Equal(t, b.ReadSince(0), b.ReadSince(0))
}

func TestReadSinceOutOfRange(t *testing.T) {
	b := New(2)
	assert.Empty(t, b.ReadSince(0))
	assert.Empty(t, b.ReadSince(100))

	b.Append(rec("a"))
	assert.Empty(t, b.ReadSince(1))
	assert.Empty(t, b.ReadSince(1 << 40))
}

// 水位线早于淘汰边界时只返回保留的尾部
func TestReadSincePastEvictionHorizon(t *testing.T) {
	b := New(3)
	for i := 0; i < 8; i++ {
		b.Append(rec(fmt.Sprintf("src-%d", i)))
	}

	got := b.ReadSince(1)
	require.Len(t, got, 3)
	assert.Equal(t, "src-5", got[0].Src)
	assert.Equal(t, "src-7", got[2].Src)

	got = b.ReadSince(6)
	require.Len(t, got, 2)
	assert.Equal(t, "src-6", got[0].Src)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New(2)
	b.Append(rec("a"))
	snap := b.Snapshot()
	snap[0].Src = "mutated"
	b.Append(rec("b"))
	b.Append(rec("c"))

	assert.Equal(t, "mutated", snap[0].Src)
	assert.Equal(t, "b", b.Snapshot()[0].Src)
}

// 并发追加时按ReadFrom返回的水位线增量读取，不重复也不遗漏
func TestReadFromUnderConcurrentAppends(t *testing.T) {
	const total = 5000
	b := New(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			b.Append(rec(fmt.Sprintf("src-%d", i)))
		}
	}()

	seen := make([]types.ConnectionRecord, 0, total)
	var watermark uint64
	for uint64(len(seen)) < total {
		records, next := b.ReadFrom(watermark)
		assert.Equal(t, int(next-watermark), len(records))
		seen = append(seen, records...)
		watermark = next
	}
	wg.Wait()

	require.Len(t, seen, total)
	for i, r := range seen {
		assert.Equal(t, fmt.Sprintf("src-%d", i), r.Src)
	}
}
