package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haolipeng/traffic_visor/pkg/anomaly"
	"github.com/haolipeng/traffic_visor/pkg/buffer"
	"github.com/haolipeng/traffic_visor/pkg/enrich"
	"github.com/haolipeng/traffic_visor/pkg/metrics"
	"github.com/haolipeng/traffic_visor/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport 记录收到的批次，failAfter大于0时第failAfter次之后的发送失败
type recordingTransport struct {
	mu        sync.Mutex
	batches   []Batch
	failAfter int
}

func (t *recordingTransport) Send(ctx context.Context, batch Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failAfter > 0 && len(t.batches) >= t.failAfter {
		return types.ErrTransportClosed
	}
	t.batches = append(t.batches, batch)
	return nil
}

func (t *recordingTransport) Batches() []Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Batch, len(t.batches))
	copy(out, t.batches)
	return out
}

func TestTickFirstBatchAlwaysSent(t *testing.T) {
	buf := buffer.New(10)
	transport := &recordingTransport{}
	loop := NewLoop(buf, anomaly.NewDetector(), nil, transport, Options{Session: "s1"})

	sent, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)

	batches := transport.Batches()
	require.Len(t, batches, 1)
	assert.Empty(t, batches[0].Packets)
	assert.NotNil(t, batches[0].Anomalies)
	assert.Empty(t, batches[0].Anomalies)
	assert.NotNil(t, batches[0].ServerLocation)
	assert.Equal(t, "s1", batches[0].Session)

	// 没有新数据的周期不发送
	sent, err = loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, transport.Batches(), 1)
}

func TestTickSendsOnlyNewRecords(t *testing.T) {
	buf := buffer.New(10)
	buf.Append(types.ConnectionRecord{Src: "10.0.0.1", Dst: "8.8.8.8", Proto: "UDP", DstPort: 53})
	transport := &recordingTransport{}
	loop := NewLoop(buf, anomaly.NewDetector(), nil, transport, Options{})

	_, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loop.Watermark())

	buf.Append(types.ConnectionRecord{Src: "10.0.0.2", Dst: "1.1.1.1", Proto: "TCP", DstPort: 443})
	sent, err := loop.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, sent)

	batches := transport.Batches()
	require.Len(t, batches, 2)
	require.Len(t, batches[0].Packets, 1)
	assert.Equal(t, "10.0.0.1", batches[0].Packets[0].Src)
	assert.Equal(t, enrich.LocalPublic, batches[0].Packets[0].Type)
	require.Len(t, batches[1].Packets, 1)
	assert.Equal(t, "10.0.0.2", batches[1].Packets[0].Src)
	assert.Nil(t, batches[1].ServerLocation)
	assert.Equal(t, uint64(2), loop.Watermark())
}

func TestTickPortScanBatch(t *testing.T) {
	buf := buffer.New(100)
	for port := 20; port < 31; port++ {
		buf.Append(types.ConnectionRecord{Src: "5.5.5.5", Dst: "6.6.6.6", SrcPort: 1234, DstPort: uint16(port), Proto: "TCP"})
	}
	transport := &recordingTransport{}
	loop := NewLoop(buf, anomaly.NewDetector(), nil, transport, Options{})

	_, err := loop.Tick(context.Background())
	require.NoError(t, err)

	batches := transport.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Packets, 11)
	assert.Contains(t, batches[0].Anomalies, "Port scan from 5.5.5.5 to 6.6.6.6")
}

func TestTickSkipsEvictedRecords(t *testing.T) {
	buf := buffer.New(3)
	transport := &recordingTransport{}
	loop := NewLoop(buf, anomaly.NewDetector(), nil, transport, Options{})
	_, err := loop.Tick(context.Background())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		buf.Append(types.ConnectionRecord{Src: "1.1.1.1", DstPort: uint16(i)})
	}
	_, err = loop.Tick(context.Background())
	require.NoError(t, err)

	batches := transport.Batches()
	require.Len(t, batches, 2)
	// 已被淘汰的两条记录不会发送
	assert.Len(t, batches[1].Packets, 3)
	assert.Equal(t, uint64(5), loop.Watermark())
}

func TestTickReturnsTransportError(t *testing.T) {
	buf := buffer.New(10)
	transport := &recordingTransport{failAfter: 1}
	pm := metrics.NewPrometheusMetrics(nil, nil)
	loop := NewLoop(buf, anomaly.NewDetector(), nil, transport, Options{Metrics: pm})

	_, err := loop.Tick(context.Background())
	require.NoError(t, err)

	buf.Append(types.ConnectionRecord{Src: "a"})
	sent, err := loop.Tick(context.Background())
	assert.False(t, sent)
	assert.True(t, errors.Is(err, types.ErrTransportClosed))
}

func TestRunStopsWhenTransportCloses(t *testing.T) {
	buf := buffer.New(10)
	transport := &recordingTransport{failAfter: 1}
	loop := NewLoop(buf, anomaly.NewDetector(), nil, transport, Options{Interval: 5 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	buf.Append(types.ConnectionRecord{Src: "a"})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after transport failure")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	buf := buffer.New(10)
	transport := &recordingTransport{}
	pm := metrics.NewPrometheusMetrics(nil, buf)
	loop := NewLoop(buf, anomaly.NewDetector(), nil, transport, Options{Interval: 5 * time.Millisecond, Metrics: pm})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	for i := 0; i < 3; i++ {
		buf.Append(types.ConnectionRecord{Src: "1.1.1.1", Dst: "2.2.2.2", Proto: "GRE"})
	}

	countPackets := func() (int, []string) {
		var total int
		var anomalies []string
		for _, b := range transport.Batches() {
			total += len(b.Packets)
			anomalies = append(anomalies, b.Anomalies...)
		}
		return total, anomalies
	}
	require.Eventually(t, func() bool {
		total, _ := countPackets()
		return total == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	_, anomalies := countPackets()
	assert.Equal(t, []string{"Unusual protocol GRE from 1.1.1.1 to 2.2.2.2"}, anomalies)
	count, err := testutil.GatherAndCount(pm.Registry(), "traffic_visor_findings_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// stoppingTransport 在第一次发送时关闭stop，并拒绝已取消的ctx
type stoppingTransport struct {
	recordingTransport
	once sync.Once
	stop chan struct{}
	buf  *buffer.CaptureBuffer
}

func (t *stoppingTransport) Send(ctx context.Context, batch Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.once.Do(func() {
		t.buf.Append(types.ConnectionRecord{Src: "10.0.0.3", Dst: "10.0.0.4", Proto: "UDP", DstPort: 123})
		close(t.stop)
	})
	return t.recordingTransport.Send(ctx, batch)
}

func TestRunUntilStopsBetweenTicks(t *testing.T) {
	buf := buffer.New(10)
	buf.Append(types.ConnectionRecord{Src: "10.0.0.1", Dst: "10.0.0.2", Proto: "TCP", DstPort: 80})
	transport := &stoppingTransport{stop: make(chan struct{}), buf: buf}
	loop := NewLoop(buf, anomaly.NewDetector(), nil, transport, Options{Interval: time.Hour})

	ctx := context.Background()
	require.NoError(t, loop.RunUntil(ctx, transport.stop))

	// 停止期间写入的记录由最后一个周期补发
	sent, err := loop.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	var dsts []string
	for _, b := range transport.Batches() {
		for _, p := range b.Packets {
			dsts = append(dsts, p.Dst)
		}
	}
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.4"}, dsts)
	assert.Equal(t, buf.Size(), loop.Watermark())
}
