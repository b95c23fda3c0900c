package stream

import (
	"context"
	"errors"
	"time"

	"github.com/haolipeng/traffic_visor/pkg/anomaly"
	"github.com/haolipeng/traffic_visor/pkg/buffer"
	"github.com/haolipeng/traffic_visor/pkg/enrich"
	"github.com/haolipeng/traffic_visor/pkg/metrics"
	"github.com/haolipeng/traffic_visor/pkg/types"
	"github.com/sirupsen/logrus"
)

// DefaultInterval 默认的推送周期
const DefaultInterval = time.Second

// Batch 每个周期推送给客户端的数据
type Batch struct {
	Packets        []enrich.EnrichedRecord `json:"packets"`
	Anomalies      []string                `json:"anomalies"`
	ServerLocation *enrich.Location        `json:"server_location,omitempty"`
	Session        string                  `json:"session,omitempty"`
}

// Transport 批次的发送通道，Send返回错误表示对端已断开
type Transport interface {
	Send(ctx context.Context, batch Batch) error
}

// Options 推送循环的可选参数
type Options struct {
	Interval time.Duration
	Session  string
	Metrics  *metrics.PrometheusMetrics
}

// Loop 单个会话的推送循环，每个会话持有自己的检测器
type Loop struct {
	buf       *buffer.CaptureBuffer
	detector  *anomaly.Detector
	enricher  *enrich.Enricher
	transport Transport
	opts      Options

	watermark uint64
	ticks     uint64
}

// NewLoop 创建推送循环，水位线从0开始，第一个周期会发送缓冲区内保留的全部记录
func NewLoop(buf *buffer.CaptureBuffer, detector *anomaly.Detector, enricher *enrich.Enricher, transport Transport, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if detector == nil {
		detector = anomaly.NewDetector()
	}
	if enricher == nil {
		enricher = enrich.NewEnricher(nil, enrich.Location{})
	}
	return &Loop{
		buf:       buf,
		detector:  detector,
		enricher:  enricher,
		transport: transport,
		opts:      opts,
	}
}

// Watermark 返回已处理到的位置
func (l *Loop) Watermark() uint64 {
	return l.watermark
}

// Run 按周期执行Tick，直到ctx取消或发送失败
// 对端断开视为正常结束，返回nil
func (l *Loop) Run(ctx context.Context) error {
	return l.RunUntil(ctx, ctx.Done())
}

// RunUntil 与Run相同，但只在两个周期之间检查stop，
// 已经读取的记录总会随所在周期的批次一起发送
func (l *Loop) RunUntil(ctx context.Context, stop <-chan struct{}) error {
	logger := logrus.WithField("session", l.opts.Session)
	logger.Info("Streaming loop started")
	defer logger.Info("Streaming loop stopped")

	if l.opts.Metrics != nil {
		l.opts.Metrics.SessionStarted()
		defer l.opts.Metrics.SessionEnded()
	}

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	// 第一个批次立即发送，客户端连接后马上拿到服务器位置和已缓存的记录
	for {
		if _, err := l.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			logger.WithError(err).Info("Transport closed, ending session")
			return nil
		}

		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick 执行一个周期：读取新记录，检测异常，补充信息并发送
// 有新记录、有告警或者是第一个周期时才发送，返回是否发送了批次
func (l *Loop) Tick(ctx context.Context) (bool, error) {
	start := time.Now()
	first := l.ticks == 0
	l.ticks++

	records, total := l.buf.ReadFrom(l.watermark)
	l.watermark = total

	var findings []types.Finding
	packets := make([]enrich.EnrichedRecord, 0, len(records))
	for _, rec := range records {
		findings = append(findings, l.detector.Process(rec)...)
		packets = append(packets, l.enricher.Enrich(ctx, rec))
	}

	if m := l.opts.Metrics; m != nil {
		m.RecordProcessed(len(records))
		for _, f := range findings {
			m.RecordFinding(f.Rule)
		}
		defer func() { m.ObserveTick(time.Since(start)) }()
	}

	if len(findings) > 0 {
		logrus.WithFields(logrus.Fields{
			"session":  l.opts.Session,
			"findings": len(findings),
		}).Debug("Anomalies detected")
	}

	if !first && len(packets) == 0 && len(findings) == 0 {
		return false, nil
	}

	batch := Batch{
		Packets:   packets,
		Anomalies: types.FindingMessages(findings),
		Session:   l.opts.Session,
	}
	if first {
		loc := l.enricher.ServerLocation()
		batch.ServerLocation = &loc
	}

	err := l.transport.Send(ctx, batch)
	if l.opts.Metrics != nil {
		l.opts.Metrics.RecordBatch(err)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
