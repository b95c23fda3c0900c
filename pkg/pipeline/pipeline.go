package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haolipeng/traffic_visor/pkg/buffer"
	"github.com/haolipeng/traffic_visor/pkg/source"
	"github.com/haolipeng/traffic_visor/pkg/types"
	"github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout 停止时等待采集goroutine退出的默认时间
const DefaultShutdownTimeout = 5 * time.Second

// 流水线状态
const (
	StatusInitialized = "initialized"
	StatusRunning     = "running"
	StatusStopping    = "stopping"
	StatusStopped     = "stopped"
	StatusFinished    = "finished"
)

// Pipeline 采集流水线：数据源在独立goroutine中把记录写入缓冲区
type Pipeline struct {
	source          source.Source
	buf             *buffer.CaptureBuffer
	shutdownTimeout time.Duration

	running   bool
	mu        sync.Mutex
	errChan   chan error
	status    string
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup // 用于跟踪所有goroutine
}

func NewPipeline(src source.Source, buf *buffer.CaptureBuffer, shutdownTimeout time.Duration) *Pipeline {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Pipeline{
		source:          src,
		buf:             buf,
		shutdownTimeout: shutdownTimeout,
		status:          StatusInitialized,
		done:            make(chan struct{}),
	}
}

func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return types.NewPipelineError("start", types.ErrPipelineRunning)
	}
	if p.source == nil || p.buf == nil {
		return types.NewPipelineError("start", types.ErrSourceNotReady)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.startTime = time.Now()
	p.status = StatusRunning
	p.errChan = make(chan error, 1)
	p.done = make(chan struct{})
	p.wg = sync.WaitGroup{}

	logrus.Info("Starting pipeline")

	errChan := p.errChan
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.handleErrors(ctx, errChan)
	}()

	done := p.done
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(done)
		if err := p.source.Run(ctx, p.buf); err != nil {
			errChan <- fmt.Errorf("source error: %w", err)
		}
		p.mu.Lock()
		if p.status == StatusRunning {
			p.status = StatusFinished
		}
		p.mu.Unlock()
		logrus.Info("Data source finished")
	}()

	logrus.Info("Pipeline is now running")
	return nil
}

// Done 数据源结束（读完文件或被取消）后关闭
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop 取消数据源并在超时时间内等待其退出
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.status = StatusStopping
	p.running = false
	p.cancel()
	p.mu.Unlock()

	logrus.Info("Pipeline stopping...")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		logrus.Info("Data source stopped gracefully")
	case <-time.After(p.shutdownTimeout):
		logrus.Warn("Timeout waiting for data source to stop")
		err = types.NewPipelineError("stop", fmt.Errorf("timeout after %s", p.shutdownTimeout))
	}

	if closeErr := p.source.Close(); closeErr != nil {
		logrus.Errorf("Error closing source: %v", closeErr)
	}

	p.mu.Lock()
	p.status = StatusStopped
	p.mu.Unlock()

	logrus.Info("Pipeline stopped and cleaned up")
	return err
}

func (p *Pipeline) handleErrors(ctx context.Context, errChan <-chan error) {
	logrus.Debug("Starting error handler")
	for {
		select {
		case err := <-errChan:
			logrus.Errorf("Pipeline error: %v", err)
		case <-ctx.Done():
			logrus.Debug("Context cancelled, stopping error handler")
			return
		}
	}
}

// GetStats 返回流水线、数据源和缓冲区的统计信息
func (p *Pipeline) GetStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := map[string]interface{}{
		"status": p.status,
		"uptime": "0s",
	}
	if !p.startTime.IsZero() {
		stats["uptime"] = time.Since(p.startTime).Round(time.Second).String()
	}
	if p.source != nil {
		stats["source"] = p.source.Stats().GetStats()
	}
	if p.buf != nil {
		stats["buffer"] = map[string]interface{}{
			"size":     p.buf.Size(),
			"records":  p.buf.Len(),
			"evicted":  p.buf.Evicted(),
			"capacity": p.buf.Cap(),
		}
	}
	return stats
}

func (p *Pipeline) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
