package sink

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/haolipeng/traffic_visor/pkg/config"
	"github.com/haolipeng/traffic_visor/pkg/stream"
	"github.com/haolipeng/traffic_visor/pkg/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// DefaultMaxFileSize 单个输出文件的默认大小上限
const DefaultMaxFileSize = int64(50 * 1024 * 1024)

// FileSink 把批次以JSON行写入文件，超过大小上限时切换到新文件
type FileSink struct {
	baseFilename string // 基础文件名（如 "batches"）
	maxFileSize  int64
	currentSize  int64
	fileIndex    int
	curFileName  string
	file         *os.File
	mu           sync.Mutex
}

func NewFileSink(cfg *config.Config) (*FileSink, error) {
	maxFileSize := DefaultMaxFileSize
	if cfg.Output.MaxFileSize > 0 {
		maxFileSize = cfg.Output.MaxFileSize
	}

	sink := &FileSink{
		baseFilename: cfg.Output.Filename,
		maxFileSize:  maxFileSize,
		fileIndex:    1,
	}

	if err := sink.createNewFile(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *FileSink) createNewFile() error {
	// 生成文件名：batches_20240318_153000_1.jsonl
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%d.jsonl", s.baseFilename, timestamp, s.fileIndex)

	f, err := os.Create(filename)
	if err != nil {
		logrus.Errorf("Failed to create output file: %v", err)
		return err
	}

	// 如果已有打开的文件，先关闭
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			logrus.Errorf("Failed to close previous output file: %v", err)
		}
	}

	s.curFileName = filename
	s.file = f
	s.currentSize = 0
	s.fileIndex++

	logrus.Infof("Created new output file: %s", filename)
	return nil
}

// Send 写入一行批次数据，批次已经生成后不再因ctx取消而丢弃
func (s *FileSink) Send(_ context.Context, batch stream.Batch) error {
	data, err := jsoniter.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch failed: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return types.ErrTransportClosed
	}

	// 检查文件大小是否超过限制
	if s.currentSize > 0 && s.currentSize+int64(len(data)) > s.maxFileSize {
		if err := s.createNewFile(); err != nil {
			return err
		}
	}

	n, err := s.file.Write(data)
	s.currentSize += int64(n)
	if err != nil {
		logrus.Errorf("Failed to write batch: %v", err)
		return err
	}

	for _, anomaly := range batch.Anomalies {
		logrus.WithField("session", batch.Session).Warn(anomaly)
	}
	return nil
}

// CurrentFile 返回正在写入的文件名
func (s *FileSink) CurrentFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curFileName
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
