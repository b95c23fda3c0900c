package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haolipeng/traffic_visor/pkg/buffer"
	"github.com/haolipeng/traffic_visor/pkg/config"
	"github.com/haolipeng/traffic_visor/pkg/enrich"
	"github.com/haolipeng/traffic_visor/pkg/metrics"
	"github.com/haolipeng/traffic_visor/pkg/sink"
	"github.com/haolipeng/traffic_visor/pkg/stream"
	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// StatsProvider 提供运行统计信息，由流水线实现
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Options HTTP服务依赖的组件
type Options struct {
	Buffer   *buffer.CaptureBuffer
	Rules    *RuleService
	Enricher *enrich.Enricher
	Metrics  *metrics.PrometheusMetrics
	Stats    StatsProvider
	Interval time.Duration
}

// Server HTTP 服务器
type Server struct {
	echo *echo.Echo
	addr string
	opts Options

	// 所有会话共用的上下文，Stop时取消
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // 保护sessions.Add与Stop之间的顺序
	sessions sync.WaitGroup
}

// jsonSerializer 使用jsoniter编解码请求和响应
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := jsoniter.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := jsoniter.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}

// httpErrorHandler 把echo路由层的错误转换为统一响应
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &he) && he.Code == http.StatusNotFound:
		apiErr = NewAPIError(ErrCodeNotFound, "资源不存在", err)
	case errors.As(err, &he) && he.Code < http.StatusInternalServerError:
		apiErr = NewAPIError(he.Code, fmt.Sprint(he.Message), err)
	default:
		apiErr = NewInternalServerError(err)
	}
	if err := HandleError(c, apiErr); err != nil {
		logrus.WithError(err).Error("Failed to write error response")
	}
}

// NewServer 创建一个新的 HTTP 服务器
func NewServer(cfg *config.Config, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = httpErrorHandler

	if opts.Enricher == nil {
		opts.Enricher = enrich.NewEnricher(nil, enrich.Location{})
	}
	if opts.Rules == nil {
		opts.Rules = NewRuleService(nil, "")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:   e,
		addr:   fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/packets", s.GetPackets)
	s.echo.GET("/ws", s.StreamSession)
	s.echo.GET("/stats", s.GetStats)
	if s.opts.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.opts.Metrics.Handler()))
	}

	rs := s.opts.Rules
	s.echo.GET("/ruleEngine/configs", rs.GetRuleConfigs)         // 获取所有规则配置
	s.echo.GET("/ruleEngine/configs/:rule_id", rs.GetRuleConfig) // 获取指定规则配置
	s.echo.POST("/ruleEngine/validate", rs.ValidateRule)         // 验证规则有效性
}

// Start 启动 HTTP 服务器，正常关闭时返回nil
func (s *Server) Start() error {
	logrus.Infof("API server listening on %s", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 结束所有会话并停止 HTTP 服务器
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logrus.Warn("Timeout waiting for streaming sessions to end")
	}
	return err
}

// GetEcho 获取Echo实例
func (s *Server) GetEcho() *echo.Echo {
	return s.echo
}

// GetPackets 返回缓冲区中保留的全部记录
func (s *Server) GetPackets(c echo.Context) error {
	if s.opts.Buffer == nil {
		return HandleError(c, NewAPIError(http.StatusServiceUnavailable, "缓冲区未就绪", nil))
	}
	return c.JSON(http.StatusOK, s.opts.Buffer.Snapshot())
}

// GetStats 返回运行统计
func (s *Server) GetStats(c echo.Context) error {
	stats := map[string]interface{}{}
	if s.opts.Stats != nil {
		stats = s.opts.Stats.GetStats()
	} else if s.opts.Buffer != nil {
		stats["buffer"] = map[string]interface{}{
			"size":    s.opts.Buffer.Size(),
			"records": s.opts.Buffer.Len(),
			"evicted": s.opts.Buffer.Evicted(),
		}
	}
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    stats,
	})
}

// StreamSession 为每个websocket连接启动独立的推送循环和检测器
func (s *Server) StreamSession(c echo.Context) error {
	if s.opts.Buffer == nil {
		return HandleError(c, NewAPIError(http.StatusServiceUnavailable, "缓冲区未就绪", nil))
	}

	// 服务停止后不再接受新会话
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return HandleError(c, NewAPIError(http.StatusServiceUnavailable, "服务正在关闭", nil))
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	websocket.Handler(func(conn *websocket.Conn) {

		transport := sink.NewWebSocketTransport(conn)
		defer transport.Close()

		sessionID := uuid.NewString()
		logger := logrus.WithFields(logrus.Fields{
			"session": sessionID,
			"remote":  c.RealIP(),
		})
		logger.Info("Streaming session opened")

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		go func() {
			select {
			case <-transport.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		loop := stream.NewLoop(s.opts.Buffer, s.opts.Rules.NewDetector(), s.opts.Enricher, transport, stream.Options{
			Interval: s.opts.Interval,
			Session:  sessionID,
			Metrics:  s.opts.Metrics,
		})
		if err := loop.Run(ctx); err != nil {
			logger.WithError(err).Warn("Streaming session ended with error")
		}
		logger.Info("Streaming session closed")
	}).ServeHTTP(c.Response(), c.Request())
	return nil
}
