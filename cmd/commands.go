package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haolipeng/traffic_visor/pkg/api"
	"github.com/haolipeng/traffic_visor/pkg/buffer"
	"github.com/haolipeng/traffic_visor/pkg/config"
	"github.com/haolipeng/traffic_visor/pkg/enrich"
	"github.com/haolipeng/traffic_visor/pkg/metrics"
	"github.com/haolipeng/traffic_visor/pkg/pipeline"
	"github.com/haolipeng/traffic_visor/pkg/sink"
	"github.com/haolipeng/traffic_visor/pkg/source"
	"github.com/haolipeng/traffic_visor/pkg/stream"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// app 进程内共享的组件
type app struct {
	cfg      *config.Config
	buf      *buffer.CaptureBuffer
	rules    *api.RuleService
	enricher *enrich.Enricher
}

func newApp(cfg *config.Config) *app {
	server := enrich.Location{Lat: cfg.Server.Lat, Lon: cfg.Server.Lon}
	return &app{
		cfg:      cfg,
		buf:      buffer.New(cfg.Capture.MaxRecords),
		rules:    api.NewRuleService(cfg.AnomalyConfig(), cfg.Anomaly.RuleDirectory),
		enricher: enrich.NewEnricher(enrich.NopLocator{}, server),
	}
}

func (a *app) newLoop(transport stream.Transport, session string, pm *metrics.PrometheusMetrics) *stream.Loop {
	return stream.NewLoop(a.buf, a.rules.NewDetector(), a.enricher, transport, stream.Options{
		Interval: a.cfg.Stream.Interval,
		Session:  session,
		Metrics:  pm,
	})
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, cli.NewExitError(fmt.Sprintf("Failed to load config: %v", err), 1)
	}
	if err := InitLogger(cfg); err != nil {
		return nil, cli.NewExitError(fmt.Sprintf("Failed to initialize logger: %v", err), 1)
	}
	return cfg, nil
}

func newSource(cfg *config.Config) (source.Source, error) {
	if cfg.Source.Type == config.SourceFile {
		return source.NewPcapFileSource(cfg.Source.Filename)
	}
	return source.NewPcapSource(cfg)
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logrus.Info("Starting traffic visor...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newApp(cfg)
	src, err := newSource(cfg)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Failed to create source: %v", err), 1)
	}
	pm := metrics.NewPrometheusMetrics(src.Stats(), a.buf)

	p := pipeline.NewPipeline(src, a.buf, cfg.ShutdownTimeout)
	if err := p.Start(ctx); err != nil {
		return cli.NewExitError(fmt.Sprintf("Failed to start pipeline: %v", err), 1)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg, api.Options{
			Buffer:   a.buf,
			Rules:    a.rules,
			Enricher: a.enricher,
			Metrics:  pm,
			Stats:    p,
			Interval: cfg.Stream.Interval,
		})
		go func() {
			if err := server.Start(); err != nil {
				logrus.Errorf("API server error: %v", err)
				cancel()
			}
		}()
	}

	// 无界面运行时把批次写入文件
	var fileSink *sink.FileSink
	loopDone := make(chan struct{})
	if cfg.Output.Type == config.OutputFile {
		fileSink, err = sink.NewFileSink(cfg)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("Failed to create file sink: %v", err), 1)
		}
		go func() {
			defer close(loopDone)
			a.newLoop(fileSink, "file", pm).Run(ctx)
		}()
	} else {
		close(loopDone)
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logrus.Infof("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
	}

	// 优雅退出
	cancel()
	if server != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := server.Stop(stopCtx); err != nil {
			logrus.Errorf("Error stopping API server: %v", err)
		}
		stopCancel()
	}
	if err := p.Stop(); err != nil {
		logrus.Errorf("Error stopping pipeline: %v", err)
	}
	<-loopDone
	if fileSink != nil {
		fileSink.Close()
	}

	logrus.Info("Shutdown complete")
	return nil
}

func replayCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("Specify a pcap file to replay", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	src, err := source.NewPcapFileSource(c.Args().First())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	fileSink, err := sink.NewFileSink(cfg)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer fileSink.Close()

	a := newApp(cfg)
	if err := replay(context.Background(), a, src, fileSink); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	logrus.WithFields(logrus.Fields{
		"records": a.buf.Size(),
		"evicted": a.buf.Evicted(),
		"output":  fileSink.CurrentFile(),
	}).Info("Replay finished")
	return nil
}

// replay 读取数据源直到结束，期间按周期推送，结束后再推送一次剩余记录
func replay(ctx context.Context, a *app, src source.Source, transport stream.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pipeline.NewPipeline(src, a.buf, a.cfg.ShutdownTimeout)
	if err := p.Start(ctx); err != nil {
		return err
	}

	loop := a.newLoop(transport, "replay", nil)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.RunUntil(ctx, p.Done())
	}()

	<-p.Done()
	<-loopDone

	if _, err := loop.Tick(ctx); err != nil {
		return fmt.Errorf("write final batch failed: %w", err)
	}
	return p.Stop()
}

func rulesCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	printRules(os.Stdout, api.NewRuleService(cfg.AnomalyConfig(), cfg.Anomaly.RuleDirectory).ListRules())
	return nil
}

// printRules 以表格形式输出规则
func printRules(w io.Writer, rules []api.RuleInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Kind", "State", "Params", "Description"})
	for _, rule := range rules {
		table.Append([]string{rule.Name, rule.Kind, rule.State, formatParams(rule.Params), rule.Description})
	}
	table.Render()
}

func formatParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(params)
	if err != nil {
		return fmt.Sprint(params)
	}
	return strings.TrimSpace(string(data))
}
