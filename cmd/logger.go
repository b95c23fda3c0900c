package main

import (
	"os"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/haolipeng/traffic_visor/pkg/config"
	rotates "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// parseLevel 解析配置中的日志级别，不支持的级别使用WARN
func parseLevel(name string) logrus.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return logrus.DebugLevel
	case "INFO":
		return logrus.InfoLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	case "FATAL":
		return logrus.FatalLevel
	case "PANIC":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel //默认
	}
}

func InitLogger(cfg *config.Config) error {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logrus.SetLevel(parseLevel(cfg.Log.Level))

	//1、判断文件路径是否存在，不存在则创建
	if _, err := os.Stat(cfg.Log.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.Log.Dir, 0755); err != nil {
			return err
		}
	}
	logFileName := path.Join(cfg.Log.Dir, cfg.Log.Filename)

	maxAge := time.Duration(cfg.Log.MaxAge) * time.Hour
	rotateTime := time.Duration(cfg.Log.RotateTime) * time.Hour
	if rotateTime <= 0 {
		rotateTime = time.Hour
	}

	//2、日志切割功能，按时间来切割
	options := []rotates.Option{
		rotates.WithMaxAge(maxAge),           //文件最大保存时间
		rotates.WithRotationTime(rotateTime), //文件切割间隔
	}
	if runtime.GOOS == "linux" {
		options = append(options, rotates.WithLinkName(logFileName)) //文件软链接
	}
	logWriter, err := rotates.New(logFileName+".%Y%m%d%H%M", options...)
	if err != nil {
		return err
	}

	//不同的日志级别写入同一个日志文件
	lfHook := lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: logWriter,
		logrus.InfoLevel:  logWriter,
		logrus.WarnLevel:  logWriter,
		logrus.ErrorLevel: logWriter,
		logrus.FatalLevel: logWriter,
		logrus.PanicLevel: logWriter,
	}, &logrus.TextFormatter{})

	logrus.AddHook(lfHook)
	return nil
}
