package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// 数据源类型
const (
	SourceLive = "live"
	SourceFile = "file"
)

// 输出类型
const (
	OutputWebSocket = "websocket"
	OutputFile      = "file"
)

// DefaultAnomalyConfigFile 未指定路径时读取的异常检测配置文件
const DefaultAnomalyConfigFile = "anomaly_config.json"

// AnomalyConfigEnv 指定异常检测配置文件路径的环境变量
const AnomalyConfigEnv = "ANOMALY_CONFIG"

type Config struct {
	Interface struct {
		Name        string        `yaml:"name"`
		SnapLen     int32         `yaml:"snaplen" default:"65535"`
		Promiscuous bool          `yaml:"promiscuous" default:"true"`
		Timeout     time.Duration `yaml:"timeout" default:"500ms"`
		BPFFilter   string        `yaml:"bpf_filter"`
	} `yaml:"interface"`

	Source struct {
		Type     string `yaml:"type" default:"live"`
		Filename string `yaml:"filename"`
	} `yaml:"source"`

	Capture struct {
		// 0表示不限制
		MaxRecords int `yaml:"max_records" default:"10000"`
	} `yaml:"capture"`

	Stream struct {
		Interval time.Duration `yaml:"interval" default:"1s"`
	} `yaml:"stream"`

	API struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Host    string `yaml:"host" default:"0.0.0.0"`
		Port    int    `yaml:"port" default:"8000"`
	} `yaml:"api"`

	// 本机位置，本地地址在展示时使用该位置
	Server struct {
		Lat *float64 `yaml:"lat"`
		Lon *float64 `yaml:"lon"`
	} `yaml:"server"`

	Log struct {
		Level      string `yaml:"level" default:"WARN"`
		Dir        string `yaml:"dir" default:"logs"`
		Filename   string `yaml:"filename" default:"traffic_visor.log"`
		MaxAge     int    `yaml:"max_age" default:"168"`
		RotateTime int    `yaml:"rotate_time" default:"24"`
	} `yaml:"log"`

	Anomaly struct {
		Rules         map[string]interface{} `yaml:"rules"`
		RuleDirectory string                 `yaml:"rule_directory"`
		ConfigFile    string                 `yaml:"config_file"`
	} `yaml:"anomaly"`

	Output struct {
		Type        string `yaml:"type" default:"websocket"`
		Filename    string `yaml:"filename" default:"batches"`
		MaxFileSize int64  `yaml:"max_file_size" default:"52428800"`
	} `yaml:"output"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
}

// Default 返回填充了默认值的配置
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceLive:
		if c.Interface.Name == "" {
			return fmt.Errorf("interface name is required")
		}
		if c.Interface.SnapLen <= 0 {
			return fmt.Errorf("snaplen must be positive")
		}
	case SourceFile:
		if c.Source.Filename == "" {
			return fmt.Errorf("source filename is required for file source")
		}
	default:
		return fmt.Errorf("unknown source type: %s", c.Source.Type)
	}

	if c.Capture.MaxRecords < 0 {
		return fmt.Errorf("max records must not be negative")
	}
	if c.Stream.Interval <= 0 {
		return fmt.Errorf("stream interval must be positive")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}

	switch c.Output.Type {
	case OutputWebSocket:
	case OutputFile:
		if c.Output.Filename == "" {
			return fmt.Errorf("output filename is required for file output")
		}
	default:
		return fmt.Errorf("unknown output type: %s", c.Output.Type)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Parse 解析YAML配置，未出现的字段使用默认值
func Parse(data []byte) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// AnomalyConfig 返回用于构建检测器的规则配置
// 配置文件中的anomaly.rules优先，否则读取JSON格式的异常检测配置文件
func (c *Config) AnomalyConfig() map[string]interface{} {
	if len(c.Anomaly.Rules) > 0 {
		return map[string]interface{}{"rules": c.Anomaly.Rules}
	}
	return LoadAnomalyConfig(c.Anomaly.ConfigFile)
}

// LoadAnomalyConfig 从JSON文件加载异常检测配置
// path为空时依次使用环境变量ANOMALY_CONFIG和anomaly_config.json
// 文件不存在或内容无效时返回空配置
func LoadAnomalyConfig(path string) map[string]interface{} {
	if path == "" {
		path = os.Getenv(AnomalyConfigEnv)
	}
	if path == "" {
		path = DefaultAnomalyConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]interface{}{}
	}

	var cfg map[string]interface{}
	if err := jsoniter.Unmarshal(data, &cfg); err != nil || cfg == nil {
		return map[string]interface{}{}
	}
	return cfg
}
