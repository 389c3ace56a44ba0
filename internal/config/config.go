package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. OPTIMUS_SERVER_PORT.
const EnvPrefix = "OPTIMUS"

type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	UI       UIConfig       `mapstructure:"ui" yaml:"ui"`
	Record   RecordConfig   `mapstructure:"record" yaml:"record"`
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
}

type ServerConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Port   int    `mapstructure:"port" yaml:"port"`
	Device string `mapstructure:"device" yaml:"device"`
	// RequestTimeout of zero leaves agent calls unbounded; inference can
	// take a long time.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	StatusTimeout  time.Duration `mapstructure:"status_timeout" yaml:"status_timeout"`
}

type StreamConfig struct {
	Source      string        `mapstructure:"source" yaml:"source"`
	Path        string        `mapstructure:"path" yaml:"path"`
	ZMQEndpoint string        `mapstructure:"zmq_endpoint" yaml:"zmq_endpoint"`
	Reconnect   bool          `mapstructure:"reconnect" yaml:"reconnect"`
	MinBackoff  time.Duration `mapstructure:"min_backoff" yaml:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	ReadLimit   int64         `mapstructure:"read_limit" yaml:"read_limit"`
	LogEvery    int           `mapstructure:"log_every" yaml:"log_every"`
}

type DisplayConfig struct {
	Tick   time.Duration `mapstructure:"tick" yaml:"tick"`
	Buffer int           `mapstructure:"buffer" yaml:"buffer"`
	Width  int           `mapstructure:"width" yaml:"width"`
	Height int           `mapstructure:"height" yaml:"height"`
	// MaxPixels rejects observations whose header declares a larger
	// raster, before decoding.
	MaxPixels int `mapstructure:"max_pixels" yaml:"max_pixels"`
}

type DispatchConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
	Queue   int `mapstructure:"queue" yaml:"queue"`
	// ActionRate caps action loop iterations per second; zero sends the
	// next command as soon as the previous reply lands.
	ActionRate float64 `mapstructure:"action_rate" yaml:"action_rate"`
}

type UIConfig struct {
	Typewriter time.Duration `mapstructure:"typewriter" yaml:"typewriter"`
	Greeting   string        `mapstructure:"greeting" yaml:"greeting"`
}

type RecordConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults registers every key so env overrides and Unmarshal see them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://127.0.0.1")
	v.SetDefault("server.port", 9500)
	v.SetDefault("server.device", "cuda:0")
	v.SetDefault("server.request_timeout", "0s")
	v.SetDefault("server.status_timeout", "3s")

	v.SetDefault("stream.source", "websocket")
	v.SetDefault("stream.path", "/ws/obs")
	v.SetDefault("stream.zmq_endpoint", "tcp://127.0.0.1:31001")
	v.SetDefault("stream.reconnect", false)
	v.SetDefault("stream.min_backoff", "500ms")
	v.SetDefault("stream.max_backoff", "10s")
	v.SetDefault("stream.read_limit", 32<<20)
	v.SetDefault("stream.log_every", 1)

	v.SetDefault("display.tick", "50ms")
	v.SetDefault("display.buffer", 100)
	v.SetDefault("display.width", 640)
	v.SetDefault("display.height", 360)
	v.SetDefault("display.max_pixels", 8192*4096)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue", 32)
	v.SetDefault("dispatch.action_rate", 0)

	v.SetDefault("ui.typewriter", "10ms")
	v.SetDefault("ui.greeting", "hello, I'm Optimus-3.")

	v.SetDefault("record.enabled", false)
	v.SetDefault("record.dir", "recordings")
	v.SetDefault("record.compress", false)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "optimus-console")
	v.SetDefault("logger.log_file", "optimus-console.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
}

// NewViper returns a viper instance with defaults and OPTIMUS_* env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func NewDefaultConfig() *AppConfig {
	v := viper.New()
	SetDefaults(v)

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads an optional config file into v and decodes the result.
func Load(v *viper.Viper, path string) (*AppConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return NewConfigFromViper(v)
}

func NewConfigFromViper(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.URL) == "" {
		errs = append(errs, errors.New("server.url is required"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout < 0 || c.Server.StatusTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	switch c.Stream.Source {
	case "websocket", "ws":
	case "zmq":
		if c.Stream.ZMQEndpoint == "" {
			errs = append(errs, errors.New("stream.zmq_endpoint is required for the zmq source"))
		}
	default:
		errs = append(errs, fmt.Errorf("stream.source %q must be websocket or zmq", c.Stream.Source))
	}
	if c.Display.Tick <= 0 {
		errs = append(errs, errors.New("display.tick must be positive"))
	}
	if c.Display.Buffer <= 0 {
		errs = append(errs, errors.New("display.buffer must be a positive integer"))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, errors.New("display.width and display.height must be positive"))
	}
	if c.Display.MaxPixels <= 0 {
		errs = append(errs, errors.New("display.max_pixels must be positive"))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, errors.New("dispatch.workers must be a positive integer"))
	}
	if c.Dispatch.Queue < 0 {
		errs = append(errs, errors.New("dispatch.queue must not be negative"))
	}
	if c.Dispatch.ActionRate < 0 {
		errs = append(errs, errors.New("dispatch.action_rate must not be negative"))
	}
	if c.Record.Enabled && c.Record.Dir == "" {
		errs = append(errs, errors.New("record.dir is required when recording"))
	}
	return errors.Join(errs...)
}
