package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Player   PlayerConfig   `mapstructure:"player"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type ServerConfig struct {
	// HTTP control API
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
}

// Addr returns the host:port the control API listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.ListenAddr, s.Port)
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`     // json or text
	Output     string `mapstructure:"output"`     // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"`   // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// PlayerConfig tunes the demux, decode and presentation loops.
type PlayerConfig struct {
	VideoQueueSize int `mapstructure:"video_queue_size"` // bytes
	AudioQueueSize int `mapstructure:"audio_queue_size"` // bytes

	// DefaultTimeBase is used when neither the stream nor the codec reports
	// a usable time base, in seconds.
	DefaultTimeBase float64 `mapstructure:"default_time_base"`

	LowWaterMark         time.Duration `mapstructure:"low_water_mark"`
	ColdStartDecodeAhead time.Duration `mapstructure:"cold_start_decode_ahead"`
	DecodeAhead          time.Duration `mapstructure:"decode_ahead"`
	CorrectionThreshold  time.Duration `mapstructure:"correction_threshold"`
	MinDelay             time.Duration `mapstructure:"min_delay"`

	// HWDevice names an FFmpeg hardware device type (videotoolbox, cuda,
	// vaapi...). Empty disables hardware decoding.
	HWDevice string `mapstructure:"hw_device"`

	DemuxPollRate  float64 `mapstructure:"demux_poll_rate"` // retries per second after a transient read
	DemuxPollBurst int     `mapstructure:"demux_poll_burst"`
}

type AudioConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleRate     int           `mapstructure:"sample_rate"`
	Channels       int           `mapstructure:"channels"`
	BufferDuration time.Duration `mapstructure:"buffer_duration"`
}

// BufferSize returns the PCM ring size in bytes for S16 samples.
func (a AudioConfig) BufferSize() int {
	bytesPerSecond := a.SampleRate * a.Channels * 2
	return int(a.BufferDuration.Seconds() * float64(bytesPerSecond))
}

type RegistryConfig struct {
	Backend                string        `mapstructure:"backend"` // memory or redis
	KeyPrefix              string        `mapstructure:"key_prefix"`
	TTL                    time.Duration `mapstructure:"ttl"`
	PositionUpdateInterval time.Duration `mapstructure:"position_update_interval"`
}

// Load reads configPath, applies REEL_* environment overrides and validates
// the result. An empty path loads defaults and the environment only.
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	// Environment variable override
	viper.SetEnvPrefix("REEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.enabled", false)
	viper.SetDefault("server.listen_addr", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.shutdown_timeout", "5s")
	viper.SetDefault("server.cors_origin", "*")

	// Redis defaults
	viper.SetDefault("redis.addresses", []string{"localhost:6379"})
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 1)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stderr")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 5)
	viper.SetDefault("logging.max_age", 30)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	// Player defaults
	viper.SetDefault("player.video_queue_size", 5*16*1024)
	viper.SetDefault("player.audio_queue_size", 5*256*1024)
	viper.SetDefault("player.default_time_base", 0.4)
	viper.SetDefault("player.low_water_mark", "200ms")
	viper.SetDefault("player.cold_start_decode_ahead", "400ms")
	viper.SetDefault("player.decode_ahead", "100ms")
	viper.SetDefault("player.correction_threshold", "1s")
	viper.SetDefault("player.min_delay", "10ms")
	viper.SetDefault("player.hw_device", "")
	viper.SetDefault("player.demux_poll_rate", 100.0)
	viper.SetDefault("player.demux_poll_burst", 1)

	// Audio defaults
	viper.SetDefault("audio.enabled", true)
	viper.SetDefault("audio.sample_rate", 44100)
	viper.SetDefault("audio.channels", 2)
	viper.SetDefault("audio.buffer_duration", "500ms")

	// Registry defaults
	viper.SetDefault("registry.backend", "memory")
	viper.SetDefault("registry.key_prefix", "reel:sessions:")
	viper.SetDefault("registry.ttl", "24h")
	viper.SetDefault("registry.position_update_interval", "1s")
}

// Default returns the built-in configuration without reading any file or
// environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			CORSOrigin:      "*",
		},
		Redis: RedisConfig{
			Addresses:    []string{"localhost:6379"},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
			Port: 9090,
		},
		Player: PlayerConfig{
			VideoQueueSize:       5 * 16 * 1024,
			AudioQueueSize:       5 * 256 * 1024,
			DefaultTimeBase:      0.4,
			LowWaterMark:         200 * time.Millisecond,
			ColdStartDecodeAhead: 400 * time.Millisecond,
			DecodeAhead:          100 * time.Millisecond,
			CorrectionThreshold:  time.Second,
			MinDelay:             10 * time.Millisecond,
			DemuxPollRate:        100,
			DemuxPollBurst:       1,
		},
		Audio: AudioConfig{
			Enabled:        true,
			SampleRate:     44100,
			Channels:       2,
			BufferDuration: 500 * time.Millisecond,
		},
		Registry: RegistryConfig{
			Backend:                "memory",
			KeyPrefix:              "reel:sessions:",
			TTL:                    24 * time.Hour,
			PositionUpdateInterval: time.Second,
		},
	}
}
