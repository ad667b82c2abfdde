package config

import (
	"fmt"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Registry.Backend == "redis" {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if c.Server.Enabled && c.Metrics.Enabled && c.Server.Port == c.Metrics.Port {
		return fmt.Errorf("server and metrics ports must differ (both %d)", c.Server.Port)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}

	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (p *PlayerConfig) Validate() error {
	if p.VideoQueueSize <= 0 {
		return fmt.Errorf("video_queue_size must be positive")
	}

	if p.AudioQueueSize <= 0 {
		return fmt.Errorf("audio_queue_size must be positive")
	}

	if p.DefaultTimeBase <= 0 {
		return fmt.Errorf("default_time_base must be positive, got %v", p.DefaultTimeBase)
	}

	if p.LowWaterMark <= 0 {
		return fmt.Errorf("low_water_mark must be positive")
	}

	if p.ColdStartDecodeAhead <= 0 || p.DecodeAhead <= 0 {
		return fmt.Errorf("decode-ahead durations must be positive")
	}

	if p.CorrectionThreshold <= 0 {
		return fmt.Errorf("correction_threshold must be positive")
	}

	if p.MinDelay <= 0 {
		return fmt.Errorf("min_delay must be positive")
	}

	if p.DemuxPollRate <= 0 {
		return fmt.Errorf("demux_poll_rate must be positive")
	}

	if p.DemuxPollBurst < 1 {
		return fmt.Errorf("demux_poll_burst must be at least 1")
	}

	return nil
}

func (a *AudioConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("invalid sample_rate: %d", a.SampleRate)
	}

	if a.Channels < 1 || a.Channels > 8 {
		return fmt.Errorf("invalid channels: %d", a.Channels)
	}

	if a.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive")
	}

	return nil
}

func (r *RegistryConfig) Validate() error {
	switch r.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("registry backend must be 'memory' or 'redis', got %q", r.Backend)
	}

	if r.Backend == "redis" && r.KeyPrefix == "" {
		return fmt.Errorf("key_prefix cannot be empty")
	}

	if r.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}

	if r.PositionUpdateInterval <= 0 {
		return fmt.Errorf("position_update_interval must be positive")
	}

	return nil
}
