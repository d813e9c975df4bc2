package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		SFUURL       string        `yaml:"sfu_url"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		// AnswerTimeout bounds the wait for the media server's SDP answer.
		AnswerTimeout time.Duration `yaml:"answer_timeout"`
		DialAttempts  int           `yaml:"dial_attempts"`
		DialBackoff   time.Duration `yaml:"dial_backoff"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Screenshare struct {
		EnableVolumeControl bool     `yaml:"enable_volume_control"`
		StatsTypes          []string `yaml:"stats_types"`
		// CapturePath is the IVF feed written by the display capturer.
		CapturePath string `yaml:"capture_path"`
		// CameraDevices maps device ids to IVF feeds.
		CameraDevices  map[string]string `yaml:"camera_devices"`
		FrameRate      int               `yaml:"frame_rate"`
		StatsInterval  time.Duration     `yaml:"stats_interval"`
		StallThreshold int               `yaml:"stall_threshold"`
		RecordDir      string            `yaml:"record_dir"`
		TabletMode     bool              `yaml:"tablet_mode"`
		ParticipantID  string            `yaml:"participant_id"`
	} `yaml:"screenshare"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if c.Signal.SFUURL == "" {
		return fmt.Errorf("signal.sfu_url must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.AnswerTimeout <= 0 {
		return fmt.Errorf("signal.answer_timeout must be > 0")
	}
	if c.Signal.DialAttempts < 0 {
		return fmt.Errorf("signal.dial_attempts must be >= 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	if len(c.Screenshare.StatsTypes) == 0 {
		return fmt.Errorf("screenshare.stats_types must not be empty")
	}
	if c.Screenshare.FrameRate <= 0 {
		return fmt.Errorf("screenshare.frame_rate must be > 0")
	}
	if c.Screenshare.StatsInterval <= 0 {
		return fmt.Errorf("screenshare.stats_interval must be > 0")
	}
	if c.Screenshare.StallThreshold <= 0 {
		return fmt.Errorf("screenshare.stall_threshold must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = "127.0.0.1:8090"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Signal.SFUURL = "ws://localhost:3008/screenshare"
	cfg.Signal.PingInterval = 15 * time.Second
	cfg.Signal.PongTimeout = 45 * time.Second
	cfg.Signal.WriteTimeout = 5 * time.Second
	cfg.Signal.AnswerTimeout = 20 * time.Second
	cfg.Signal.DialAttempts = 3
	cfg.Signal.DialBackoff = 500 * time.Millisecond

	cfg.Screenshare.EnableVolumeControl = true
	cfg.Screenshare.StatsTypes = []string{"outbound-rtp", "inbound-rtp"}
	cfg.Screenshare.CapturePath = "/run/sharecast/screen.ivf"
	cfg.Screenshare.CameraDevices = map[string]string{}
	cfg.Screenshare.FrameRate = 15
	cfg.Screenshare.StatsInterval = 2 * time.Second
	cfg.Screenshare.StallThreshold = 3

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "sharecast:broadcast"

	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40

	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("SHARECAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("SHARECAST_SFU_URL"); url != "" {
		c.Signal.SFUURL = url
	}
	if level := os.Getenv("SHARECAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("SHARECAST_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if path := os.Getenv("SHARECAST_CAPTURE_PATH"); path != "" {
		c.Screenshare.CapturePath = path
	}
	if v := os.Getenv("SHARECAST_VOLUME_CONTROL"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Screenshare.EnableVolumeControl = enabled
		}
	}
}
