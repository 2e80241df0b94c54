package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Signal struct {
		URL            string        `yaml:"url"`
		Token          string        `yaml:"token"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		MaxMessageSize int64         `yaml:"max_message_size"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Recording struct {
		Width         int           `yaml:"width"`
		Height        int           `yaml:"height"`
		FrameRate     float64       `yaml:"frame_rate"`
		ChunkInterval time.Duration `yaml:"chunk_interval"`
		MimeTypes     []string      `yaml:"mime_types"`
		PiPRatio      float64       `yaml:"pip_ratio"`
		JPEGQuality   int           `yaml:"jpeg_quality"`
	} `yaml:"recording"`

	Capture struct {
		CameraVideo  string `yaml:"camera_video"`
		CameraAudio  string `yaml:"camera_audio"`
		CameraPoster string `yaml:"camera_poster"`
		ScreenVideo  string `yaml:"screen_video"`
		ScreenAudio  string `yaml:"screen_audio"`
		ScreenPoster string `yaml:"screen_poster"`
		Microphone   string `yaml:"microphone"`
	} `yaml:"capture"`

	Display struct {
		OutputDir string `yaml:"output_dir"`
	} `yaml:"display"`

	Storage struct {
		Backend   string `yaml:"backend"` // s3 or http
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		PublicURL string `yaml:"public_url"`
		Prefix    string `yaml:"prefix"`
	} `yaml:"storage"`

	SessionAPI struct {
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`

		// The client stops calling the API after BreakerThreshold consecutive
		// transport or 5xx failures and probes again after BreakerCooldown.
		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"session_api"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

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
	} `yaml:"redis"`

	Auth struct {
		Enabled        bool          `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0")
	}

	// Signal
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Recording
	if c.Recording.Width <= 0 || c.Recording.Height <= 0 {
		return fmt.Errorf("recording.width and recording.height must be > 0")
	}
	if c.Recording.FrameRate <= 0 {
		return fmt.Errorf("recording.frame_rate must be > 0")
	}
	if c.Recording.ChunkInterval <= 0 {
		return fmt.Errorf("recording.chunk_interval must be > 0")
	}
	if len(c.Recording.MimeTypes) == 0 {
		return fmt.Errorf("recording.mime_types must not be empty")
	}
	if c.Recording.PiPRatio <= 0 || c.Recording.PiPRatio >= 1 {
		return fmt.Errorf("recording.pip_ratio must be between 0 and 1")
	}
	if c.Recording.JPEGQuality < 1 || c.Recording.JPEGQuality > 100 {
		return fmt.Errorf("recording.jpeg_quality must be between 1 and 100")
	}

	// Storage
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must not be empty when storage.backend=s3")
		}
	case "http":
		if c.SessionAPI.BaseURL == "" {
			return fmt.Errorf("session_api.base_url must not be empty when storage.backend=http")
		}
	default:
		return fmt.Errorf("storage.backend must be s3 or http, got %q", c.Storage.Backend)
	}

	// Session API
	if c.SessionAPI.Timeout <= 0 {
		return fmt.Errorf("session_api.timeout must be > 0")
	}
	if c.SessionAPI.BreakerThreshold < 0 {
		return fmt.Errorf("session_api.breaker_threshold must be >= 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerURL == "" {
		return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
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

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.MaxUploadBytes = 2 << 30

	cfg.Signal.URL = "ws://localhost:8080/ws"
	cfg.Signal.PingInterval = 54 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageSize = 64 * 1024

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	cfg.Recording.Width = 1280
	cfg.Recording.Height = 720
	cfg.Recording.FrameRate = 30
	cfg.Recording.ChunkInterval = time.Second
	cfg.Recording.MimeTypes = []string{
		"video/webm;codecs=vp9,opus",
		"video/webm;codecs=vp8,opus",
		"video/x-matroska;codecs=mjpeg,opus",
	}
	cfg.Recording.PiPRatio = 0.25
	cfg.Recording.JPEGQuality = 80

	cfg.Display.OutputDir = "display"

	cfg.Storage.Backend = "http"
	cfg.Storage.Region = "us-east-1"
	cfg.Storage.Prefix = "recordings"

	cfg.SessionAPI.BaseURL = "http://localhost:8080"
	cfg.SessionAPI.Timeout = 30 * time.Second
	cfg.SessionAPI.BreakerThreshold = 5
	cfg.SessionAPI.BreakerCooldown = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 12 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("ROOMCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("ROOMCAST_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if token := os.Getenv("ROOMCAST_SIGNAL_TOKEN"); token != "" {
		c.Signal.Token = token
	}
	if level := os.Getenv("ROOMCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("ROOMCAST_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("ROOMCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if backend := os.Getenv("ROOMCAST_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if bucket := os.Getenv("ROOMCAST_STORAGE_BUCKET"); bucket != "" {
		c.Storage.Bucket = bucket
	}
	if key := os.Getenv("ROOMCAST_STORAGE_ACCESS_KEY"); key != "" {
		c.Storage.AccessKey = key
	}
	if secret := os.Getenv("ROOMCAST_STORAGE_SECRET_KEY"); secret != "" {
		c.Storage.SecretKey = secret
	}
	if url := os.Getenv("ROOMCAST_SESSION_API_URL"); url != "" {
		c.SessionAPI.BaseURL = url
	}
	if token := os.Getenv("ROOMCAST_SESSION_API_TOKEN"); token != "" {
		c.SessionAPI.Token = token
	}
}
