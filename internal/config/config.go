package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"github.com/hiredeck/callkit/internal/core"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type MediaConfig struct {
	MinWidth       int     `mapstructure:"min_width"`
	IdealWidth     int     `mapstructure:"ideal_width"`
	MaxWidth       int     `mapstructure:"max_width"`
	MinHeight      int     `mapstructure:"min_height"`
	IdealHeight    int     `mapstructure:"ideal_height"`
	MaxHeight      int     `mapstructure:"max_height"`
	MinFrameRate   float32 `mapstructure:"min_frame_rate"`
	IdealFrameRate float32 `mapstructure:"ideal_frame_rate"`
	MaxFrameRate   float32 `mapstructure:"max_frame_rate"`

	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
	AutoGainControl  bool `mapstructure:"auto_gain_control"`
}

// RetryConfig bounds the fresh-offer retry issued when an initiator link
// reaches the failed state.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type Config struct {
	ServerURL  string        `mapstructure:"server_url"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	JoinTimeout       time.Duration `mapstructure:"join_timeout"`
	MediaStartTimeout time.Duration `mapstructure:"media_start_timeout"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
	Media      MediaConfig `mapstructure:"media"`
	Retry      RetryConfig `mapstructure:"retry"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("server_url", "ws://localhost:5001/ws")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("join_timeout", "15s")
	v.SetDefault("media_start_timeout", "10s")

	v.SetDefault("media.min_width", 640)
	v.SetDefault("media.ideal_width", 1280)
	v.SetDefault("media.max_width", 1920)
	v.SetDefault("media.min_height", 480)
	v.SetDefault("media.ideal_height", 720)
	v.SetDefault("media.max_height", 1080)
	v.SetDefault("media.min_frame_rate", 15)
	v.SetDefault("media.ideal_frame_rate", 30)
	v.SetDefault("media.max_frame_rate", 60)
	v.SetDefault("media.echo_cancellation", true)
	v.SetDefault("media.noise_suppression", true)
	v.SetDefault("media.auto_gain_control", true)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff", "2s")

	// Defaults are a complete working setup; a missing file is fine.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaultICEServers()
	}
	return &cfg, nil
}

// defaultICEServers: STUN plus one TURN relay. Without TURN, peers behind
// symmetric NAT fail silently.
func defaultICEServers() []ICEServer {
	return []ICEServer{
		{URLs: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun2.l.google.com:19302",
		}},
		{
			URLs:       []string{"turn:openrelay.metered.ca:80"},
			Username:   "openrelayproject",
			Credential: "openrelayproject",
		},
	}
}

// WebRTCConfiguration converts the configured ICE servers into a pion
// peer-connection configuration.
func (c *Config) WebRTCConfiguration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		servers = append(servers, srv)
	}
	return webrtc.Configuration{
		ICEServers:           servers,
		ICECandidatePoolSize: 10,
	}
}

// StreamConstraints converts the media defaults into capture constraints.
func (c *Config) StreamConstraints() core.StreamConstraints {
	return core.StreamConstraints{
		Video: &core.VideoConstraints{
			MinWidth:       c.Media.MinWidth,
			IdealWidth:     c.Media.IdealWidth,
			MaxWidth:       c.Media.MaxWidth,
			MinHeight:      c.Media.MinHeight,
			IdealHeight:    c.Media.IdealHeight,
			MaxHeight:      c.Media.MaxHeight,
			MinFrameRate:   c.Media.MinFrameRate,
			IdealFrameRate: c.Media.IdealFrameRate,
			MaxFrameRate:   c.Media.MaxFrameRate,
		},
		Audio: &core.AudioConstraints{
			EchoCancellation: c.Media.EchoCancellation,
			NoiseSuppression: c.Media.NoiseSuppression,
			AutoGainControl:  c.Media.AutoGainControl,
		},
	}
}
