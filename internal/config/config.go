package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env      string
	API      APIConfig
	Realtime RealtimeConfig
	Gate     GateConfig
	Session  SessionConfig
	Redis    RedisConfig
	Feed     FeedConfig
	Sink     SinkConfig
	Status   StatusConfig
}

type APIConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	PageSize       int
}

type RealtimeConfig struct {
	URL              string
	ConnectTimeout   time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

type GateConfig struct {
	Interval time.Duration
}

// SessionConfig names the storage keys of the session collaborator. The
// access token historically lived under two different key names; both are
// checked on every read.
type SessionConfig struct {
	Backend        string // redis || memory
	TokenKey       string
	LegacyTokenKey string
	RefreshKey     string
	ProfileKey     string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type FeedConfig struct {
	PollInterval time.Duration
	PageSize     int
}

type SinkConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type StatusConfig struct {
	Addr string
}

var (
	ConfigInstance *Config
	once           sync.Once
)

func Load() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("SYNC_ENV", "dev")
		viper.SetDefault("SYNC_API_BASE_URL", "http://localhost:8080/api")
		viper.SetDefault("SYNC_API_TIMEOUT", 15*time.Second)
		viper.SetDefault("SYNC_PAGE_SIZE", 50)
		viper.SetDefault("SYNC_SOCKET_URL", "ws://localhost:8080/socket")
		viper.SetDefault("SYNC_CONNECT_TIMEOUT", 10*time.Second)
		viper.SetDefault("SYNC_RECONNECT_INITIAL", time.Second)
		viper.SetDefault("SYNC_RECONNECT_MAX", 5*time.Second)
		viper.SetDefault("SYNC_GATE_INTERVAL", 5*time.Second)
		viper.SetDefault("SYNC_SESSION_BACKEND", "redis")
		viper.SetDefault("SYNC_TOKEN_KEY", "accessToken")
		viper.SetDefault("SYNC_LEGACY_TOKEN_KEY", "token")
		viper.SetDefault("SYNC_REFRESH_TOKEN_KEY", "refreshToken")
		viper.SetDefault("SYNC_PROFILE_KEY", "user")
		viper.SetDefault("REDIS_ADDR", "localhost:6379")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("SYNC_FEED_POLL_INTERVAL", 5*time.Second)
		viper.SetDefault("SYNC_FEED_PAGE_SIZE", 20)
		viper.SetDefault("SYNC_SINK_ENABLED", false)
		viper.SetDefault("SYNC_SINK_BROKERS", "localhost:9092")
		viper.SetDefault("SYNC_SINK_TOPIC", "sync-events")
		viper.SetDefault("SYNC_STATUS_ADDR", ":8990")
		viper.AutomaticEnv()

		ConfigInstance = &Config{
			Env: viper.GetString("SYNC_ENV"),
			API: APIConfig{
				BaseURL:        viper.GetString("SYNC_API_BASE_URL"),
				RequestTimeout: viper.GetDuration("SYNC_API_TIMEOUT"),
				PageSize:       viper.GetInt("SYNC_PAGE_SIZE"),
			},
			Realtime: RealtimeConfig{
				URL:              viper.GetString("SYNC_SOCKET_URL"),
				ConnectTimeout:   viper.GetDuration("SYNC_CONNECT_TIMEOUT"),
				ReconnectInitial: viper.GetDuration("SYNC_RECONNECT_INITIAL"),
				ReconnectMax:     viper.GetDuration("SYNC_RECONNECT_MAX"),
			},
			Gate: GateConfig{
				Interval: viper.GetDuration("SYNC_GATE_INTERVAL"),
			},
			Session: SessionConfig{
				Backend:        viper.GetString("SYNC_SESSION_BACKEND"),
				TokenKey:       viper.GetString("SYNC_TOKEN_KEY"),
				LegacyTokenKey: viper.GetString("SYNC_LEGACY_TOKEN_KEY"),
				RefreshKey:     viper.GetString("SYNC_REFRESH_TOKEN_KEY"),
				ProfileKey:     viper.GetString("SYNC_PROFILE_KEY"),
			},
			Redis: RedisConfig{
				Addr:         viper.GetString("REDIS_ADDR"),
				Password:     viper.GetString("REDIS_PASSWORD"),
				DB:           viper.GetInt("REDIS_DB"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
			},
			Feed: FeedConfig{
				PollInterval: viper.GetDuration("SYNC_FEED_POLL_INTERVAL"),
				PageSize:     viper.GetInt("SYNC_FEED_PAGE_SIZE"),
			},
			Sink: SinkConfig{
				Enabled: viper.GetBool("SYNC_SINK_ENABLED"),
				Brokers: strings.Split(viper.GetString("SYNC_SINK_BROKERS"), ","),
				Topic:   viper.GetString("SYNC_SINK_TOPIC"),
			},
			Status: StatusConfig{
				Addr: viper.GetString("SYNC_STATUS_ADDR"),
			},
		}
	})

	return ConfigInstance, nil
}
