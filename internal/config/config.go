package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Hermes   HermesConfig
	Stream   StreamConfig
	Combiner CombinerConfig
	Bars     BarsConfig
	Hub      HubConfig
	Symbols  SymbolsConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	WSPort      int
	HTTPPort    int
	GRPCPort    int
	Environment string
}

// HermesConfig configures the push-stream (SSE) price source.
type HermesConfig struct {
	StreamURL      string
	APIURL         string
	ReconnectDelay time.Duration
	TickBuffer     int
}

// StreamConfig configures the socket-stream (websocket) price source.
type StreamConfig struct {
	URL            string
	APIKey         string
	ReconnectDelay time.Duration
	SubscribeRate  float64
	SubscribeBurst int
	TickBuffer     int
}

type CombinerConfig struct {
	HermesWeight float64
	StreamWeight float64
	MaxAge       time.Duration
}

type BarsConfig struct {
	MaxHistory    int
	ReplayLimit   int
	SweepInterval time.Duration
}

type HubConfig struct {
	ClientSendBuffer int
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	PingInterval     time.Duration
}

type SymbolsConfig struct {
	File string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			WSPort:      getEnvInt("WS_PORT", 8765),
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			GRPCPort:    getEnvInt("GRPC_PORT", 50051),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Hermes: HermesConfig{
			StreamURL:      getEnv("HERMES_STREAM_URL", "https://hermes.pyth.network/v2/updates/price/stream"),
			APIURL:         getEnv("HERMES_API_URL", "https://hermes.pyth.network/v2"),
			ReconnectDelay: parseDuration(getEnv("HERMES_RECONNECT_DELAY", ""), 5*time.Second),
			TickBuffer:     getEnvInt("HERMES_TICK_BUFFER", 1024),
		},
		Stream: StreamConfig{
			URL:            getEnv("STREAM_WS_URL", "wss://socket.polygon.io/crypto"),
			APIKey:         getEnv("STREAM_API_KEY", ""),
			ReconnectDelay: parseDuration(getEnv("STREAM_RECONNECT_DELAY", ""), 5*time.Second),
			SubscribeRate:  getEnvFloat("STREAM_SUBSCRIBE_RATE", 5.0),
			SubscribeBurst: getEnvInt("STREAM_SUBSCRIBE_BURST", 10),
			TickBuffer:     getEnvInt("STREAM_TICK_BUFFER", 1024),
		},
		Combiner: CombinerConfig{
			HermesWeight: getEnvFloat("COMBINER_HERMES_WEIGHT", 0.6),
			StreamWeight: getEnvFloat("COMBINER_STREAM_WEIGHT", 0.4),
			MaxAge:       parseDuration(getEnv("COMBINER_MAX_AGE", ""), 300*time.Second),
		},
		Bars: BarsConfig{
			MaxHistory:    getEnvInt("BARS_MAX_HISTORY", 1000),
			ReplayLimit:   getEnvInt("BARS_REPLAY_LIMIT", 50),
			SweepInterval: parseDuration(getEnv("BARS_SWEEP_INTERVAL", ""), time.Second),
		},
		Hub: HubConfig{
			ClientSendBuffer: getEnvInt("HUB_CLIENT_SEND_BUFFER", 256),
			WriteTimeout:     parseDuration(getEnv("HUB_WRITE_TIMEOUT", ""), 10*time.Second),
			PongTimeout:      parseDuration(getEnv("HUB_PONG_TIMEOUT", ""), 60*time.Second),
			PingInterval:     parseDuration(getEnv("HUB_PING_INTERVAL", ""), 54*time.Second),
		},
		Symbols: SymbolsConfig{
			File: getEnv("SYMBOLS_FILE", "config/symbols.yaml"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Hermes.StreamURL == "" {
		return fmt.Errorf("HERMES_STREAM_URL is required")
	}
	if c.Combiner.HermesWeight <= 0 && c.Combiner.StreamWeight <= 0 {
		return fmt.Errorf("combiner weights must not both be zero")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED=true")
	}
	return nil
}

// StreamEnabled reports whether the secondary socket source is configured.
func (c *Config) StreamEnabled() bool {
	return c.Stream.APIKey != ""
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}
