package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Mesh      MeshConfig      `mapstructure:"mesh"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Peer      PeerConfig      `mapstructure:"peer"`
}

// RateLimitConfig bounds inbound signaling messages per endpoint.
type RateLimitConfig struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

type MeshConfig struct {
	ICEServers         []string      `mapstructure:"ice_servers"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	MaxICERestarts     int           `mapstructure:"max_ice_restarts"`
	// UDPPortMin/UDPPortMax restrict ICE host candidates to a port range when both are set.
	UDPPortMin uint16 `mapstructure:"udp_port_min"`
	UDPPortMax uint16 `mapstructure:"udp_port_max"`
}

// RedisConfig enables the presence mirror when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Channel  string `mapstructure:"channel"`
}

type PeerConfig struct {
	Server  string `mapstructure:"server"`
	Name    string `mapstructure:"name"`
	Publish bool   `mapstructure:"publish"`
}

func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func fileName() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

func newViper(file string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(file)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("rate_limit.messages", 200)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("mesh.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("mesh.negotiation_timeout", "30s")
	v.SetDefault("mesh.max_ice_restarts", 3)
	v.SetDefault("secret", "")
	v.SetDefault("mesh.udp_port_min", 0)
	v.SetDefault("mesh.udp_port_max", 0)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "mesh:endpoints")
	v.SetDefault("redis.channel", "mesh:membership")
	v.SetDefault("peer.server", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("peer.name", "")
	v.SetDefault("peer.publish", true)
	return v
}

func read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("send_buffer must be positive, got %d", cfg.SendBuffer)
	}
	if cfg.Mesh.MaxICERestarts < 0 {
		return nil, fmt.Errorf("mesh.max_ice_restarts must not be negative")
	}
	if cfg.Mesh.UDPPortMax < cfg.Mesh.UDPPortMin {
		return nil, fmt.Errorf("mesh.udp_port_max %d below udp_port_min %d", cfg.Mesh.UDPPortMax, cfg.Mesh.UDPPortMin)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Msg("config ready")
	return &cfg, nil
}

func Load() (*Config, error) {
	return read(newViper(fileName()))
}

// LoadAndWatch loads the config and re-decodes it on every file change.
func LoadAndWatch(onChange func(*Config)) (*Config, error) {
	v := newViper(fileName())
	cfg, err := read(v)
	if err != nil {
		return nil, err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload rejected")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}

var peerFlagKeys = map[string]string{
	"server":    "peer.server",
	"name":      "peer.name",
	"publish":   "peer.publish",
	"log-level": "log_level",
}

// PeerFlags registers the command-line overrides of the peer binary.
func PeerFlags(fs *pflag.FlagSet) {
	fs.String("server", "", "signaling websocket url")
	fs.String("name", "", "display label announced to other peers")
	fs.Bool("publish", true, "publish synthetic audio to every peer")
	fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
}

// LoadWithFlags is Load with explicitly set flags taking precedence.
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	return readWithFlags(newViper(fileName()), fs)
}

func readWithFlags(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	for name, key := range peerFlagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return read(v)
}
