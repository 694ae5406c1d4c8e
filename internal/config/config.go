package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string        `mapstructure:"mode"`
	Port      int           `mapstructure:"port"`
	Transport string        `mapstructure:"transport"`
	Log       LogConfig     `mapstructure:"log"`
	Room      RoomConfig    `mapstructure:"room"`
	User      UserConfig    `mapstructure:"user"`
	Signal    SignalConfig  `mapstructure:"signal"`
	Relay     RelayConfig   `mapstructure:"relay"`
	ICE       ICEConfig     `mapstructure:"ice"`
	Media     MediaConfig   `mapstructure:"media"`
	Redis     RedisConfig   `mapstructure:"redis"`
	Session   SessionConfig `mapstructure:"session"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type RoomConfig struct {
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Cover string `mapstructure:"cover"`
}

type UserConfig struct {
	Name   string `mapstructure:"name"`
	Avatar string `mapstructure:"avatar"`
}

type SignalConfig struct {
	URL        string        `mapstructure:"url"`
	Codec      string        `mapstructure:"codec"`
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type RelayConfig struct {
	API        string        `mapstructure:"api"`
	StreamBase string        `mapstructure:"stream_base"`
	FlvBase    string        `mapstructure:"flv_base"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ICEConfig struct {
	STUN       []string `mapstructure:"stun"`
	TURN       []string `mapstructure:"turn"`
	TURNUser   string   `mapstructure:"turn_user"`
	TURNPass   string   `mapstructure:"turn_pass"`
	UDPPortMin uint16   `mapstructure:"udp_port_min"`
	UDPPortMax uint16   `mapstructure:"udp_port_max"`
}

type MediaConfig struct {
	Host      string `mapstructure:"host"`
	AudioPort int `mapstructure:"audio_port"`
	VideoPort int `mapstructure:"video_port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SessionConfig struct {
	EndGrace    time.Duration `mapstructure:"end_grace"`
	ChatHistory int           `mapstructure:"chat_history"`
}

// flagKeys maps cobra flag names to config keys.
var flagKeys = map[string]string{
	"room":       "room.name",
	"room-id":    "room.id",
	"cover":      "room.cover",
	"user":       "user.name",
	"transport":  "transport",
	"signal-url": "signal.url",
	"codec":      "signal.codec",
	"relay-api":  "relay.api",
	"port":       "port",
	"log-level":  "log.level",
	"audio-port": "media.audio_port",
	"video-port": "media.video_port",
	"redis-addr": "redis.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("transport", "mesh")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("user.name", "broadcaster")
	v.SetDefault("signal.url", "ws://127.0.0.1:8080/api/ws/signal")
	v.SetDefault("signal.codec", "json")
	v.SetDefault("signal.token_ttl", "1h")
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.write_wait", "5s")
	v.SetDefault("signal.read_limit", 65536)
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("relay.api", "http://127.0.0.1:1985/rtc/v1/publish/")
	v.SetDefault("relay.stream_base", "webrtc://127.0.0.1/live/livestream")
	v.SetDefault("relay.flv_base", "http://127.0.0.1:8080/live/livestream")
	v.SetDefault("relay.timeout", "10s")
	v.SetDefault("ice.stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.host", "127.0.0.1")
	v.SetDefault("session.end_grace", "500ms")
	v.SetDefault("session.chat_history", 100)
}

// Load reads config/config.<CONFIG_ENV>.yaml, then BROADCAST_* environment
// variables, then any flags that were explicitly set.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileName = path
	}
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("BROADCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("transport", cfg.Transport).
		Str("signal", cfg.Signal.URL).
		Int("port", cfg.Port).
		Msg("config ready")
	return &cfg, nil
}

var (
	ErrBadTransport = errors.New("transport must be mesh or relay")
	ErrBadCodec     = errors.New("signal.codec must be json or msgpack")
	ErrBadPortRange = errors.New("ice udp port range is inverted")
)

func (c *Config) Validate() error {
	switch strings.ToLower(c.Transport) {
	case "mesh", "relay", "srs":
	default:
		return fmt.Errorf("%w: %q", ErrBadTransport, c.Transport)
	}
	switch strings.ToLower(c.Signal.Codec) {
	case "json", "msgpack":
	default:
		return fmt.Errorf("%w: %q", ErrBadCodec, c.Signal.Codec)
	}
	if c.ICE.UDPPortMax != 0 && c.ICE.UDPPortMin > c.ICE.UDPPortMax {
		return ErrBadPortRange
	}
	return nil
}
