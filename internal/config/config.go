package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"castle_chat/internal/chat"
)

type (
	Config struct {
		Relay     RelayConfig     `mapstructure:"relay"`
		Redis     RedisConfig     `mapstructure:"redis"`
		Mongo     MongoConfig     `mapstructure:"mongo"`
		Postgres  PostgresConfig  `mapstructure:"postgres"`
		Storage   StorageConfig   `mapstructure:"storage"`
		Directory DirectoryConfig `mapstructure:"directory"`
		Chat      ChatConfig      `mapstructure:"chat"`
		Log       LogConfig       `mapstructure:"log"`
	}

	RelayConfig struct {
		Addr       string        `mapstructure:"addr"`
		PublicURL  string        `mapstructure:"public_url"`
		ChannelTTL time.Duration `mapstructure:"channel_ttl"`
	}

	RedisConfig struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}

	MongoConfig struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	}

	PostgresConfig struct {
		URL string `mapstructure:"url"`
	}

	StorageConfig struct {
		// Backend is one of memory, redis, mongo, postgres.
		Backend   string        `mapstructure:"backend"`
		Namespace string        `mapstructure:"namespace"`
		TTL       time.Duration `mapstructure:"ttl"`
	}

	DirectoryConfig struct {
		// SigningKey is the base64 ed25519 seed used to issue certificates.
		SigningKey string `mapstructure:"signing_key"`
	}

	ChatConfig struct {
		Ephemeral              bool          `mapstructure:"ephemeral"`
		InlineValues           bool          `mapstructure:"inline_values"`
		BeginChatDelay         time.Duration `mapstructure:"begin_chat_delay"`
		SelfDestructWait       time.Duration `mapstructure:"self_destruct_wait"`
		SelfDestructSettle     time.Duration `mapstructure:"self_destruct_settle"`
		SelfDestructPause      time.Duration `mapstructure:"self_destruct_pause"`
		SelfDestructCloseGrace time.Duration `mapstructure:"self_destruct_close_grace"`
		MessageExpiryGrace     time.Duration `mapstructure:"message_expiry_grace"`
		TypingSettle           time.Duration `mapstructure:"typing_settle"`
		IntroMessage           string        `mapstructure:"intro_message"`
		DisconnectMessage      string        `mapstructure:"disconnect_message"`
		MaxFutureMessages      int           `mapstructure:"max_future_messages"`
	}

	LogConfig struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	}
)

var storageBackends = []string{"memory", "redis", "mongo", "postgres"}

// Load reads castle.yaml (if any), CASTLE_* environment variables and the
// flags registered with RegisterFlags, in increasing priority.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetConfigName("castle")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.castle")

	v.AutomaticEnv()
	v.SetEnvPrefix("CASTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.addr", "localhost:9090")
	v.SetDefault("relay.public_url", "http://localhost:9090")
	v.SetDefault("relay.channel_ttl", "24h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "castle")

	v.SetDefault("postgres.url", "postgres://localhost:5432/castle?sslmode=disable")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.namespace", "castle")
	v.SetDefault("storage.ttl", "0s")

	v.SetDefault("directory.signing_key", "")

	d := chat.DefaultOptions()
	v.SetDefault("chat.ephemeral", d.Ephemeral)
	v.SetDefault("chat.inline_values", d.InlineValues)
	v.SetDefault("chat.begin_chat_delay", d.BeginChatDelay)
	v.SetDefault("chat.self_destruct_wait", d.SelfDestructWait)
	v.SetDefault("chat.self_destruct_settle", d.SelfDestructSettle)
	v.SetDefault("chat.self_destruct_pause", d.SelfDestructPause)
	v.SetDefault("chat.self_destruct_close_grace", d.SelfDestructCloseGrace)
	v.SetDefault("chat.message_expiry_grace", d.MessageExpiryGrace)
	v.SetDefault("chat.typing_settle", d.TypingSettle)
	v.SetDefault("chat.intro_message", d.IntroMessage)
	v.SetDefault("chat.disconnect_message", d.DisconnectMessage)
	v.SetDefault("chat.max_future_messages", d.MaxFutureMessages)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// RegisterFlags adds the command line overrides to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to config file")
	flags.String("relay", "", "Relay address (server) or base URL (client)")
	flags.String("storage", "", "Storage backend: "+strings.Join(storageBackends, ", "))
	flags.String("log-level", "", "Log level")
	flags.Bool("dev", false, "Development logging")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	binds := map[string]string{
		"storage.backend": "storage",
		"log.level":       "log-level",
		"log.development": "dev",
	}
	for key, name := range binds {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	// --relay is a listen address for the server and a URL for the client
	if f := flags.Lookup("relay"); f != nil && f.Changed {
		relay := f.Value.String()
		if strings.Contains(relay, "://") {
			v.Set("relay.public_url", relay)
		} else {
			v.Set("relay.addr", relay)
		}
	}

	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
	}
	return nil
}

func (c *Config) validate() error {
	found := false
	for _, b := range storageBackends {
		if c.Storage.Backend == b {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Chat.MaxFutureMessages <= 0 {
		return fmt.Errorf("config: chat.max_future_messages must be positive")
	}
	if c.Relay.ChannelTTL <= 0 {
		return fmt.Errorf("config: relay.channel_ttl must be positive")
	}
	return nil
}

// Options converts the chat section into chat.Options.
func (c ChatConfig) Options() chat.Options {
	opts := chat.DefaultOptions()
	opts.Ephemeral = c.Ephemeral
	opts.InlineValues = c.InlineValues
	opts.BeginChatDelay = c.BeginChatDelay
	opts.SelfDestructWait = c.SelfDestructWait
	opts.SelfDestructSettle = c.SelfDestructSettle
	opts.SelfDestructPause = c.SelfDestructPause
	opts.SelfDestructCloseGrace = c.SelfDestructCloseGrace
	opts.MessageExpiryGrace = c.MessageExpiryGrace
	opts.TypingSettle = c.TypingSettle
	opts.IntroMessage = c.IntroMessage
	opts.DisconnectMessage = c.DisconnectMessage
	opts.MaxFutureMessages = c.MaxFutureMessages
	return opts
}

// SigningKeyBytes decodes the directory key. A missing key is not an error; the
// caller decides whether to generate one.
func (d DirectoryConfig) SigningKeyBytes() (ed25519.PrivateKey, error) {
	if d.SigningKey == "" {
		return nil, nil
	}
	seed, err := base64.StdEncoding.DecodeString(d.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("config: directory.signing_key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("config: directory.signing_key must be a %d byte seed", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
