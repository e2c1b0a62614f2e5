package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. NOTIFY_API_BASE_URL.
const EnvPrefix = "NOTIFY"

// Config holds all configuration for the daemon and the devserver
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	API       APIConfig       `mapstructure:"api"`
	Push      PushConfig      `mapstructure:"push"`
	Session   SessionConfig   `mapstructure:"session"`
	Poll      PollConfig      `mapstructure:"poll"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Toast     ToastConfig     `mapstructure:"toast"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DevServer DevServerConfig `mapstructure:"devserver"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PushConfig struct {
	URL        string        `mapstructure:"url"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	MinBackoff time.Duration `mapstructure:"min_backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// SessionConfig identifies the signed-in user. Either a token or login
// credentials must be present.
type SessionConfig struct {
	Token    string `mapstructure:"token"`
	UserID   string `mapstructure:"user_id"`
	Role     string `mapstructure:"role"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type PollConfig struct {
	InitInterval  time.Duration `mapstructure:"init_interval"`
	PanelInterval time.Duration `mapstructure:"panel_interval"`
}

type DedupConfig struct {
	Window   time.Duration `mapstructure:"window"`
	Backend  string        `mapstructure:"backend"` // "memory", "redis"
	RedisURL string        `mapstructure:"redis_url"`
}

type ToastConfig struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Sound bool          `mapstructure:"sound"`
}

type BridgeConfig struct {
	Addr           string   `mapstructure:"addr"`
	Token          string   `mapstructure:"token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads an optional .env file, the config file at path (if any) and
// NOTIFY_* environment overrides.
func Load(path string) (*Config, *viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Watch calls onChange with the re-read configuration whenever the config
// file changes. Invalid edits are reported through onError and ignored.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.Dedup.Backend = strings.ToLower(strings.TrimSpace(cfg.Dedup.Backend))
	return &cfg, nil
}

// Validate checks the daemon settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if strings.TrimSpace(c.Push.URL) == "" {
		return fmt.Errorf("push.url must not be empty")
	}
	if c.Push.MinBackoff <= 0 || c.Push.MaxBackoff < c.Push.MinBackoff {
		return fmt.Errorf("push.min_backoff must be > 0 and <= push.max_backoff")
	}
	if c.Session.Token == "" && (c.Session.Email == "" || c.Session.Password == "") {
		return fmt.Errorf("session.token or session.email and session.password must be set")
	}
	if c.Poll.InitInterval <= 0 || c.Poll.PanelInterval <= 0 {
		return fmt.Errorf("poll intervals must be > 0")
	}
	if c.Dedup.Window <= 0 {
		return fmt.Errorf("dedup.window must be > 0")
	}
	switch c.Dedup.Backend {
	case "memory":
	case "redis":
		if c.Dedup.RedisURL == "" {
			return fmt.Errorf("dedup.redis_url must be set when dedup.backend=redis")
		}
	default:
		return fmt.Errorf("dedup.backend must be one of: memory, redis")
	}
	if c.Toast.TTL <= 0 {
		return fmt.Errorf("toast.ttl must be > 0")
	}
	if isProdLike(c.AppEnv) && c.Bridge.Token == "" {
		return fmt.Errorf("in prod/release bridge.token must be set")
	}
	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "dev")

	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout", "10s")

	v.SetDefault("push.url", "ws://localhost:8080/ws")
	v.SetDefault("push.ping_period", "30s")
	v.SetDefault("push.min_backoff", "1s")
	v.SetDefault("push.max_backoff", "5s")

	v.SetDefault("session.token", "")
	v.SetDefault("session.user_id", "")
	v.SetDefault("session.role", "buyer")
	v.SetDefault("session.email", "")
	v.SetDefault("session.password", "")

	v.SetDefault("poll.init_interval", "30s")
	v.SetDefault("poll.panel_interval", "120s")

	v.SetDefault("dedup.window", "15s")
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.redis_url", "")

	v.SetDefault("toast.ttl", "8s")
	v.SetDefault("toast.sound", true)

	v.SetDefault("bridge.addr", "127.0.0.1:7070")
	v.SetDefault("bridge.token", "")
	v.SetDefault("bridge.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("devserver.addr", ":8080")
	v.SetDefault("devserver.database_url", "file:devserver.db?_pragma=foreign_keys(1)")
	v.SetDefault("devserver.jwt_secret", defaultJWTSecret)
	v.SetDefault("devserver.jwt_ttl", "24h")
	v.SetDefault("devserver.seed_password", defaultSeedPassword)
}
