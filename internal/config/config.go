package config

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sethvargo/go-envconfig"
)

// Storage drivers accepted by STORAGE_DRIVER
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

type Config struct {
	API      APIConfig      `env:",prefix=API_"`
	Realtime RealtimeConfig `env:",prefix=REALTIME_"`
	Storage  StorageConfig  `env:",prefix=STORAGE_"`
	Postgres PostgresConfig `env:",prefix=POSTGRES_"`
	Redis    RedisConfig    `env:",prefix=REDIS_"`
	Sync     SyncConfig     `env:",prefix=SYNC_"`
	Debug    DebugConfig    `env:",prefix=DEBUG_"`
	Login    LoginConfig    `env:",prefix=LOGIN_"`
	Env      string         `env:"ENV,default=development"`
}

type APIConfig struct {
	BaseURL string   `env:"BASE_URL,default=http://localhost:8080/api"`
	Timeout Duration `env:"TIMEOUT,default=15s"`
}

type RealtimeConfig struct {
	URL                 string   `env:"URL,default=ws://localhost:8080/ws"`
	HandshakeTimeout    Duration `env:"HANDSHAKE_TIMEOUT,default=10s"`
	PingInterval        Duration `env:"PING_INTERVAL,default=25s"`
	WriteTimeout        Duration `env:"WRITE_TIMEOUT,default=10s"`
	ReconnectInitial    Duration `env:"RECONNECT_INITIAL,default=500ms"`
	ReconnectMax        Duration `env:"RECONNECT_MAX,default=30s"`
	ReconnectMaxElapsed Duration `env:"RECONNECT_MAX_ELAPSED,default=0s"`
	InboxSize           int      `env:"INBOX_SIZE,default=256"`
}

type StorageConfig struct {
	Driver    string `env:"DRIVER,default=file"`
	Namespace string `env:"NAMESPACE,default=chatsync"`
	FilePath  string `env:"FILE_PATH,default=.chatsync/store.bin"`
	Profile   string `env:"PROFILE,default=default"`
}

type PostgresConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=chatsync"`
	Password string `env:"PASSWORD,default=chatsync_password"`
	DBName   string `env:"DB,default=chatsync_db"`
	SSLMode  string `env:"SSLMODE,default=disable"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

type SyncConfig struct {
	EchoTimeout          Duration `env:"ECHO_TIMEOUT,default=15s"`
	JanitorInterval      Duration `env:"JANITOR_INTERVAL,default=5s"`
	FetchTimeout         Duration `env:"FETCH_TIMEOUT,default=15s"`
	StrictUserValidation bool     `env:"STRICT_USER_VALIDATION,default=true"`
	MessagePageSize      int      `env:"MESSAGE_PAGE_SIZE,default=50"`
}

type DebugConfig struct {
	Enabled bool   `env:"ENABLED,default=false"`
	Host    string `env:"HOST,default=127.0.0.1"`
	Port    string `env:"PORT,default=9464"`
}

// LoginConfig holds credentials used by the headless shell when no session is persisted
type LoginConfig struct {
	Phone    string `env:"PHONE"`
	Password string `env:"PASSWORD"`
	OTP      string `env:"OTP"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// URL returns the PostgreSQL connection URL used by migrations
func (p PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%s", p.Host, p.Port),
		Path:     p.DBName,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Address returns the debug HTTP listen address
func (d DebugConfig) Address() string {
	return fmt.Sprintf("%s:%s", d.Host, d.Port)
}

// HasCredentials reports whether login credentials were supplied
func (l LoginConfig) HasCredentials() bool {
	return l.Phone != "" && l.Password != ""
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var config Config

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &config,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageFile, StorageRedis, StoragePostgres:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of memory, file, redis, postgres; got %q", c.Storage.Driver)
	}

	if err := checkURL("API_BASE_URL", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("REALTIME_URL", c.Realtime.URL, "ws", "wss"); err != nil {
		return err
	}

	if c.Realtime.InboxSize <= 0 {
		return fmt.Errorf("REALTIME_INBOX_SIZE must be positive")
	}
	if c.Realtime.PingInterval.Duration <= 0 {
		return fmt.Errorf("REALTIME_PING_INTERVAL must be positive")
	}
	if c.Sync.EchoTimeout.Duration <= 0 {
		return fmt.Errorf("SYNC_ECHO_TIMEOUT must be positive")
	}
	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v with a host, got %q", name, schemes, raw)
}

// LoadWithDefaults loads configuration with default context
func LoadWithDefaults() (*Config, error) {
	return Load(context.Background())
}
