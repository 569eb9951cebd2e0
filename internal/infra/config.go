package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации шлюза инструментов.
type Config struct {
	Admin     AdminConfig     `mapstructure:"admin"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	SIEM      SIEMConfig      `mapstructure:"siem"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// AdminConfig описывает служебный HTTP-сервер (health, metrics, reload политик).
type AdminConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL (политики и журнал событий).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и окна лимитов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: публичный ключ для проверки токенов агентов и операторов (RS256).
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// PolicyConfig: откуда брать набор политик.
type PolicyConfig struct {
	Source string `mapstructure:"source"` // default, file, postgres
	File   string `mapstructure:"file"`
	Watch  bool   `mapstructure:"watch"` // слушать канал обновлений в Redis
}

// RateLimitConfig: где хранить скользящие окна.
type RateLimitConfig struct {
	Backend   string        `mapstructure:"backend"` // memory, redis
	Retention time.Duration `mapstructure:"retention"`
}

// SIEMConfig: коннекторы мониторинга. Пустой endpoint отключает коннектор.
type SIEMConfig struct {
	Chronicle  ChronicleConfig  `mapstructure:"chronicle"`
	Splunk     SplunkConfig     `mapstructure:"splunk"`
	Elastic    ElasticConfig    `mapstructure:"elastic"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`

	EmitTimeout    time.Duration `mapstructure:"emit_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`

	// Настройки Circuit Breaker для каждого HTTP-коннектора
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

type ChronicleConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type SplunkConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	Host     string `mapstructure:"host"`
}

type ElasticConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// EngineConfig: поведение медиатора и буфер асинхронного журнала событий.
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
	RedactOutput       bool          `mapstructure:"redact_output"` // отдавать агенту результат с замаскированными PII
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV: SIEM_SPLUNK_TOKEN перекроет siem.splunk.token
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет: работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	return &cfg, nil
}

// bindLegacyEnv: короткие имена переменных, которыми SIEM-бэкенды настраивались исторически
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"siem.chronicle.endpoint": "CHRONICLE_ENDPOINT",
		"siem.splunk.endpoint":    "SPLUNK_HEC_ENDPOINT",
		"siem.splunk.token":       "SPLUNK_HEC_TOKEN",
		"siem.elastic.endpoint":   "ELASTIC_ENDPOINT",
		"siem.clickhouse.dsn":     "CLICKHOUSE_DSN",
		"database.url":            "DB_URL",
	}
	for key, env := range bindings {
		// первым идет «родное» имя viper, чтобы оно не терялось при явном BindEnv
		native := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, native, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admin.port", 9090)
	v.SetDefault("admin.read_timeout", 5*time.Second)
	v.SetDefault("admin.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("policy.source", "default")
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.retention", time.Minute)
	v.SetDefault("siem.splunk.host", "secure-mcp-server")
	v.SetDefault("siem.emit_timeout", 5*time.Second)
	v.SetDefault("siem.request_timeout", 3*time.Second)
	v.SetDefault("siem.rate_per_second", 100)
	v.SetDefault("siem.burst", 20)
	v.SetDefault("siem.retry_attempts", 3)
	v.SetDefault("siem.cb_max_requests", 3)
	v.SetDefault("siem.cb_interval", 5*time.Second)
	v.SetDefault("siem.cb_timeout", 30*time.Second)
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("engine.redact_output", false)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func (c *Config) validate() error {
	switch c.Policy.Source {
	case "default":
	case "file":
		if c.Policy.File == "" {
			return errors.New("policy.file is required for policy.source=file")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for policy.source=postgres")
		}
	default:
		return fmt.Errorf("unknown policy.source %q", c.Policy.Source)
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	return nil
}

// loadKeyResource: PEM прямо в ENV (Docker/K8s) или файл по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
