package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации сервиса.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Connectors  ConnectorsConfig  `mapstructure:"connectors"`
	Commands    CommandsConfig    `mapstructure:"commands"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL — режим без БД (in-memory).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и Cache). Пустой Addr — in-memory кэш.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу для проверки JWT.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// EngineConfig — настройки исполнения действий.
type EngineConfig struct {
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	// StrictApprovals: неизвестные имена в approvedActions дают неуспешный результат вместо пропуска
	StrictApprovals bool `mapstructure:"strict_approvals"`

	// Настройки Circuit Breaker для внешних API
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`

	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`

	// Динамические пороги апрува: action -> {risk_field, threshold}
	ApprovalThresholds map[string]ThresholdConfig `mapstructure:"approval_thresholds"`
}

type ThresholdConfig struct {
	RiskField string  `mapstructure:"risk_field"`
	Threshold float64 `mapstructure:"threshold"`
}

// AuditConfig — буферизация и пороги здоровья аудита.
type AuditConfig struct {
	BufferSize           int           `mapstructure:"buffer_size"`
	BatchSize            int           `mapstructure:"batch_size"`
	FlushInterval        time.Duration `mapstructure:"flush_interval"`
	UrgentFlushTimeout   time.Duration `mapstructure:"urgent_flush_timeout"`
	WarningErrorRate     float64       `mapstructure:"warning_error_rate"`
	CriticalErrorRate    float64       `mapstructure:"critical_error_rate"`
	CriticalEventsLimit  int           `mapstructure:"critical_events_limit"`
	DefaultRetentionDays int           `mapstructure:"default_retention_days"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// DetectorConfig — правила keyword-детектора. Пустой список — встроенные правила.
type DetectorConfig struct {
	Rules []DetectorRule `mapstructure:"rules"`
}

type DetectorRule struct {
	Action      string            `mapstructure:"action"`
	Kind        string            `mapstructure:"kind"`
	Keywords    []string          `mapstructure:"keywords"`
	Description string            `mapstructure:"description"`
	Parameters  map[string]any    `mapstructure:"parameters"`
	Captures    map[string]string `mapstructure:"captures"` // param -> regexp с одной группой
	Numeric     []string          `mapstructure:"numeric"`  // захваченные параметры, приводимые к числу
}

// PermissionsConfig — начальное назначение ролей при старте (user -> role).
type PermissionsConfig struct {
	Bootstrap map[string]string `mapstructure:"bootstrap"`
}

type ConnectorsConfig struct {
	PersonaURL     string        `mapstructure:"persona_url"`
	PersonaTTL     time.Duration `mapstructure:"persona_ttl"`
	ModelURL       string        `mapstructure:"model_url"`
	ModelTimeout   time.Duration `mapstructure:"model_timeout"`
	GRPCAddr       string        `mapstructure:"grpc_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type CommandsConfig struct {
	ShellAllowList  []string      `mapstructure:"shell_allow_list"`
	ShellTimeout    time.Duration `mapstructure:"shell_timeout"`
	BackupDir       string        `mapstructure:"backup_dir"`
	CacheCategories []string      `mapstructure:"cache_categories"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.ExecutionTimeout <= 0 {
		return fmt.Errorf("config: engine.execution_timeout must be positive")
	}
	if c.Audit.FlushInterval <= 0 {
		return fmt.Errorf("config: audit.flush_interval must be positive")
	}
	if c.Audit.WarningErrorRate > c.Audit.CriticalErrorRate {
		return fmt.Errorf("config: audit.warning_error_rate must not exceed critical_error_rate")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.execution_timeout", 30*time.Second)
	v.SetDefault("engine.strict_approvals", false)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_failures", 5)
	v.SetDefault("engine.rate_limit", 50)
	v.SetDefault("engine.rate_burst", 10)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.attempt_timeout", 10*time.Second)

	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 5*time.Second)
	v.SetDefault("audit.urgent_flush_timeout", 3*time.Second)
	v.SetDefault("audit.warning_error_rate", 0.05)
	v.SetDefault("audit.critical_error_rate", 0.2)
	v.SetDefault("audit.critical_events_limit", 5)
	v.SetDefault("audit.default_retention_days", 90)

	v.SetDefault("connectors.persona_ttl", 15*time.Minute)
	v.SetDefault("connectors.model_timeout", 60*time.Second)
	v.SetDefault("connectors.request_timeout", 15*time.Second)

	v.SetDefault("commands.shell_allow_list", []string{"uptime", "df", "free", "hostname", "date", "whoami"})
	v.SetDefault("commands.shell_timeout", 10*time.Second)
	v.SetDefault("commands.backup_dir", "./backups")
	v.SetDefault("commands.cache_categories", []string{"persona", "dataset", "config"})
}

// loadKeyResource — ключ из ENV имеет приоритет над файлом
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
