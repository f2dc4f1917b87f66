// Package config предоставялет структуры и функции для парсинга, проверки и загрузки конфига.
//
// Конфиг собирается один раз при старте процесса и дальше не изменяется:
// движок жизненного цикла и фабрика клиентов серверов ключей получают его готовым.
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

// Допустимые значения Lease.Backend.
const (
	LeaseBackendRedis  = "redis"
	LeaseBackendMemory = "memory"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                RabbitMQ          `yaml:"rabbitmq"`
	SMTP                    SMTP              `yaml:"smtp"`
	Servers                 map[string]Server `yaml:"servers"`
	Upstream                Upstream          `yaml:"upstream"`
	Lifecycle               Lifecycle         `yaml:"lifecycle"`
	Sweep                   Sweep             `yaml:"sweep"`
	Lease                   Lease             `yaml:"lease"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"30s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	RateLimit   float64       `yaml:"rate_limit" env-default:"5"`
	RateBurst   int           `yaml:"rate_burst" env-default:"10"`
}

// RedisConnection структура для настройки подключения к redis.
// Пустой адрес отключает кэш; lease.backend в этом случае должен быть memory.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
	CacheTTL     time.Duration `yaml:"cache_ttl" env-default:"1h"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env:"JWT_EXPIRE" env-default:"24h"`
}

// RabbitMQ настройки публикации событий. Пустой URL отключает события.
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
	Exchange   string        `yaml:"exchange" env-default:"subscriptions"`
}

// Допустимые значения SMTP.Security.
const (
	SMTPStartTLS = "starttls"
	SMTPTLS      = "tls"
	SMTPNone     = "none"
)

// SMTP настройки отправки писем уведомителем.
// From пустой - письма уходят от имени User. Security none допустим только
// для локального релея без авторизации.
type SMTP struct {
	Host     string        `yaml:"host" env:"SMTP_HOST"`
	Port     string        `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string        `yaml:"user" env:"SMTP_USER"`
	Pass     string        `yaml:"pass" env:"SMTP_PASS"`
	From     string        `yaml:"from" env:"SMTP_FROM"`
	Security string        `yaml:"security" env:"SMTP_SECURITY" env-default:"starttls"`
	Timeout  time.Duration `yaml:"timeout" env-default:"10s"`
}

// Server описывает один сервер ключей.
//
// AccessURL — адрес управления в формате Outline, допускается токен в
// параметре token. Доверие задаётся только закреплённым сертификатом
// (CertFile и/или CertSHA256), системные корневые сертификаты не используются.
// PinInsteadOfHostname заменяет проверку имени хоста точным сравнением
// предъявленного сертификата с закреплённым и действует только для этого сервера.
type Server struct {
	AccessURL            string `yaml:"access_url"`
	Token                string `yaml:"token"`
	CertFile             string `yaml:"cert_file"`
	CertSHA256           string `yaml:"cert_sha256"`
	PinInsteadOfHostname bool   `yaml:"pin_instead_of_hostname"`
}

// Upstream общие настройки обращения к серверам ключей.
type Upstream struct {
	Timeout              time.Duration `yaml:"timeout" env-default:"10s"`
	CreateAttempts       int           `yaml:"create_attempts" env-default:"3"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" env-default:"500ms"`
}

// Lifecycle параметры политики подписок.
type Lifecycle struct {
	InactivityThreshold time.Duration `yaml:"inactivity_threshold" env-default:"4320h"`
	UpgradeDuration     time.Duration `yaml:"upgrade_duration" env-default:"720h"`
	BaseHorizon         time.Duration `yaml:"base_horizon" env-default:"87600h"`
	BaseQuotaBytes      int64         `yaml:"base_quota_bytes" env-default:"10737418240"`
	MaxPlan             int           `yaml:"max_plan" env-default:"1"`
}

// Sweep параметры фоновой сверки.
type Sweep struct {
	Interval      time.Duration `yaml:"interval" env:"SWEEP_INTERVAL" env-default:"24h"`
	Workers       int           `yaml:"workers" env-default:"4"`
	BatchSize     int           `yaml:"batch_size" env-default:"200"`
	RecordTimeout time.Duration `yaml:"record_timeout" env-default:"1m"`

	// MetricsAddress адрес /metrics процесса сверки. Пустой отключает.
	MetricsAddress string `yaml:"metrics_address" env:"SWEEP_METRICS_ADDRESS" env-default:":9091"`
}

// Lease параметры аренды на пользователя.
type Lease struct {
	Backend string        `yaml:"backend" env:"LEASE_BACKEND" env-default:"redis"`
	TTL     time.Duration `yaml:"ttl" env-default:"2m"`
	Wait    time.Duration `yaml:"wait" env-default:"5s"`
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH.
// Любая ошибка чтения или проверки завершает процесс.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает YAML-файл, применяет переменные окружения и проверяет результат.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет конфиг. Все ошибки оборачивают errs.ErrConfiguration.
func (c *Config) Validate() error {
	var problems []string
	if c.StorageConnectionString == "" {
		problems = append(problems, "storage_connection_string is required")
	}
	if len(c.Servers) == 0 {
		problems = append(problems, "at least one server must be configured")
	}
	for _, id := range c.ServerIDs() {
		if id == "" {
			problems = append(problems, "server id must not be empty")
			continue
		}
		if err := c.Servers[id].validate(); err != nil {
			problems = append(problems, fmt.Sprintf("server %q: %s", id, err))
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"upstream.timeout", c.Upstream.Timeout},
		{"lifecycle.inactivity_threshold", c.Lifecycle.InactivityThreshold},
		{"lifecycle.upgrade_duration", c.Lifecycle.UpgradeDuration},
		{"lifecycle.base_horizon", c.Lifecycle.BaseHorizon},
		{"sweep.interval", c.Sweep.Interval},
		{"sweep.record_timeout", c.Sweep.RecordTimeout},
		{"lease.ttl", c.Lease.TTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			problems = append(problems, d.name+" must be positive")
		}
	}
	if c.Upstream.CreateAttempts < 1 {
		problems = append(problems, "upstream.create_attempts must be at least 1")
	}
	if c.Lifecycle.MaxPlan < 1 {
		problems = append(problems, "lifecycle.max_plan must be at least 1")
	}
	if c.Lifecycle.BaseQuotaBytes < 0 {
		problems = append(problems, "lifecycle.base_quota_bytes must not be negative")
	}
	if c.Sweep.Workers < 1 || c.Sweep.BatchSize < 1 {
		problems = append(problems, "sweep.workers and sweep.batch_size must be at least 1")
	}
	if c.Lease.TTL > 0 && c.Lease.TTL <= c.Upstream.Timeout*time.Duration(2*max(c.Upstream.CreateAttempts, 1)) {
		problems = append(problems, "lease.ttl must exceed the worst-case upstream time")
	}
	// одна сверка может пройти восстановление, продление и удаление под одной арендой
	if c.Lease.TTL > 0 && c.Sweep.RecordTimeout >= c.Lease.TTL {
		problems = append(problems, "sweep.record_timeout must be shorter than lease.ttl")
	}

	switch c.SMTP.Security {
	case SMTPStartTLS, SMTPTLS, SMTPNone:
	default:
		problems = append(problems, fmt.Sprintf("unknown smtp.security %q", c.SMTP.Security))
	}

	switch c.Lease.Backend {
	case LeaseBackendMemory:
	case LeaseBackendRedis:
		if c.AddressRedis == "" {
			problems = append(problems, "lease.backend redis requires redis_connection.addressredis")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown lease.backend %q", c.Lease.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errs.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func (s Server) validate() error {
	u, err := url.Parse(s.AccessURL)
	if err != nil {
		return fmt.Errorf("invalid access_url: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("access_url must be an https url with a host")
	}
	if s.CertFile == "" && s.CertSHA256 == "" {
		return fmt.Errorf("cert_file or cert_sha256 is required")
	}
	// по одному отпечатку цепочку не проверить, это всегда замена проверки имени
	if s.CertFile == "" && !s.PinInsteadOfHostname {
		return fmt.Errorf("cert_sha256 without cert_file requires pin_instead_of_hostname")
	}
	return nil
}

// SweepInProcess сообщает, что сверка работает внутри provisioner.
// Аренда в памяти видна только своему процессу.
func (c *Config) SweepInProcess() bool {
	return c.Lease.Backend == LeaseBackendMemory
}

// ValidateStandaloneSweep проверяет, что отдельный процесс сверки делит
// аренду с provisioner.
func (c *Config) ValidateStandaloneSweep() error {
	if c.SweepInProcess() {
		return fmt.Errorf("%w: lease.backend memory is not shared between processes, "+
			"the sweep runs inside the provisioner", errs.ErrConfiguration)
	}
	return nil
}

// ServerIDs возвращает идентификаторы серверов в лексикографическом порядке.
func (c *Config) ServerIDs() []string {
	ids := make([]string, 0, len(c.Servers))
	for id := range c.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// String печатает конфиг без секретов.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"Servers: %s\n"+
			"Lease: %s (ttl %s)\n"+
			"Sweep: every %s, %d workers\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		strings.Join(c.ServerIDs(), ","),
		c.Lease.Backend,
		c.Lease.TTL,
		c.Sweep.Interval,
		c.Sweep.Workers,
	)
}
