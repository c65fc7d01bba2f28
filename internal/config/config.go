package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config é a configuração do processo da plataforma (cmd/api).
type Config struct {
	App         AppConfig
	DB          DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	Storage     StorageConfig
	RateLimit   RateLimitConfig
	IPRateLimit IPRateLimitConfig
	Proxy       ProxyConfig
	Monitor     MonitorConfig
	Breaker     BreakerConfig
	Retrier     RetrierConfig
}

type AppConfig struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
}

type StorageConfig struct {
	Driver  string `env:"DB_DRIVER" envDefault:"sqlite"`
	DataDir string `env:"DATA_DIR" envDefault:"/app/data"`
}

type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"postgres"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN retorna a string de conexão em formato aceito pelo pgxpool.
func (cfg DatabaseConfig) DSN() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
}

type RateLimitConfig struct {
	Enabled       bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Requests      int    `env:"RATE_LIMIT_REQUESTS" envDefault:"300"`
	WindowSeconds int    `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	Prefix        string `env:"RATE_LIMIT_PREFIX" envDefault:"ratelimit:api"`
}

type IPRateLimitConfig struct {
	Enabled        bool `env:"IP_RATE_LIMIT_ENABLED" envDefault:"true"`
	Requests       int  `env:"IP_RATE_LIMIT_REQUESTS" envDefault:"100"`
	WindowSeconds  int  `env:"IP_RATE_LIMIT_WINDOW_SECONDS" envDefault:"900"`
	SkipPrivateIPs bool `env:"IP_RATE_LIMIT_SKIP_PRIVATE_IPS" envDefault:"true"`
}

type JWTConfig struct {
	Secret   string `env:"JWT_SECRET,required"`
	ExpHours int    `env:"JWT_EXP_HOURS" envDefault:"24"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"debug"`
}

// ProxyConfig define o destino nativo e as portas alternativas testadas
// pelo proxy resiliente.
type ProxyConfig struct {
	NativeURL     string `env:"PROXY_NATIVE_URL" envDefault:""`
	NativeToken   string `env:"PROXY_NATIVE_TOKEN" envDefault:""`
	FallbackPorts string `env:"PROXY_FALLBACK_PORTS" envDefault:"3000,3001"`
	AllowLocal    bool   `env:"PROXY_ALLOW_LOCAL" envDefault:"false"`
}

// FallbackPortList separa a lista de portas configurada por vírgula.
func (cfg ProxyConfig) FallbackPortList() []string {
	parts := strings.Split(cfg.FallbackPorts, ",")
	ports := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ports = append(ports, p)
		}
	}
	return ports
}

type MonitorConfig struct {
	IntervalSeconds int `env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"30"`
}

func (cfg MonitorConfig) Interval() time.Duration {
	return time.Duration(cfg.IntervalSeconds) * time.Second
}

type BreakerConfig struct {
	Threshold      int `env:"BREAKER_THRESHOLD" envDefault:"5"`
	TimeoutSeconds int `env:"BREAKER_TIMEOUT_SECONDS" envDefault:"60"`
}

func (cfg BreakerConfig) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

type RetrierConfig struct {
	SweepSeconds int `env:"RETRIER_SWEEP_SECONDS" envDefault:"15"`
	MaxAttempts  int `env:"RETRIER_MAX_ATTEMPTS" envDefault:"6"`
}

func (cfg RetrierConfig) SweepInterval() time.Duration {
	return time.Duration(cfg.SweepSeconds) * time.Second
}

// Load carrega as configurações da plataforma.
func Load() Config {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: não foi possível carregar variáveis: %v", err)
	}
	return cfg
}

// GatewayConfig é a configuração do processo do gateway (cmd/gateway).
type GatewayConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"3000"`

	InstanceID    string `env:"INSTANCE_ID,required"`
	InstanceToken string `env:"INSTANCE_TOKEN,required"`
	PlatformURL   string `env:"PLATFORM_URL" envDefault:"http://localhost:8080"`

	StorageDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DataDir       string `env:"DATA_DIR" envDefault:"/app/data/sessions"`
	PGConnString  string `env:"DATABASE_URL"`

	SessionKeyEnc string `env:"SESSION_KEY_ENC" envDefault:"conectazap-session-key-change-in-production"`

	StabilizationSeconds int `env:"STABILIZATION_SECONDS" envDefault:"10"`
	HeartbeatSeconds     int `env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"30"`

	RateLimitRequests      int `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`
}

func (cfg GatewayConfig) Stabilization() time.Duration {
	return time.Duration(cfg.StabilizationSeconds) * time.Second
}

func (cfg GatewayConfig) HeartbeatInterval() time.Duration {
	return time.Duration(cfg.HeartbeatSeconds) * time.Second
}

func (cfg GatewayConfig) RateLimitWindow() time.Duration {
	return time.Duration(cfg.RateLimitWindowSeconds) * time.Second
}

// LoadGateway carrega as configurações do gateway.
func LoadGateway() GatewayConfig {
	cfg := GatewayConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: não foi possível carregar variáveis: %v", err)
	}
	return cfg
}
