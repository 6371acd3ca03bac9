package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"cariusb-relay/internal/domain"
)

const defaultRequestTimeoutMS = 40000

// Config centraliza la configuración del relay.
type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	WebhookURL        string `env:"N8N_WEBHOOK_URL"`
	WebhookURLBicycle string `env:"N8N_WEBHOOK_URL_BICYCLE"`
	WebhookURLAuto    string `env:"N8N_WEBHOOK_URL_AUTO"`
	WebhookURLMoto    string `env:"N8N_WEBHOOK_URL_MOTO"`
	WebhookURLTech    string `env:"N8N_WEBHOOK_URL_TECH"`
	WebhookSecret     string `env:"N8N_WEBHOOK_SECRET"`
	// WebhookSecretParam es un parámetro de SSM; solo se usa si WebhookSecret esta vacio.
	WebhookSecretParam string `env:"N8N_WEBHOOK_SECRET_PARAM"`

	RequestTimeoutMS   int `env:"REQUEST_TIMEOUT_MS" envDefault:"40000"`
	StreamTokenDelayMS int `env:"STREAM_TOKEN_DELAY_MS" envDefault:"10"`

	SupabaseJWTSecret string `env:"SUPABASE_JWT_SECRET"`
	DatabaseURL       string `env:"DATABASE_URL"`
	UsageEnforced     bool   `env:"USAGE_ENFORCED" envDefault:"false"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"20"`
}

// LoadConfig carga la configuración desde variables de entorno. La falta de
// webhooks no impide arrancar: se reporta como ENV_MISSING por request.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RequestTimeout aplica el default cuando el valor no es positivo.
func (c *Config) RequestTimeout() time.Duration {
	ms := c.RequestTimeoutMS
	if ms <= 0 {
		ms = defaultRequestTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Config) StreamTokenDelay() time.Duration {
	if c.StreamTokenDelayMS < 0 {
		return 0
	}
	return time.Duration(c.StreamTokenDelayMS) * time.Millisecond
}

// WebhookURLs devuelve las URLs especificas por modo que estan configuradas.
func (c *Config) WebhookURLs() map[domain.DomainMode]string {
	urls := make(map[domain.DomainMode]string, len(domain.DomainModes))
	for mode, raw := range map[domain.DomainMode]string{
		domain.DomainModeBicycle: c.WebhookURLBicycle,
		domain.DomainModeAuto:    c.WebhookURLAuto,
		domain.DomainModeMoto:    c.WebhookURLMoto,
		domain.DomainModeTech:    c.WebhookURLTech,
	} {
		if v := strings.TrimSpace(raw); v != "" {
			urls[mode] = v
		}
	}
	return urls
}

// Warnings lista problemas de configuración que no impiden arrancar.
func (c *Config) Warnings() []string {
	var out []string
	if strings.TrimSpace(c.WebhookURL) == "" && len(c.WebhookURLs()) == 0 {
		out = append(out, "no webhook url configured")
	}
	if strings.TrimSpace(c.WebhookSecret) == "" && strings.TrimSpace(c.WebhookSecretParam) == "" {
		out = append(out, "webhook secret not configured")
	}
	if c.SupabaseJWTSecret == "" {
		out = append(out, "supabase jwt secret not configured; bearer tokens are ignored")
	}
	if c.UsageEnforced && c.DatabaseURL == "" {
		out = append(out, "usage enforcement requested without DATABASE_URL")
	}
	return out
}

// ClientConfig configura el cliente de chat de linea de comandos.
type ClientConfig struct {
	RelayURL    string `env:"RELAY_URL" envDefault:"http://localhost:8080/api/chat"`
	AccessToken string `env:"RELAY_ACCESS_TOKEN"`
	Plan        string `env:"CHAT_PLAN" envDefault:"guest"`
	DomainMode  string `env:"CHAT_DOMAIN_MODE" envDefault:"tech"`
	Lang        string `env:"CHAT_LANG" envDefault:"es"`
	Deepsearch  string `env:"CHAT_DEEPSEARCH" envDefault:"auto"`
	StorePath   string `env:"CHAT_STORE_PATH" envDefault:"conversations.json"`
	TimeoutMS   int    `env:"CHAT_TIMEOUT_MS" envDefault:"40000"`
	GuestID     string `env:"CHAT_GUEST_ID"`
}

func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) Timeout() time.Duration {
	ms := c.TimeoutMS
	if ms <= 0 {
		ms = defaultRequestTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}
