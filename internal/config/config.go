package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	SiteName    string `env:"SITE_NAME" envDefault:"Auth Starter"`

	BcryptCost            int `env:"BCRYPT_COST" envDefault:"10"`
	SessionTTLHours       int `env:"SESSION_TTL_HOURS" envDefault:"168"`
	VerifyTokenTTLMinutes int `env:"VERIFY_TOKEN_TTL_MINUTES" envDefault:"60"`
	ResetTokenTTLMinutes  int `env:"RESET_TOKEN_TTL_MINUTES" envDefault:"60"`
	TokenSweepMinutes     int `env:"TOKEN_SWEEP_MINUTES" envDefault:"60"`

	RateLimitWindowMinutes int `env:"RATE_LIMIT_WINDOW_MINUTES" envDefault:"10"`
	RateLimitMax           int `env:"RATE_LIMIT_MAX" envDefault:"3"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
