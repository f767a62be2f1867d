package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `env:"ENV" env-default:"local"`
	DatabaseURL string `env:"DATABASE_URL" env-required:"true"`
	HTTP        HTTPConfig
	Redis       RedisConfig
	Scoring     ScoringConfig
}

type HTTPConfig struct {
	Port           int           `env:"HTTP_PORT" env-default:"8084"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"30s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	AllowedOrigins string        `env:"HTTP_ALLOWED_ORIGINS" env-default:"*"`
}

// RedisConfig — конфигурация кэша матчей.
type RedisConfig struct {
	Enabled  bool          `env:"REDIS_ENABLE" env-default:"false"`
	Addr     string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" env-default:"0"`
	// MatchTTL — время жизни закэшированных матчей (по умолчанию 7 дней)
	MatchTTL time.Duration `env:"MATCH_CACHE_TTL" env-default:"168h"`
}

// ScoringConfig — конфигурация батч-скоринга.
type ScoringConfig struct {
	// Workers — количество воркеров для параллельного скоринга пар
	Workers int `env:"SCORING_WORKERS" env-default:"8"`
	// ChunkSize — размер чанка пар между проверками отмены контекста
	ChunkSize int `env:"SCORING_CHUNK_SIZE" env-default:"100"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("cannot read config from environment: " + err.Error())
	}
	return &cfg
}
