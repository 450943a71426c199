package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Session struct {
		Duration    time.Duration `validate:"required,gt=0"`
		WarningLead time.Duration `validate:"required,gt=0,ltfield=Duration"`
		SigningKey  string        `validate:"required"`
		Issuer      string        `validate:"required"`
	}
	Audit struct {
		HMACKey        string        `validate:"required"`
		BufferCapacity int           `validate:"required,gt=0"`
		FlushInterval  time.Duration `validate:"required,gt=0"`
		HighWater      int           `validate:"gte=0"`
		Sink           string        `validate:"required,oneof=memory postgres kafka"`
		PostgresDSN    string
		KafkaBrokers   []string
		KafkaTopic     string
	}
	Redis struct {
		URL          string
		PoolSize     int
		MinIdleConns int
		DialTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
	}
	SweepSchedule string `validate:"required"`
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("ENV", "prod")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = os.Getenv("LOG_FILE")

	c.Session.Duration = getdur("SESSION_DURATION", 20*time.Minute)
	c.Session.WarningLead = getdur("SESSION_WARNING_LEAD", 2*time.Minute)
	c.Session.SigningKey = getenv("SESSION_SIGNING_KEY", devFallback(c.Env))
	c.Session.Issuer = getenv("SESSION_ISSUER", "carecore")

	c.Audit.HMACKey = getenv("AUDIT_HMAC_KEY", devFallback(c.Env))
	c.Audit.BufferCapacity = getint("AUDIT_BUFFER_CAPACITY", 100)
	c.Audit.FlushInterval = getdur("AUDIT_FLUSH_INTERVAL", 30*time.Second)
	c.Audit.HighWater = getint("AUDIT_HIGH_WATER", 0)
	c.Audit.Sink = strings.ToLower(getenv("AUDIT_SINK", "memory"))
	c.Audit.PostgresDSN = os.Getenv("AUDIT_POSTGRES_DSN")
	if brokers := os.Getenv("AUDIT_KAFKA_BROKERS"); brokers != "" {
		c.Audit.KafkaBrokers = strings.Split(brokers, ",")
	}
	c.Audit.KafkaTopic = getenv("AUDIT_KAFKA_TOPIC", "carecore.audit")

	c.Redis.URL = os.Getenv("REDIS_URL")
	c.Redis.PoolSize = getint("REDIS_POOL_SIZE", 10)
	c.Redis.MinIdleConns = getint("REDIS_MIN_IDLE_CONNS", 2)
	c.Redis.DialTimeout = getdur("REDIS_DIAL_TIMEOUT", 5*time.Second)
	c.Redis.ReadTimeout = getdur("REDIS_READ_TIMEOUT", 3*time.Second)
	c.Redis.WriteTimeout = getdur("REDIS_WRITE_TIMEOUT", 3*time.Second)

	c.SweepSchedule = getenv("SESSION_SWEEP_SCHEDULE", "@every 1m")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// devFallback keeps local runs frictionless; prod must set real keys, which
// the validator enforces because the fallback is empty there.
func devFallback(env string) string {
	if env == "dev" {
		return "dev-only-key"
	}
	return ""
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
