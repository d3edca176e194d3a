package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"paycore/internal/entity"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App      App      `env-prefix:"APP_"`
		Logger   Logger   `env-prefix:"LOGGER_"`
		Postgres Postgres `env-prefix:"DB_"`
		HTTP     HTTP     `env-prefix:"HTTP_"`
		Gateway  Gateway  `env-prefix:"GATEWAY_"`
		Outbox   Outbox   `env-prefix:"OUTBOX_"`
		Kafka    Kafka    `env-prefix:"KAFKA_"`
		Metrics  Metrics  `env-prefix:"METRICS_"`
		Env      string   `                      env:"ENV" env-default:"local" validate:"oneof=local dev staging prod"`
	}

	App struct {
		Name    string `env:"NAME"    validate:"required"`
		Version string `env:"VERSION" validate:"required"`
	}

	Postgres struct {
		Host           string        `env:"HOST"             validate:"required"`
		Port           string        `env:"PORT"             validate:"required,gte=1,lte=65535"`
		Name           string        `env:"NAME"             validate:"required"`
		User           string        `env:"USER"             validate:"required"`
		Password       string        `env:"PASSWORD"         validate:"required"`
		SSLMode        string        `env:"SSL_MODE"         validate:"required"`
		PoolMax        int32         `env:"POOL_MAX"         validate:"min=1,max=100"                             env-default:"20"`
		ConnAttempts   int           `env:"CONN_ATTEMPTS"    validate:"min=1,max=10"                              env-default:"5"`
		BaseRetryDelay time.Duration `env:"BASE_RETRY_DELAY" validate:"gte=10ms,lte=10s"                          env-default:"100ms"`
		MaxRetryDelay  time.Duration `env:"MAX_RETRY_DELAY"  validate:"gte=100ms,lte=30s,gtefield=BaseRetryDelay" env-default:"5s"`
		Migrate        bool          `env:"MIGRATE"          env-default:"true"`
	}

	HTTP struct {
		Host              string        `env:"HOST"                validate:"required"                 env-default:"0.0.0.0"`
		Port              string        `env:"PORT"                validate:"required,gte=1,lte=65535" env-default:"8080"`
		ReadTimeout       time.Duration `env:"READ_TIMEOUT"        validate:"gte=10ms,lte=30s"         env-default:"5s"`
		WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"       validate:"gte=10ms,lte=30s"         env-default:"15s"`
		IdleTimeout       time.Duration `env:"IDLE_TIMEOUT"        validate:"gte=10ms,lte=90s"         env-default:"60s"`
		ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"    validate:"gte=10ms,lte=30s"         env-default:"10s"`
		ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" validate:"gte=10ms,lte=30s"         env-default:"5s"`
	}

	// Gateway configures the provider client and the retry/breaker policy
	// composed around it.
	Gateway struct {
		BaseURL          string        `env:"BASE_URL"          validate:"required,url"`
		APIKey           string        `env:"API_KEY"           validate:"required"`
		CallTimeout      time.Duration `env:"CALL_TIMEOUT"      validate:"gte=100ms,lte=60s" env-default:"10s"`
		MaxRetries       int           `env:"MAX_RETRIES"       validate:"min=0,max=10"      env-default:"3"`
		BaseRetryDelay   time.Duration `env:"BASE_RETRY_DELAY"  validate:"gte=10ms,lte=10s"  env-default:"200ms"`
		MaxRetryDelay    time.Duration `env:"MAX_RETRY_DELAY"   validate:"gte=100ms,lte=60s" env-default:"5s"`
		BreakerWindow    time.Duration `env:"BREAKER_WINDOW"    validate:"gte=1s,lte=10m"    env-default:"30s"`
		BreakerThreshold float64       `env:"BREAKER_THRESHOLD" validate:"gt=0,lte=1"        env-default:"0.5"`
		BreakerMinCalls  int           `env:"BREAKER_MIN_CALLS" validate:"min=1,max=1000"    env-default:"10"`
		BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN"  validate:"gte=1s,lte=10m"    env-default:"15s"`
		BreakerProbes    int           `env:"BREAKER_PROBES"    validate:"min=1,max=100"     env-default:"3"`
	}

	// Outbox configures the relay loop and the recovery sweeps: stuck
	// in-flight release and cooled-down failed-entry requeue.
	Outbox struct {
		BatchSize         int           `env:"BATCH_SIZE"          validate:"min=1,max=1000"  env-default:"100"`
		PollInterval      time.Duration `env:"POLL_INTERVAL"       validate:"gte=10ms,lte=1m" env-default:"1s"`
		MaxRetries        int           `env:"MAX_RETRIES"         validate:"min=1,max=50"    env-default:"10"`
		SweepInterval     time.Duration `env:"SWEEP_INTERVAL"      validate:"gte=1s,lte=1h"   env-default:"1m"`
		StuckAfter        time.Duration `env:"STUCK_AFTER"         validate:"gte=1s,lte=1h"   env-default:"2m"`
		FailedCooldown    time.Duration `env:"FAILED_COOLDOWN"     validate:"gte=1s,lte=24h"  env-default:"5m"`
		SweepRetryCeiling int           `env:"SWEEP_RETRY_CEILING" validate:"min=1,max=500"   env-default:"25"`
		ShardIndex        int           `env:"SHARD_INDEX"         validate:"min=0,max=63"    env-default:"0"`
		ShardCount        int           `env:"SHARD_COUNT"         validate:"min=1,max=64"    env-default:"1"`
	}

	Kafka struct {
		Brokers      []string      `env:"BROKERS"       validate:"min=1,dive,hostname_port" env-separator:","`
		Topic        string        `env:"TOPIC"         validate:"required"`
		BatchSize    int           `env:"BATCH_SIZE"    validate:"required,min=1,max=1000"  env-default:"100"`
		BatchTimeout time.Duration `env:"BATCH_TIMEOUT" validate:"required,gte=1ms,lte=30s" env-default:"1s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" validate:"required,gte=1ms,lte=30s" env-default:"2s"`
	}

	Metrics struct {
		Host              string        `env:"HOST"                validate:"required"                 env-default:"0.0.0.0"`
		Port              string        `env:"PORT"                validate:"required,gte=1,lte=65535" env-default:"9090"`
		ReadTimeout       time.Duration `env:"READ_TIMEOUT"        validate:"gte=10ms,lte=30s"         env-default:"5s"`
		WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"       validate:"gte=10ms,lte=30s"         env-default:"5s"`
		ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" validate:"gte=10ms,lte=30s"         env-default:"5s"`
	}

	Logger struct {
		Level      string `env:"LEVEL"       env-default:"info"                       validate:"oneof=debug info warn error"`
		Filename   string `env:"FILENAME"    env-default:"./logs/payment-service.log"`
		MaxSize    int    `env:"MAX_SIZE"    env-default:"100"                        validate:"min=1,max=1000"`
		MaxBackups int    `env:"MAX_BACKUPS" env-default:"3"                          validate:"min=0,max=20"`
		MaxAge     int    `env:"MAX_AGE"     env-default:"28"                         validate:"min=1,max=365"`
	}
)

// URL renders the postgres connection string used by both the pool and
// the migration runner.
func (p Postgres) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		p.User,
		p.Password,
		net.JoinHostPort(p.Host, p.Port),
		p.Name,
		p.SSLMode,
	)
}

func Load() (*Config, error) {
	path := fetchConfigPath()
	if path == "" {
		return nil, entity.ErrConfigPathNotSet
	}
	return LoadPath(path)
}

func LoadPath(configPath string) (*Config, error) {
	const op = "config.LoadPath"

	validate := validator.New()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	} else if err != nil {
		return nil, fmt.Errorf("%s: checking config file: %w", op, err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: read config: %w", op, err)
	}

	var validationErrors []string
	if err := validate.Struct(&cfg); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, ve := range validationErrs {
				validationErrors = append(validationErrors,
					fmt.Sprintf("%s=%v must satisfy '%s'", ve.Field(), ve.Value(), ve.Tag()))
			}
			return nil, fmt.Errorf(
				"%s: config validation: %v", op,
				strings.Join(validationErrors, "; "),
			)
		}
		return nil, fmt.Errorf("%s: config validation: %w", op, err)
	}

	if cfg.Outbox.ShardIndex >= cfg.Outbox.ShardCount {
		return nil, fmt.Errorf("%s: shard index %d out of range for %d shards",
			op, cfg.Outbox.ShardIndex, cfg.Outbox.ShardCount)
	}

	return &cfg, nil
}

func fetchConfigPath() string {
	var path string
	flag.StringVar(&path, "config", "", "Path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}
