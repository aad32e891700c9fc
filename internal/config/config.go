package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	FeedPostgres = "postgres"
	FeedKafka    = "kafka"
	FeedStan     = "stan"
	FeedNone     = "none"
)

type Config struct {
	App      App      `envPrefix:"APP_"`
	Postgres Postgres `envPrefix:"DB_"`
	Feed     Feed     `envPrefix:"FEED_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`
	Stan     Stan     `envPrefix:"STAN_"`
	Notify   Notify   `envPrefix:"NOTIFY_"`

	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CancelPolicy    string        `env:"CANCEL_POLICY"`
}

type App struct {
	Port string `env:"PORT" envDefault:"8080"`
}

type Postgres struct {
	Host            string        `env:"HOST,required"`
	Port            string        `env:"PORT,required"`
	User            string        `env:"USER,required"`
	Password        string        `env:"PASSWORD,required"`
	DBName          string        `env:"NAME,required"`
	SSLMode         string        `env:"SSLMODE" envDefault:"disable"`
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h"`
	MigrationsPath  string        `env:"MIGRATIONS_PATH" envDefault:"migrations"`
}

// DSN is the keyword/value connection string understood by pgx and lib/pq.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// MigrateURL is the pgx5:// URL golang-migrate expects.
func (p Postgres) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DBName,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	return u.String()
}

type Feed struct {
	Source  string `env:"SOURCE" envDefault:"postgres"`
	Channel string `env:"CHANNEL" envDefault:"order_changes"`
}

type Kafka struct {
	Brokers            string `env:"BROKERS"`
	ChangesTopic       string `env:"CHANGES_TOPIC" envDefault:"order-changes"`
	NotificationsTopic string `env:"NOTIFICATIONS_TOPIC" envDefault:"order-notifications"`
	GroupID            string `env:"GROUP_ID" envDefault:"order-notifier"`
}

type Stan struct {
	ClusterID string        `env:"CLUSTER_ID" envDefault:"test-cluster"`
	ClientID  string        `env:"CLIENT_ID"`
	URL       string        `env:"URL" envDefault:"nats://localhost:4222"`
	Subject   string        `env:"SUBJECT" envDefault:"order-changes"`
	Durable   string        `env:"DURABLE" envDefault:"order-notifiers-durable"`
	AckWait   time.Duration `env:"ACK_WAIT" envDefault:"10s"`
}

type Notify struct {
	Locale        string `env:"LOCALE" envDefault:"en"`
	TemplatesPath string `env:"TEMPLATES_PATH"`
	Workers       int    `env:"WORKERS" envDefault:"4"`
}

// Load reads an optional .env file at path and then the process environment.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Feed.Source {
	case FeedPostgres, FeedStan, FeedNone:
	case FeedKafka:
		if c.Kafka.Brokers == "" {
			return errors.New("FEED_SOURCE=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown FEED_SOURCE %q", c.Feed.Source)
	}
	if c.Notify.Workers <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS must be positive, got %d", c.Notify.Workers)
	}
	return nil
}
