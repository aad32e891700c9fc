package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "orders")
	t.Setenv("DB_PASSWORD", "p@ss word")
	t.Setenv("DB_NAME", "food_ordering")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
	assert.Equal(t, time.Hour, cfg.Postgres.MaxConnLifetime)
	assert.Equal(t, FeedPostgres, cfg.Feed.Source)
	assert.Equal(t, "order_changes", cfg.Feed.Channel)
	assert.Equal(t, "en", cfg.Notify.Locale)
	assert.Equal(t, 4, cfg.Notify.Workers)
	assert.Empty(t, cfg.CancelPolicy)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_HOST", "")
	os.Unsetenv("DB_HOST")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_DotEnvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=9090\nNOTIFY_LOCALE=pt-BR\n"), 0o600))
	t.Setenv("APP_PORT", "")
	os.Unsetenv("APP_PORT")
	t.Setenv("NOTIFY_LOCALE", "")
	os.Unsetenv("NOTIFY_LOCALE")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "pt-BR", cfg.Notify.Locale)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_FeedValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "kafka without brokers", env: map[string]string{"FEED_SOURCE": "kafka"}, wantErr: true},
		{name: "kafka with brokers", env: map[string]string{"FEED_SOURCE": "kafka", "KAFKA_BROKERS": "localhost:9092"}},
		{name: "stan", env: map[string]string{"FEED_SOURCE": "stan"}},
		{name: "none", env: map[string]string{"FEED_SOURCE": "none"}},
		{name: "unknown", env: map[string]string{"FEED_SOURCE": "carrier-pigeon"}, wantErr: true},
		{name: "zero workers", env: map[string]string{"NOTIFY_WORKERS": "0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPostgres_ConnectionStrings(t *testing.T) {
	p := Postgres{Host: "db", Port: "5432", User: "orders", Password: "p@ss word", DBName: "food", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=orders password=p@ss word dbname=food sslmode=disable", p.DSN())
	assert.Equal(t, "pgx5://orders:p%40ss%20word@db:5432/food?sslmode=disable", p.MigrateURL())
}
