package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/config"
	"github.com/vasiliy-maslov/food-ordering/internal/db"
	"github.com/vasiliy-maslov/food-ordering/internal/feed"
	"github.com/vasiliy-maslov/food-ordering/internal/handler"
	lifecycle "github.com/vasiliy-maslov/food-ordering/internal/metrics"
	"github.com/vasiliy-maslov/food-ordering/internal/notify"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
	"github.com/vasiliy-maslov/food-ordering/internal/transport"
	"github.com/vasiliy-maslov/food-ordering/pkg/kafka"
	"github.com/vasiliy-maslov/food-ordering/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const serviceName = "order-service"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", serviceName).Logger()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setLogLevel(cfg.LogLevel)
	log.Info().Msg("Order service starting...")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Order service stopped with error")
	}
	log.Info().Msg("Order service stopped")
}

func setLogLevel(raw string) {
	level, err := zerolog.ParseLevel(raw)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("log_level", raw).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := order.DefaultCancelPolicy()
	if cfg.CancelPolicy != "" {
		parsed, err := order.ParseCancelPolicy(cfg.CancelPolicy)
		if err != nil {
			return err
		}
		policy = parsed
	}
	machine, err := order.NewMachine(policy)
	if err != nil {
		return err
	}
	log.Info().Stringer("cancel_policy", policy).Msg("Lifecycle rules loaded")

	templates, err := loadTemplates(cfg.Notify)
	if err != nil {
		return err
	}

	if err := db.Migrate(cfg.Postgres); err != nil {
		return err
	}
	dbConn, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cache := notify.NewStatusCache()
	lifecycleMetrics := lifecycle.NewLifecycle(registry, cache)

	kafkaClient := kafka.NewClient(cfg.Kafka.Brokers)
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close resource")
			}
		}
	}()

	repo := order.NewRepository(dbConn.Pool)
	primeCache := func() {
		if err := cache.Refresh(ctx, repo); err != nil {
			log.Warn().Err(err).Msg("Failed to prime status cache")
			return
		}
		log.Info().Int("orders", cache.Len()).Msg("Status cache primed")
	}
	primeCache()

	serviceOpts := []order.Option{order.WithObserver(lifecycleMetrics)}
	source, publisher, err := buildFeed(cfg, kafkaClient, primeCache, &closers)
	if err != nil {
		return err
	}
	if publisher != nil {
		serviceOpts = append(serviceOpts, order.WithPublisher(publisher))
	}

	svc := order.NewService(repo, machine, serviceOpts...)

	notifiers := notify.MultiNotifier{notify.LogNotifier{}}
	if kafkaClient.Enabled() {
		writer, err := kafkaClient.NewWriter(cfg.Kafka.NotificationsTopic)
		if err != nil {
			return err
		}
		kafkaNotifier := notify.NewKafkaNotifier(writer)
		closers = append(closers, kafkaNotifier)
		notifiers = append(notifiers, kafkaNotifier)
	}
	reactor := notify.NewReactor(templates, notifiers,
		notify.WithWorkers(cfg.Notify.Workers),
		notify.WithCache(cache),
		notify.WithReactorObserver(lifecycleMetrics),
	)

	router := transport.NewRouter(transport.RouterConfig{
		Metrics:        metrics.NewServerMetrics(registry, "order_service"),
		MetricsHandler: metrics.Handler(registry),
		RequestTimeout: 15 * time.Second,
	}, handler.NewOrderHandler(svc))

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if source != nil {
		changes := make(chan order.Change, 128)

		g.Go(func() error {
			return ignoreCanceled(source.Stream(gctx, changes))
		})
		g.Go(func() error {
			return ignoreCanceled(reactor.Run(gctx, changes))
		})
	} else {
		log.Warn().Msg("Change feed disabled, notifications will not be emitted")
	}

	return g.Wait()
}

func loadTemplates(cfg config.Notify) (*notify.Templates, error) {
	if cfg.TemplatesPath != "" {
		return notify.LoadFile(cfg.TemplatesPath)
	}
	return notify.LoadLocale(cfg.Locale)
}

// buildFeed picks the change-feed transport. Kafka and NATS Streaming need the
// service to publish its own changes; Postgres raises them from a trigger and
// drops them while the listener is disconnected, so onReconnect reloads state.
func buildFeed(cfg *config.Config, client *kafka.Client, onReconnect func(), closers *[]io.Closer) (feed.Source, order.ChangePublisher, error) {
	switch cfg.Feed.Source {
	case config.FeedPostgres:
		return &feed.PostgresSource{DSN: cfg.Postgres.DSN(), Channel: cfg.Feed.Channel, OnReconnect: onReconnect}, nil, nil

	case config.FeedKafka:
		writer, err := client.NewWriter(cfg.Kafka.ChangesTopic)
		if err != nil {
			return nil, nil, err
		}
		reader, err := client.NewReader(cfg.Kafka.ChangesTopic, cfg.Kafka.GroupID)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, writer, reader)
		return &feed.KafkaSource{Reader: reader}, &feed.KafkaPublisher{Writer: writer}, nil

	case config.FeedStan:
		stanCfg := feed.StanConfig{
			ClusterID: cfg.Stan.ClusterID,
			ClientID:  cfg.Stan.ClientID,
			URL:       cfg.Stan.URL,
			Subject:   cfg.Stan.Subject,
			Durable:   cfg.Stan.Durable,
			AckWait:   cfg.Stan.AckWait,
		}
		publisher, err := feed.NewStanPublisher(stanCfg)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, publisher)
		return &feed.StanSource{Config: stanCfg}, publisher, nil

	default:
		return nil, nil, nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
