package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/ap"
	"horse.fit/newswire/internal/cli"
	"horse.fit/newswire/internal/config"
	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/events"
	"horse.fit/newswire/internal/httpfetch"
	"horse.fit/newswire/internal/logging"
	"horse.fit/newswire/internal/processing"
	"horse.fit/newswire/internal/seen"
	"horse.fit/newswire/internal/stories"
)

// parseFlags parses fs and loads the env file. ok=false means the caller
// should return code.
func parseFlags(fs *flag.FlagSet, envLoader *cli.EnvLoader, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return 0, true
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, bool) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), false
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), false
	}
	return cfg, logger, true
}

func openPool(cfg *config.Config, logger zerolog.Logger, timeout time.Duration) (*db.Pool, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil, false
	}
	return pool, true
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// pipeline holds the components shared by the ingestion commands.
type pipeline struct {
	cfg       *config.Config
	pool      *db.Pool
	logger    zerolog.Logger
	web       *httpfetch.Client
	importer  *stories.Importer
	processor *processing.Processor
	publisher events.Publisher
	checker   *seen.Checker
}

func newPipeline(ctx context.Context, cfg *config.Config, pool *db.Pool, logger zerolog.Logger) (*pipeline, error) {
	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := processing.New(pool, publisher, logger.With().Str("component", "processing").Logger())
	importer := stories.NewImporter(stories.NewPoolStore(pool), processor, logger.With().Str("component", "importer").Logger())

	cache, err := newSeenCache(ctx, cfg, logger)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}
	checker := seen.NewChecker(cache, stories.NewGUIDChecker(pool, cfg.APMediumName), cfg.APMediumName, cfg.SeenTTL, logger)

	web := httpfetch.New(logger.With().Str("component", "web").Logger(), httpfetch.Options{
		RetryLimit: cfg.APRetryLimit,
		Timeout:    cfg.APRequestTimeout,
		UserAgent:  cfg.UserAgent,
	})

	return &pipeline{
		cfg:       cfg,
		pool:      pool,
		logger:    logger,
		web:       web,
		importer:  importer,
		processor: processor,
		publisher: publisher,
		checker:   checker,
	}, nil
}

func (p *pipeline) Close() {
	if err := p.checker.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to close seen cache")
	}
	if err := p.publisher.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to close event publisher")
	}
}

func (p *pipeline) apFetcher() (*ap.Fetcher, error) {
	client, err := ap.NewClient(p.logger.With().Str("component", "ap").Logger(), ap.Options{
		APIKey:     p.cfg.APAPIKey,
		BaseURL:    p.cfg.APBaseURL,
		RetryLimit: p.cfg.APRetryLimit,
		Timeout:    p.cfg.APRequestTimeout,
		UserAgent:  p.cfg.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	return ap.NewFetcher(client, p.logger.With().Str("component", "ap").Logger(), ap.FetcherOptions{
		MediumName: p.cfg.APMediumName,
		Existing:   p.checker,
	}), nil
}

func (p *pipeline) apSource() stories.Source {
	return ap.MediumSource(p.cfg.APMediumName, "")
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return events.Nop{}, nil
	}
	publisher, err := events.NewKafkaPublisher(brokers, cfg.KafkaTopic, logger.With().Str("component", "events").Logger())
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func newSeenCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (seen.Cache, error) {
	switch cfg.SeenCacheBackend() {
	case config.SeenCacheRedis:
		cache, err := seen.NewRedis(ctx, seen.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return cache, nil
	case config.SeenCacheSQLite:
		cache, err := seen.OpenSQLite(ctx, cfg.SeenSQLitePath)
		if err != nil {
			return nil, err
		}
		if pruned, err := cache.Prune(ctx); err == nil && pruned > 0 {
			logger.Debug().Int64("pruned", pruned).Msg("pruned expired seen guids")
		}
		return cache, nil
	default:
		return nil, nil
	}
}
