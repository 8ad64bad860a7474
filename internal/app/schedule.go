package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/cli"
)

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

type scheduledJob struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

func runSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	feedLimit := fs.Int("feed-limit", 100, "Maximum feeds per crawl")
	downloadLimit := fs.Int("download-limit", 200, "Maximum downloads claimed per run")
	concurrency := fs.Int("concurrency", 4, "Parallel downloads")
	jobTimeout := fs.Duration("job-timeout", 30*time.Minute, "Timeout for a single job run")
	runNow := fs.Bool("run-now", false, "Run every job once at startup")

	if code, ok := parseFlags(fs, envLoader, args); !ok {
		return code
	}

	cfg, logger, ok := loadConfigAndLogger()
	if !ok {
		return 1
	}

	pool, ok := openPool(cfg, logger, 10*time.Second)
	if !ok {
		return 1
	}
	defer pool.Close()

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, cfg, pool, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}
	defer p.Close()

	fetcher, err := p.apFetcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build AP client: %v\n", err)
		return 1
	}
	window := apWindow(cfg.Lookbacks())
	crawler := p.crawler()
	worker := p.worker(*concurrency)

	jobs := []scheduledJob{
		{name: "fetch-ap", spec: cfg.ScheduleAPCron, run: func(ctx context.Context) error {
			_, err := fetcher.FetchAndAdmitNewStories(ctx, p.importer, window)
			return err
		}},
		{name: "crawl-feeds", spec: cfg.ScheduleFeedsCron, run: func(ctx context.Context) error {
			_, err := crawler.CrawlActive(ctx, *feedLimit)
			return err
		}},
		{name: "fetch-downloads", spec: cfg.ScheduleDownloadsCron, run: func(ctx context.Context) error {
			_, err := worker.RunOnce(ctx, *downloadLimit)
			return err
		}},
	}

	c, err := newScheduler(ctx, logger, jobs, *jobTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	if *runNow {
		for _, job := range jobs {
			runJob(ctx, logger, job, *jobTimeout)
		}
	}

	c.Start()
	<-ctx.Done()
	logger.Info().Msg("stopping scheduler, waiting for running jobs")
	<-c.Stop().Done()
	return 0
}

// newScheduler registers jobs on a cron that recovers panics and never overlaps
// runs of the same job.
func newScheduler(ctx context.Context, logger zerolog.Logger, jobs []scheduledJob, timeout time.Duration) (*cron.Cron, error) {
	cl := cronLogger{logger: logger.With().Str("component", "schedule").Logger()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	for _, job := range jobs {
		if _, err := c.AddFunc(job.spec, func() { runJob(ctx, logger, job, timeout) }); err != nil {
			return nil, fmt.Errorf("invalid schedule for %s (%q): %w", job.name, job.spec, err)
		}
		logger.Info().Str("job", job.name).Str("spec", job.spec).Msg("job scheduled")
	}
	return c, nil
}

func runJob(ctx context.Context, logger zerolog.Logger, job scheduledJob, timeout time.Duration) {
	if ctx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	if err := job.run(jobCtx); err != nil {
		logger.Error().Err(err).Str("job", job.name).Dur("elapsed", time.Since(started)).Msg("scheduled job failed")
		return
	}
	logger.Info().Str("job", job.name).Dur("elapsed", time.Since(started)).Msg("scheduled job finished")
}
