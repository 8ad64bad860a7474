package app

import (
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/newswire/internal/cli"
	"horse.fit/newswire/internal/downloads"
	"horse.fit/newswire/internal/feeds"
)

func runCrawlFeeds(args []string) int {
	fs := flag.NewFlagSet("crawl-feeds", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 100, "Maximum number of feeds to crawl")

	if code, ok := parseFlags(fs, envLoader, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
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

	summary, err := p.crawler().CrawlActive(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Msg("crawl feeds failed")
		fmt.Fprintf(os.Stderr, "Crawl failed: %v\n", err)
		return 1
	}
	return printJSON(summary)
}

func runFetchDownloads(args []string) int {
	fs := flag.NewFlagSet("fetch-downloads", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 200, "Maximum number of pending downloads to claim")
	concurrency := fs.Int("concurrency", 4, "Parallel downloads")

	if code, ok := parseFlags(fs, envLoader, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
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

	summary, err := p.worker(*concurrency).RunOnce(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Msg("fetch downloads failed")
		fmt.Fprintf(os.Stderr, "Fetch downloads failed: %v\n", err)
		return 1
	}
	return printJSON(summary)
}

func (p *pipeline) crawler() *feeds.Crawler {
	return feeds.NewCrawler(p.pool, p.web, p.importer, p.logger.With().Str("component", "feeds").Logger())
}

func (p *pipeline) worker(concurrency int) *downloads.Worker {
	return downloads.NewWorker(p.pool, p.web, p.processor, p.logger.With().Str("component", "downloads").Logger(), downloads.Options{
		Concurrency: concurrency,
	})
}
