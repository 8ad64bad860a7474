package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/newswire/internal/ap"
	"horse.fit/newswire/internal/cli"
)

func runFetchAP(args []string) int {
	fs := flag.NewFlagSet("fetch-ap", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	minLookback := fs.Duration("min-lookback", -1, "Drop stories younger than this (0 disables, default from AP_MIN_LOOKBACK)")
	maxLookback := fs.Duration("max-lookback", -1, "Stop searching at stories older than this (0 disables, default from AP_MAX_LOOKBACK)")
	dryRun := fs.Bool("dry-run", false, "Fetch and print stories without admitting them")
	timeout := fs.Duration("timeout", 30*time.Minute, "Overall fetch timeout")

	if code, ok := parseFlags(fs, envLoader, args); !ok {
		return code
	}

	cfg, logger, ok := loadConfigAndLogger()
	if !ok {
		return 1
	}

	window := apWindow(cfg.Lookbacks())
	if *minLookback >= 0 {
		window.MinLookback = optionalDuration(*minLookback)
	}
	if *maxLookback >= 0 {
		window.MaxLookback = optionalDuration(*maxLookback)
	}
	if err := window.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	pool, ok := openPool(cfg, logger, 10*time.Second)
	if !ok {
		return 1
	}
	defer pool.Close()

	ctx, cancel := signalContext()
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, *timeout)
	defer timeoutCancel()

	p, err := newPipeline(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build pipeline")
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}
	defer p.Close()

	fetcher, err := p.apFetcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build AP client: %v\n", err)
		return 1
	}

	if *dryRun {
		candidates, err := fetcher.FetchNewStories(ctx, window)
		if err != nil {
			logger.Error().Err(err).Msg("fetch ap failed")
			fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
			return 1
		}
		type preview struct {
			GUID        string    `json:"guid"`
			URL         string    `json:"url"`
			Title       string    `json:"title"`
			PublishDate time.Time `json:"publish_date"`
		}
		out := make([]preview, 0, len(candidates))
		for _, c := range candidates {
			out = append(out, preview{GUID: c.GUID, URL: c.URL, Title: c.Title, PublishDate: c.PublishDate})
		}
		return printJSON(out)
	}

	summary, err := fetcher.FetchAndAdmitNewStories(ctx, p.importer, window)
	if err != nil {
		logger.Error().Err(err).Msg("fetch ap failed")
		fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
		return 1
	}
	return printJSON(summary)
}

func apWindow(minLookback, maxLookback *time.Duration) ap.Window {
	return ap.Window{MinLookback: minLookback, MaxLookback: maxLookback}
}

// optionalDuration maps zero to a disabled bound.
func optionalDuration(d time.Duration) *time.Duration {
	if d <= 0 {
		return nil
	}
	return &d
}
