package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/newswire/internal/cli"
	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/media"
)

func runSeedMedia(args []string) int {
	fs := flag.NewFlagSet("seed-media", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "media.yaml", "YAML file listing media and their feeds")
	timeout := fs.Duration("timeout", 2*time.Minute, "Seed timeout")

	if code, ok := parseFlags(fs, envLoader, args); !ok {
		return code
	}
	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	mediaFile, err := media.Load(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load media file: %v\n", err)
		return 1
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var summary media.SeedSummary
	err = pool.Transaction(ctx, func(tx *db.Pool) error {
		var seedErr error
		summary, seedErr = media.Seed(ctx, tx, mediaFile)
		return seedErr
	})
	if err != nil {
		logger.Error().Err(err).Str("file", *file).Msg("seed media failed")
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("media", summary.Media).
		Int("feeds", summary.Feeds).
		Msg("media seeded")
	return printJSON(summary)
}

func printJSON(v any) int {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}
