package app

import (
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/newswire/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Database connection timeout")

	if code, ok := parseFlags(fs, envLoader, args); !ok {
		return code
	}

	cfg, logger, ok := loadConfigAndLogger()
	if !ok {
		return 1
	}

	pool, ok := openPool(cfg, logger, *timeout)
	if !ok {
		return 1
	}
	defer pool.Close()

	logger.Info().Msg("database connection healthy")
	fmt.Fprintln(os.Stdout, "ok")
	return 0
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Migration timeout")

	if code, ok := parseFlags(fs, envLoader, args); !ok {
		return code
	}

	cfg, logger, ok := loadConfigAndLogger()
	if !ok {
		return 1
	}

	// NewPool applies the embedded schema before returning.
	pool, ok := openPool(cfg, logger, *timeout)
	if !ok {
		return 1
	}
	defer pool.Close()

	logger.Info().Msg("schema is up to date")
	return 0
}
