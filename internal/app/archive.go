package app

import (
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/newswire/internal/archive"
	"horse.fit/newswire/internal/blob"
	"horse.fit/newswire/internal/cli"
)

func runImportArchive(args []string) int {
	fs := flag.NewFlagSet("import-archive", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

	if code, ok := parseFlags(fs, envLoader, args); !ok {
		return code
	}
	targets := fs.Args()
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "usage: newswire import-archive [--env .env] <file|dir|s3://bucket/prefix>...")
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

	var objects archive.ObjectStore
	for _, target := range targets {
		if !blob.IsS3URI(target) {
			continue
		}
		s3Store, err := blob.NewS3(ctx, blob.S3Config{
			Region:       cfg.ArchiveS3Region,
			Profile:      cfg.ArchiveS3Profile,
			UsePathStyle: cfg.ArchiveS3PathStyle,
			Endpoint:     cfg.ArchiveS3Endpoint,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to configure s3: %v\n", err)
			return 1
		}
		objects = s3Store
		break
	}

	importer := archive.NewImporter(p.importer, p.apSource(), objects, logger.With().Str("component", "archive").Logger())

	var total archive.Summary
	failed := false
	for _, target := range targets {
		summary, err := importer.ImportPath(ctx, target)
		total.Documents += summary.Documents
		total.Created += summary.Created
		total.Duplicates += summary.Duplicates
		total.Conflicts += summary.Conflicts
		total.Malformed += summary.Malformed
		total.Failed += summary.Failed
		if err != nil {
			failed = true
			logger.Error().Err(err).Str("target", target).Msg("archive import failed")
			if ctx.Err() != nil {
				break
			}
		}
	}

	if code := printJSON(total); code != 0 {
		return code
	}
	if failed {
		return 1
	}
	return 0
}
