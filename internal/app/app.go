package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "seed-media":
		return runSeedMedia(args[1:])
	case "fetch-ap":
		return runFetchAP(args[1:])
	case "import-archive":
		return runImportArchive(args[1:])
	case "crawl-feeds":
		return runCrawlFeeds(args[1:])
	case "fetch-downloads":
		return runFetchDownloads(args[1:])
	case "serve":
		return runServe(args[1:])
	case "schedule":
		return runSchedule(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newswire CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newswire <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health           Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  migrate          Create or update the database schema")
	fmt.Fprintln(os.Stderr, "  seed-media       Upsert media and feeds from a YAML file")
	fmt.Fprintln(os.Stderr, "  fetch-ap         Fetch new AP stories and admit them")
	fmt.Fprintln(os.Stderr, "  import-archive   Import AP archive documents from files, directories or s3://")
	fmt.Fprintln(os.Stderr, "  crawl-feeds      Crawl active syndicated feeds")
	fmt.Fprintln(os.Stderr, "  fetch-downloads  Fetch and extract pending content downloads")
	fmt.Fprintln(os.Stderr, "  serve            Start the HTTP API")
	fmt.Fprintln(os.Stderr, "  schedule         Run fetch-ap, crawl-feeds and fetch-downloads on cron schedules")
	fmt.Fprintln(os.Stderr, "  daemon           Manage systemd units for serve and schedule")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newswire <command> -h\" for command-specific flags.")
}
