package app

import (
	"testing"
	"time"
)

func TestRun_UsageExitCodes(t *testing.T) {
	t.Parallel()

	if code := Run(nil); code != 2 {
		t.Fatalf("expected exit 2 without a command, got %d", code)
	}
	if code := Run([]string{"help"}); code != 0 {
		t.Fatalf("expected exit 0 for help, got %d", code)
	}
	if code := Run([]string{"bogus"}); code != 2 {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
	if code := Run([]string{"daemon", "bogus"}); code != 2 {
		t.Fatalf("expected exit 2 for unknown daemon action, got %d", code)
	}
}

func TestRun_RejectsBadFlags(t *testing.T) {
	t.Parallel()

	cases := [][]string{
		{"crawl-feeds", "--limit", "0"},
		{"fetch-downloads", "--limit", "-3"},
		{"serve", "--port", "70000"},
		{"import-archive"},
		{"health", "--no-such-flag"},
	}
	for _, args := range cases {
		if code := Run(args); code != 2 {
			t.Fatalf("expected exit 2 for %v, got %d", args, code)
		}
	}
}

func TestOptionalDuration(t *testing.T) {
	t.Parallel()

	if optionalDuration(0) != nil {
		t.Fatalf("expected zero to disable the bound")
	}
	got := optionalDuration(2 * time.Hour)
	if got == nil || *got != 2*time.Hour {
		t.Fatalf("unexpected duration %v", got)
	}
}
