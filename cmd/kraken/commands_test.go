package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSyncCommand_RequiresChannels(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SYNC_CHANNELS", "")

	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs([]string{"sync"})

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "no channels configured") {
		t.Fatalf("expected missing-channels error, got: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 500); got != "short" {
		t.Errorf("truncate(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("é", 600)
	got := truncate(long, 500)
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte rune")
	}
	if n := utf8.RuneCountInString(got); n != 503 {
		t.Errorf("rune count = %d, want 500 plus ellipsis", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got[len(got)-12:])
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "hello"); got != "hello" {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", got)
	}

	noColor = false
	if got := colorize(colorGreen, "hello"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}
