package applog_test

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsprackett/claude-usage/internal/applog"
)

func TestDailyRotator_CreatesFileOnFirstWrite(t *testing.T) {
	dir := t.TempDir()
	r := applog.NewDailyRotator(dir, 7)
	defer r.Close()

	if _, err := r.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}

	name := filepath.Join(dir, applog.FileName(time.Now()))
	if _, err := os.Stat(name); err != nil {
		t.Errorf("expected log file %q to exist: %v", name, err)
	}
}

func TestDailyRotator_RotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	r := applog.NewDailyRotator(dir, 7)
	defer r.Close()

	r.SetNow(func() time.Time { return time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC) })
	if _, err := r.Write([]byte("day1\n")); err != nil {
		t.Fatal(err)
	}
	r.SetNow(func() time.Time { return time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC) })
	if _, err := r.Write([]byte("day2\n")); err != nil {
		t.Fatal(err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "claude-usage-*.log"))
	if len(matches) != 2 {
		t.Errorf("expected 2 log files after rotation, got %d", len(matches))
	}
}

func TestDailyRotator_PrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	r := applog.NewDailyRotator(dir, 2)

	for i := 1; i <= 4; i++ {
		day := i
		r.SetNow(func() time.Time { return time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC) })
		if _, err := r.Write([]byte("entry\n")); err != nil {
			t.Fatal(err)
		}
	}
	r.Close()

	matches, _ := filepath.Glob(filepath.Join(dir, "claude-usage-*.log"))
	if len(matches) != 2 {
		t.Fatalf("expected 2 log files after pruning, got %d: %v", len(matches), matches)
	}
	if filepath.Base(matches[0]) != "claude-usage-2026-03-03.log" {
		t.Errorf("oldest kept file: got %q", filepath.Base(matches[0]))
	}
}

func TestInit_CreatesLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	_, closer, err := applog.Init(applog.InitConfig{LogDir: dir, LogLevel: "info"})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected log dir %q to be created: %v", dir, err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}
	for _, tc := range cases {
		if got := applog.ParseLevel(tc.input); got != tc.level {
			t.Errorf("ParseLevel(%q): got %v want %v", tc.input, got, tc.level)
		}
	}
}

func TestWithRunTagsRecords(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := applog.Init(applog.InitConfig{LogDir: dir, LogLevel: "info"})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	applog.WithRun(logger, "run").Info("fetch complete")
	log.Print("stdlib-marker")

	data, err := os.ReadFile(filepath.Join(dir, applog.FileName(time.Now())))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "run=") || !strings.Contains(out, "cmd=run") {
		t.Errorf("expected run attributes in %q", out)
	}
	if !strings.Contains(out, "stdlib-marker") {
		t.Errorf("stdlib log output not redirected: %q", out)
	}
}
