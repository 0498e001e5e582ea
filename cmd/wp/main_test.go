package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"washplan/internal/config"
	"washplan/internal/domain"
	"washplan/internal/feed"
)

func TestSetEnvValueKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("WASHPLAN_JWT_SECRET=s3cret\nWASHPLAN_PROJECT=old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := setEnvValue(path, "WASHPLAN_PROJECT", "new"); err != nil {
		t.Fatalf("set: %v", err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if values["WASHPLAN_PROJECT"] != "new" || values["WASHPLAN_JWT_SECRET"] != "s3cret" {
		t.Fatalf("unexpected env: %v", values)
	}
}

func TestSetEnvValueCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := setEnvValue(path, "WASHPLAN_PROJECT", "abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	values, err := godotenv.Read(path)
	if err != nil || values["WASHPLAN_PROJECT"] != "abc" {
		t.Fatalf("unexpected env: %v err=%v", values, err)
	}
}

func TestParseSwitch(t *testing.T) {
	cases := map[string]bool{"on": true, "OFF": false, "yes": true, "true": true, "0": false}
	for in, want := range cases {
		got, err := parseSwitch(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v err=%v", in, got, err)
		}
	}
	if _, err := parseSwitch("maybe"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseDay(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	d, err := parseDay("start", "2025-06-03", loc)
	if err != nil {
		t.Fatal(err)
	}
	if d.Location() != loc || d.Hour() != 0 || d.Day() != 3 {
		t.Fatalf("unexpected day %v", d)
	}
	if _, err := parseDay("start", "06/03/2025", loc); err == nil || !strings.Contains(err.Error(), "--start") {
		t.Fatalf("expected flag error, got %v", err)
	}
}

func TestDescribeChange(t *testing.T) {
	start := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	c := feed.Change{
		EventID: 7, Op: domain.OpUpdate, Table: domain.TableTasks, EntityID: "t1", ActorID: "tanaka",
		Task: &domain.Task{Name: "契約", StartDate: start, EndDate: start.AddDate(0, 0, 9)},
	}
	got := describeChange(c, time.UTC)
	want := "#7 UPDATE tasks t1 契約 2025-06-03..2025-06-12 by tanaka"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestApplyOverridesFromEnv(t *testing.T) {
	initConfig()
	t.Setenv("WASHPLAN_DATABASE_DRIVER", "postgres")
	t.Setenv("WASHPLAN_DATABASE_DSN", "postgres://wash@db.example/plan")
	t.Setenv("WASHPLAN_LOG_LEVEL", "debug")
	cfg := config.Default()
	applyOverrides(cfg)
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://wash@db.example/plan" {
		t.Fatalf("database not overridden: %+v", cfg.Database)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level not overridden: %q", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overridden config invalid: %v", err)
	}
}

func TestApplyOverridesKeepsFileValues(t *testing.T) {
	initConfig()
	cfg := config.Default()
	cfg.Database.DSN = "from-file"
	applyOverrides(cfg)
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "from-file" {
		t.Fatalf("unexpected override: %+v", cfg.Database)
	}
}
