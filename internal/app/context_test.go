package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"washplan/internal/engine"
)

func TestOpenUsesDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Config.Database.Driver != "sqlite" {
		t.Fatalf("expected sqlite default, got %q", rt.Config.Database.Driver)
	}
	if len(rt.Engine.Template.Entries) == 0 {
		t.Fatalf("expected default template to be loaded")
	}
	if _, err := os.Stat(filepath.Join(dir, ".washplan", "washplan.db")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestOpenRejectsMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	cfg := "schedule:\n  template_file: " + filepath.Join(dir, "missing.yml") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "washplan.yml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir, nil); err == nil {
		t.Fatalf("expected template load error")
	}
}

func TestResolveProject(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	first, err := ResolveProject(ctx, rt.Engine, "", "tester")
	if err != nil {
		t.Fatalf("resolve empty store: %v", err)
	}
	if first.Name != engine.DefaultProjectName {
		t.Fatalf("expected default project, got %+v", first)
	}
	again, err := ResolveProject(ctx, rt.Engine, "", "tester")
	if err != nil || again.ID != first.ID {
		t.Fatalf("expected same project, got %+v err=%v", again, err)
	}

	other, err := rt.Engine.CreateProject(ctx, engine.ProjectCreateOptions{Name: "新宿店"})
	if err != nil {
		t.Fatal(err)
	}
	picked, err := ResolveProject(ctx, rt.Engine, other.ID, "tester")
	if err != nil || picked.ID != other.ID {
		t.Fatalf("expected override to win, got %+v err=%v", picked, err)
	}
	if _, err := ResolveProject(ctx, rt.Engine, "nope", "tester"); err == nil {
		t.Fatalf("expected unknown project error")
	}
}
