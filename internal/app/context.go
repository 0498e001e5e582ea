package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"washplan/internal/config"
	"washplan/internal/db"
	"washplan/internal/domain"
	"washplan/internal/engine"
	"washplan/internal/migrate"
	"washplan/internal/repo"
	"washplan/internal/schedule"
)

// Runtime is an engine bound to an open, migrated store.
type Runtime struct {
	Engine engine.Engine
	Config *config.Config
	conn   *sql.DB
}

func (r *Runtime) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Open loads the workspace config (defaults when washplan.yml is absent),
// opens and migrates the database and loads the schedule template.
func Open(workspace string, log logrus.FieldLogger) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(workspace, cfg, log)
}

func OpenWithConfig(workspace string, cfg *config.Config, log logrus.FieldLogger) (*Runtime, error) {
	tpl, err := schedule.LoadTemplate(cfg.Schedule.TemplateFile)
	if err != nil {
		return nil, fmt.Errorf("load schedule template: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, driverOf(cfg)); err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	e.Template = tpl
	e.Log = log
	return &Runtime{Engine: e, Config: cfg, conn: conn}, nil
}

func driverOf(cfg *config.Config) string {
	if cfg.Database.Driver == "" {
		return db.DriverSQLite
	}
	return cfg.Database.Driver
}

// ResolveProject picks the project a command works on: the explicit id when
// given, otherwise the oldest project. An empty store gets a default
// project so first use needs no setup.
func ResolveProject(ctx context.Context, e engine.Engine, override, actorID string) (domain.Project, error) {
	if id := strings.TrimSpace(override); id != "" {
		p, err := e.GetProject(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, fmt.Errorf("project %s not found", id)
		}
		return p, err
	}
	p, created, err := e.EnsureProject(ctx, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	if created && e.Log != nil {
		e.Log.WithField("project_id", p.ID).Info("created default project")
	}
	return p, nil
}
