package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"washplan/internal/app"
	"washplan/internal/config"
	"washplan/internal/db"
	"washplan/internal/domain"
	"washplan/internal/engine"
	"washplan/internal/logging"
	"washplan/internal/schedule"
)

var rootCmd = &cobra.Command{
	Use:   "wp",
	Short: "Washplan CLI",
	Long: `Washplan plans the opening of a car-wash site as a Gantt schedule.
- Workspace: the directory holding washplan.yml and the .washplan database.
- Project: one site, with an opening day (OPEN日) and a well water flag.
- Tasks: dated work items in three swimlanes (洗車場開発, バックオフィス, マイルストーン).
- Schedule: 'wp schedule generate' replaces every task with the standard plan laid out around the opening day.
- Moving the opening day shifts every task by the same number of days.
- Event log: every saved change, view with 'wp log tail' or follow with 'wp watch'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(envPath(workspace)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envPath(workspace), err)
		}
		_, err := db.EnsureWorkspace(workspace)
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WASHPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", engine.DefaultActor, "actor identifier recorded on changes")
	flags.String("project", "", "project id (defaults to WASHPLAN_PROJECT, then the oldest project)")
	flags.String("log-level", "", "log level (overrides washplan.yml)")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens (defaults to WASHPLAN_JWT_SECRET)")
	flags.String("db-driver", "", "database driver, sqlite or postgres (overrides washplan.yml)")
	flags.String("db-dsn", "", "postgres DSN (defaults to WASHPLAN_DATABASE_DSN)")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	_ = viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", flags.Lookup("db-dsn"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage washplan.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default washplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate washplan.yml and the schedule template",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err == nil {
				_, err = schedule.LoadTemplate(cfg.Schedule.TemplateFile)
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

func envPath(workspace string) string {
	return filepath.Join(workspace, ".env")
}

// loadConfig reads washplan.yml and applies flag and WASHPLAN_* env
// overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if v := viper.GetString("database.driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("database.dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logging.New("washplan", cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

func openRuntime() (*app.Runtime, *logrus.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg)
	rt, err := app.OpenWithConfig(viper.GetString("workspace"), cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return rt, log, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, _, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

// withProject runs fn against the resolved project.
func withProject(ctx context.Context, fn func(context.Context, engine.Engine, domain.Project) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		p, err := resolveWith(ctx, e)
		if err != nil {
			return err
		}
		return fn(ctx, e, p)
	})
}

func resolveWith(ctx context.Context, e engine.Engine) (domain.Project, error) {
	return app.ResolveProject(ctx, e, viper.GetString("project"), actorID())
}

func actorID() string {
	return viper.GetString("actor-id")
}

func parseDay(flag, value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD", flag)
	}
	return t, nil
}

func formatDay(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.In(loc).Format(time.DateOnly)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printProjects(items []domain.Project, loc *time.Location) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Name", "Open", "Well water", "Created"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, formatDay(p.OpenDate, loc), p.UseWellWater, p.CreatedAt})
	}
	tw.Render()
	return nil
}

func printProject(p domain.Project, loc *time.Location) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := newTable(table.Row{"Field", "Value"})
	tw.AppendRows([]table.Row{
		{"ID", p.ID},
		{"Name", p.Name},
		{"Description", p.Description},
		{"Open", formatDay(p.OpenDate, loc)},
		{"Well water", p.UseWellWater},
		{"Updated", p.UpdatedAt},
	})
	tw.Render()
	return nil
}

func printTasks(items []domain.Task, loc *time.Location) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Name", "Start", "End", "Span", "Status", "Progress", "Category"})
	for _, t := range items {
		tw.AppendRow(taskRow(t, loc))
	}
	tw.Render()
	return nil
}

func taskRow(t domain.Task, loc *time.Location) table.Row {
	name := t.Name
	if t.IsHidden {
		name += " (hidden)"
	}
	return table.Row{
		t.ID, name,
		formatDay(&t.StartDate, loc), formatDay(&t.EndDate, loc),
		schedule.DurationLabel(t.StartDate, t.EndDate),
		t.Status, fmt.Sprintf("%d%%", t.Progress), t.Category.Label(),
	}
}

func printTask(t domain.Task, loc *time.Location) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := newTable(table.Row{"ID", "Name", "Start", "End", "Span", "Status", "Progress", "Category"})
	tw.AppendRow(taskRow(t, loc))
	tw.Render()
	for _, cat := range t.SubTasks {
		fmt.Printf("%s [%s]\n", cat.Name, cat.ID)
		for _, it := range cat.Items {
			mark := " "
			if it.Completed {
				mark = "x"
			}
			fmt.Printf("  [%s] %s (%s)\n", mark, it.Name, it.ID)
		}
	}
	if t.Memo != "" {
		fmt.Println("Memo:", t.Memo)
	}
	return nil
}
