package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"washplan/internal/domain"
	"washplan/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectRenameCmd())
	prj.AddCommand(projectDescribeCmd())
	prj.AddCommand(projectOpenDateCmd())
	prj.AddCommand(projectWellWaterCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printProjects(items, e.Location())
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var openDate string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if openDate != "" {
					d, err := parseDay("open-date", openDate, e.Location())
					if err != nil {
						return err
					}
					opts.OpenDate = &d
				}
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printProject(p, e.Location())
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().BoolVar(&opts.UseWellWater, "well-water", false, "include well water construction")
	cmd.Flags().StringVar(&openDate, "open-date", "", "opening day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				return printProject(p, e.Location())
			})
		},
	}
}

func projectRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name>",
		Short: "Rename the current project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				updated, err := e.RenameProject(ctx, p.ID, args[0], actorID())
				if err != nil {
					return err
				}
				return printProject(updated, e.Location())
			})
		},
	}
}

func projectDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <text>",
		Short: "Set the project description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				updated, err := e.SetProjectDescription(ctx, p.ID, args[0], actorID())
				if err != nil {
					return err
				}
				return printProject(updated, e.Location())
			})
		},
	}
}

func projectOpenDateCmd() *cobra.Command {
	var unset bool
	cmd := &cobra.Command{
		Use:   "open-date [YYYY-MM-DD]",
		Short: "Set the opening day; every task moves by the same number of days",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if unset == (len(args) == 1) {
				return fmt.Errorf("give a date or --clear")
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				var date *time.Time
				if !unset {
					d, err := parseDay("open-date", args[0], e.Location())
					if err != nil {
						return err
					}
					date = &d
				}
				res, err := e.SetOpenDate(ctx, p.ID, date, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project":    res.Project,
						"delta_days": int(res.Delta / (24 * time.Hour)),
						"shifted":    len(res.Shifted),
					})
				}
				fmt.Printf("Open date: %s\n", formatDay(res.Project.OpenDate, e.Location()))
				if len(res.Shifted) > 0 {
					fmt.Printf("Shifted %d tasks by %d days\n", len(res.Shifted), int(res.Delta/(24*time.Hour)))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unset, "clear", false, "clear the opening day; tasks stay where they are")
	return cmd
}

func projectWellWaterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "well-water <on|off>",
		Short: "Toggle well water construction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				updated, err := e.SetUseWellWater(ctx, p.ID, on, actorID())
				if err != nil {
					return err
				}
				return printProject(updated, e.Location())
			})
		},
	}
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", v)
	}
	return b, nil
}

func projectDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the current project and all of its tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("deleting a project removes every task; pass --yes")
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				if err := e.DeleteProject(ctx, p.ID, actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted %s (%s)\n", p.Name, p.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, err := e.GetProject(ctx, projectID)
				return err
			})
			if err != nil {
				return err
			}
			path := envPath(viper.GetString("workspace"))
			if err := setEnvValue(path, "WASHPLAN_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set WASHPLAN_PROJECT=%s in %s\n", projectID, path)
			return nil
		},
	}
}

// setEnvValue updates one key of a dotenv file, keeping the others.
func setEnvValue(path, key, value string) error {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		values = map[string]string{}
	} else if err != nil {
		return err
	}
	values[key] = value
	return godotenv.Write(values, path)
}
