package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"washplan/internal/domain"
	"washplan/internal/engine"
	"washplan/internal/feed"
	"washplan/internal/schedule"
	"washplan/internal/session"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks of the current project",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskHideCmd(true))
	task.AddCommand(taskHideCmd(false))
	task.AddCommand(taskCheckCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskClearCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var all, grouped bool
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				items, err := e.ListTasks(ctx, p.ID, engine.TaskListOptions{IncludeHidden: all, Category: domain.Category(category)})
				if err != nil {
					return err
				}
				if !grouped {
					return printTasks(items, e.Location())
				}
				groups := schedule.GroupByCategory(items, all)
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				tw := newTable(table.Row{"ID", "Name", "Start", "End", "Span", "Status", "Progress", "Category"})
				for _, g := range groups {
					tw.AppendSeparator()
					tw.AppendRow(table.Row{"", g.Label})
					for _, t := range g.Tasks {
						tw.AppendRow(taskRow(t, e.Location()))
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include hidden tasks")
	cmd.Flags().BoolVar(&grouped, "group", false, "group by category")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task with its checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				t, err := e.GetTask(ctx, p.ID, args[0])
				if err != nil {
					return err
				}
				return printTask(t, e.Location())
			})
		},
	}
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var start, end, status, category string
	var deps []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				var err error
				if opts.StartDate, err = parseDay("start", start, e.Location()); err != nil {
					return err
				}
				if opts.EndDate, err = parseDay("end", end, e.Location()); err != nil {
					return err
				}
				opts.ProjectID = p.ID
				opts.Status = domain.Status(status)
				opts.Category = domain.Category(category)
				opts.Dependencies = deps
				opts.ActorID = actorID()
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(t, e.Location())
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&status, "status", "", "not-started, in-progress, done or delayed")
	cmd.Flags().StringVar(&category, "category", "", "wash-facility-development, back-office or milestone")
	cmd.Flags().IntVar(&opts.Progress, "progress", 0, "progress percent")
	cmd.Flags().StringArrayVar(&deps, "depends-on", nil, "dependency task id (repeatable)")
	cmd.Flags().BoolVar(&opts.IsHidden, "hidden", false, "hide from the partner view")
	cmd.Flags().StringVar(&opts.Color, "color", "", "bar color")
	cmd.Flags().StringVar(&opts.Memo, "memo", "", "memo")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var name, start, end, status, category, color, memo string
	var progress int
	var deps []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				patch := engine.TaskPatch{ProjectID: p.ID, ID: args[0], ActorID: actorID()}
				if flags.Changed("name") {
					patch.Name = &name
				}
				if flags.Changed("start") {
					d, err := parseDay("start", start, e.Location())
					if err != nil {
						return err
					}
					patch.StartDate = &d
				}
				if flags.Changed("end") {
					d, err := parseDay("end", end, e.Location())
					if err != nil {
						return err
					}
					patch.EndDate = &d
				}
				if flags.Changed("status") {
					s := domain.Status(status)
					patch.Status = &s
				}
				if flags.Changed("category") {
					c := domain.Category(category)
					patch.Category = &c
				}
				if flags.Changed("progress") {
					patch.Progress = &progress
				}
				if flags.Changed("depends-on") {
					patch.Dependencies = &deps
				}
				if flags.Changed("color") {
					patch.Color = &color
				}
				if flags.Changed("memo") {
					patch.Memo = &memo
				}
				t, err := e.UpdateTask(ctx, patch)
				if err != nil {
					return err
				}
				return printTask(t, e.Location())
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percent")
	cmd.Flags().StringArrayVar(&deps, "depends-on", nil, "dependency task id (repeatable, replaces the list)")
	cmd.Flags().StringVar(&color, "color", "", "bar color")
	cmd.Flags().StringVar(&memo, "memo", "", "memo")
	return cmd
}

// taskMoveCmd goes through a session so the move is applied the same way
// an interactive client applies a drag.
func taskMoveCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a task to new dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			e := rt.Engine
			ctx := cmd.Context()
			from, err := parseDay("start", start, e.Location())
			if err != nil {
				return err
			}
			to, err := parseDay("end", end, e.Location())
			if err != nil {
				return err
			}
			p, err := resolveWith(ctx, e)
			if err != nil {
				return err
			}
			broker := feed.NewBroker(e.Repo, feed.Options{Log: log})
			if err := broker.Init(ctx); err != nil {
				return err
			}
			s := session.New(e, broker, session.Options{ActorID: actorID(), Log: log})
			defer s.Close()
			if err := s.Open(ctx); err != nil {
				return err
			}
			if err := s.Select(ctx, p.ID); err != nil {
				return err
			}
			if err := <-s.MoveTask(ctx, args[0], from, to); err != nil {
				return err
			}
			t, err := e.GetTask(ctx, p.ID, args[0])
			if err != nil {
				return err
			}
			return printTask(t, e.Location())
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "new start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "new end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func taskHideCmd(hide bool) *cobra.Command {
	use, short := "hide <id>", "Hide a task from the partner view"
	if !hide {
		use, short = "unhide <id>", "Show a hidden task again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				t, err := e.SetHidden(ctx, p.ID, args[0], hide, actorID())
				if err != nil {
					return err
				}
				return printTask(t, e.Location())
			})
		},
	}
}

func taskCheckCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "check <task-id> <category-id> <item-id>",
		Short: "Tick a checklist item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				t, err := e.SetSubTaskItemCompleted(ctx, p.ID, args[0], args[1], args[2], !undo, actorID())
				if err != nil {
					return err
				}
				return printTask(t, e.Location())
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "untick the item")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				return e.DeleteTask(ctx, p.ID, args[0], actorID())
			})
		},
	}
}

func taskClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every task of the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("this deletes every task; pass --yes")
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				n, err := e.DeleteAllTasks(ctx, p.ID, actorID())
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d tasks\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func scheduleCmd() *cobra.Command {
	sc := &cobra.Command{
		Use:   "schedule",
		Short: "Generate the standard opening schedule",
	}
	sc.AddCommand(scheduleGenerateCmd())
	sc.AddCommand(schedulePreviewCmd())
	return sc
}

func scheduleGenerateCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Replace every task with the template laid out around the opening day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				created, err := e.GenerateSchedule(ctx, engine.GenerateOptions{ProjectID: p.ID, Confirm: yes, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printTasks(created, e.Location())
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm replacing existing tasks")
	return cmd
}

func schedulePreviewCmd() *cobra.Command {
	var openDate string
	var well bool
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the generated schedule without saving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				open, err := parseDay("open-date", openDate, e.Location())
				if err != nil {
					return err
				}
				items := e.PreviewSchedule(open, well)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Name", "Start", "End", "Span", "From open", "Category"})
				for _, t := range items {
					tw.AppendRow(table.Row{
						t.Name,
						formatDay(&t.StartDate, e.Location()), formatDay(&t.EndDate, e.Location()),
						schedule.DurationLabel(t.StartDate, t.EndDate),
						schedule.RelativeLabel(open, t.StartDate),
						t.Category.Label(),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&openDate, "open-date", "", "opening day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&well, "well-water", false, "include well water construction")
	_ = cmd.MarkFlagRequired("open-date")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Inspect the change log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var tableName, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent changes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				items, err := e.ListEvents(ctx, n, 0, p.ID, tableName, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "TS", "Op", "Table", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Op, evt.Table, evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&tableName, "table", "", "projects or tasks")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow changes to the current project until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()
			p, err := resolveWith(ctx, rt.Engine)
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = rt.Config.Feed.PollInterval.Std()
			}
			broker := feed.NewBroker(rt.Engine.Repo, feed.Options{Interval: interval, Log: log})
			if err := broker.Init(ctx); err != nil {
				return err
			}
			sub := broker.Subscribe(feed.Filter{ProjectID: p.ID})
			defer sub.Close()
			go func() {
				if err := broker.Run(ctx); err != nil {
					log.WithError(err).Error("watch: feed stopped")
				}
			}()
			loc := rt.Engine.Location()
			fmt.Printf("Watching %s (%s)\n", p.Name, p.ID)
			for {
				select {
				case <-ctx.Done():
					return nil
				case c, ok := <-sub.C():
					if !ok {
						return sub.Err()
					}
					if viper.GetBool("json") {
						if err := printJSON(c); err != nil {
							return err
						}
						continue
					}
					fmt.Println(describeChange(c, loc))
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (defaults to feed.poll_interval)")
	return cmd
}

func describeChange(c feed.Change, loc *time.Location) string {
	line := fmt.Sprintf("#%d %s %s %s", c.EventID, c.Op, c.Table, c.EntityID)
	switch {
	case c.Task != nil:
		t := c.Task
		line += fmt.Sprintf(" %s %s..%s", t.Name, formatDay(&t.StartDate, loc), formatDay(&t.EndDate, loc))
	case c.Project != nil:
		line += fmt.Sprintf(" %s open=%s", c.Project.Name, formatDay(c.Project.OpenDate, loc))
	}
	if c.ActorID != "" {
		line += " by " + c.ActorID
	}
	return line
}
