package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiftbot/internal/app"
	"shiftbot/internal/domain"
	"shiftbot/internal/repo"
	shiftbotsdk "shiftbot/sdk/go"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Registry.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := newTable("Entity", "Status", "Count")
				for _, group := range []struct {
					name   string
					counts map[string]int
				}{{"requests", st.Requests}, {"tasks", st.Tasks}, {"approvals", st.Approvals}} {
					for _, status := range sortedKeys(group.counts) {
						tw.AppendRow(table.Row{group.name, status, group.counts[status]})
					}
				}
				tw.AppendRow(table.Row{"reminders", "pending", st.PendingReminders})
				tw.AppendRow(table.Row{"reminders", "sent", st.SentReminders})
				tw.Render()
				return nil
			})
		},
	}
}

func workloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workload",
		Short: "Open and finished work per member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				load, err := a.Registry.Workload(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(load)
				}
				tw := newTable("Member", "Open requests", "Open tasks", "Done requests", "Done tasks")
				for _, w := range load {
					tw.AppendRow(table.Row{w.MemberID, w.OpenRequests, w.OpenTasks, w.DoneRequests, w.DoneTasks})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func rosterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roster",
		Short: "Show teams and who is on duty now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ros, err := a.Registry.Roster(ctx)
				if err != nil {
					return err
				}
				now, err := a.Registry.ResponsibleParties(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"roster": ros, "responsible": now})
				}
				tw := newTable("Team", "Members")
				tw.AppendRow(table.Row{domain.TeamDay, strings.Join(ros.Day, ", ")})
				tw.AppendRow(table.Row{domain.TeamNight, strings.Join(ros.Night, ", ")})
				tw.AppendRow(table.Row{"on duty", strings.Join(now, ", ")})
				tw.Render()
				return nil
			})
		},
	}
}

func requestsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Registry.ListRequests(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Status", "Requester", "Assignee", "Created", "Text")
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Status, r.RequesterID, r.Assignee(), r.CreatedAt, r.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, in_progress or completed")
	return cmd
}

func tasksCmd() *cobra.Command {
	var status, assignee string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Registry.ListTasks(ctx, repo.TaskFilters{Status: status, AssigneeID: assignee})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Status", "Creator", "Assignee", "Deadline", "Text")
				for _, t := range items {
					deadline := ""
					if t.Deadline != nil {
						deadline = *t.Deadline
					}
					tw.AppendRow(table.Row{t.ID, t.Status, t.CreatorID, t.AssigneeID, deadline, t.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "assigned or done")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee id")
	return cmd
}

func remindersCmd() *cobra.Command {
	var owner string
	var all bool
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "List reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Registry.ListReminders(ctx, owner, all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Owner", "Fire at", "Sent", "Text")
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.OwnerID, r.FireAt, r.Sent, r.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().BoolVar(&all, "all", false, "include reminders already sent")
	return cmd
}

func logCmd() *cobra.Command {
	logCmd := &cobra.Command{Use: "log", Short: "Audit log"}
	var n int
	var entityKind string
	var entityID int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Registry.AuditLog(ctx, n, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor", "Payload")
				for _, e := range events {
					entity := e.EntityKind
					if e.EntityID != "" {
						entity += "#" + e.EntityID
					}
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "request, task, approval, reminder or roster")
	tail.Flags().Int64Var(&entityID, "entity-id", 0, "entity id")
	logCmd.AddCommand(tail)
	return logCmd
}

// remoteCmd queries a running bot over the admin API instead of opening the
// database file.
func remoteCmd() *cobra.Command {
	var url, token string
	remote := &cobra.Command{Use: "remote", Short: "Query a running bot over its admin API"}
	remote.PersistentFlags().StringVar(&url, "url", "http://127.0.0.1:8080", "bot base URL")
	remote.PersistentFlags().StringVar(&token, "token", os.Getenv("SHIFTBOT_TOKEN"), "bearer token (see shiftbot token)")
	client := func() *shiftbotsdk.Client { return shiftbotsdk.New(url, token) }

	remote.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	})
	remote.AddCommand(&cobra.Command{
		Use:   "roster",
		Short: "Teams and who is on duty now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ros, err := client().Roster(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(ros)
		},
	})
	var status string
	requests := &cobra.Command{
		Use:   "requests",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().Requests(cmd.Context(), status)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable("ID", "Status", "Requester", "Assignee", "Text")
			for _, r := range items {
				tw.AppendRow(table.Row{r.ID, r.Status, r.RequesterID, r.AssigneeID, r.Text})
			}
			tw.Render()
			return nil
		},
	}
	requests.Flags().StringVar(&status, "status", "", "pending, in_progress or completed")
	remote.AddCommand(requests)
	var n int
	events := &cobra.Command{
		Use:   "events",
		Short: "Recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().Events(cmd.Context(), n, "", 0)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	events.Flags().IntVar(&n, "n", 20, "number of events")
	remote.AddCommand(events)
	return remote
}

// --- helpers ---

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
