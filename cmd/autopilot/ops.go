package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autopilot/internal/domain"
	"autopilot/internal/usecase"
	"autopilot/internal/usecase/triage"
)

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, cfgPath string, fn func(*app) error) error {
	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(a)
}

func newTriageCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "triage",
		Short: "Run one backlog triage pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				report, err := a.triage.Triage(cmd.Context())
				printTriageReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
}

func printTriageReport(out io.Writer, r triage.Report) {
	fmt.Fprintf(out, "considered %d, assigned %s, busy %d, unroutable %d, evicted %d\n",
		r.Considered, color.GreenString("%d", len(r.Assignments)), r.Busy, r.Unroutable, r.Evicted)
	if len(r.Assignments) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tAGENT\tCONVERSATION\tTITLE")
	for _, as := range r.Assignments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", as.ItemID, as.AgentName, as.ConversationID, usecase.Headline(as.Title, 50))
	}
	w.Flush()
}

func newHealCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "heal",
		Short: "Sweep the failed-job store now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				r, err := a.healer.Sweep(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, retried %s, reported %s, duplicates %d, ignored %d\n",
					r.Scanned, color.GreenString("%d", r.Retried), color.YellowString("%d", r.Reported), r.Duplicates, r.Ignored)
				return err
			})
		},
	}
}

func newMissionsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "missions",
		Short: "List, schedule and dispatch scheduled missions",
	}

	var conversationID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled missions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				missions, err := a.db.ListMissions(cmd.Context(), conversationID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tEXECUTE AT\tSTATUS\tRUN\tPROMPT")
				for _, m := range missions {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.ExecuteAt.Local().Format(time.DateTime),
						missionStatus(m.Status), m.RunConversationID, usecase.Headline(m.Prompt, 50))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&conversationID, "conversation", "", "only missions created from this conversation")

	var (
		at    string
		agent string
	)
	add := &cobra.Command{
		Use:   "add PROMPT...",
		Short: "Schedule a prompt to run in a fresh conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseWhen(at, time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				m := &domain.ScheduledMission{Prompt: strings.Join(args, " "), ExecuteAt: when.UTC()}
				if agent != "" {
					ag, err := a.db.GetAgentByName(cmd.Context(), agent)
					if err != nil {
						return err
					}
					m.AgentID = ag.ID
				}
				if err := a.db.CreateMission(cmd.Context(), m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s at %s\n", color.GreenString("scheduled"), m.ID, when.Local().Format(time.DateTime))
				return nil
			})
		},
	}
	add.Flags().StringVar(&at, "at", "1m", "RFC 3339 time or delay from now (e.g. 30m)")
	add.Flags().StringVarP(&agent, "agent", "a", "", "agent name to run the mission")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Dispatch every due mission now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				queued, err := a.dispatcher.SweepMissions(cmd.Context())
				if err != nil {
					return err
				}
				done, err := a.newWorker().Drain(cmd.Context(), domain.QueueDefault)
				fmt.Fprintf(cmd.OutOrStdout(), "due %d, dispatched %d\n", queued, done)
				return err
			})
		},
	}

	cmd.AddCommand(list, add, sweep)
	return cmd
}

// parseWhen accepts an RFC 3339 timestamp or a delay relative to now.
func parseWhen(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(strings.TrimPrefix(s, "+"))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: want RFC 3339 time or duration", s)
	}
	if d < 0 {
		return time.Time{}, fmt.Errorf("invalid --at %q: delay must not be negative", s)
	}
	return now.Add(d), nil
}

func missionStatus(s domain.MissionStatus) string {
	switch s {
	case domain.MissionCompleted:
		return color.GreenString(string(s))
	case domain.MissionFailed:
		return color.RedString(string(s))
	case domain.MissionRunning:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}

func newBacklogCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Manage the Kanban backlog",
	}

	var item domain.BacklogItem
	var priority, status, agent string
	add := &cobra.Command{
		Use:   "add TITLE...",
		Short: "Add a backlog item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item.Title = strings.Join(args, " ")
			item.Priority = domain.Priority(priority)
			item.Status = domain.BacklogStatus(status)
			if !item.Priority.Valid() {
				return fmt.Errorf("invalid priority %q", priority)
			}
			if !item.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				if agent != "" {
					ag, err := a.db.GetAgentByName(cmd.Context(), agent)
					if err != nil {
						return err
					}
					item.AgentID = ag.ID
				}
				if err := a.db.CreateItem(cmd.Context(), &item); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("created"), item.ID)
				return nil
			})
		},
	}
	add.Flags().StringVarP(&item.Description, "description", "d", "", "item description")
	add.Flags().StringVarP(&priority, "priority", "p", string(domain.PriorityMedium), "high, medium or low")
	add.Flags().StringVarP(&status, "status", "s", string(domain.BacklogHold), "hold, todo, in_progress or done")
	add.Flags().StringVarP(&agent, "agent", "a", "", "assign to this agent name")
	add.Flags().StringSliceVarP(&item.Tags, "tag", "t", nil, "tag (repeatable)")

	var statuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List backlog items by priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f domain.BacklogFilter
			for _, s := range statuses {
				f.Statuses = append(f.Statuses, domain.BacklogStatus(s))
			}
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				items, err := a.db.ListItems(cmd.Context(), f)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tAGENT\tTITLE")
				for _, it := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.ID, priorityLabel(it.Priority), it.Status, it.AgentID,
						usecase.Headline(it.Title, 60))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringSliceVarP(&statuses, "status", "s", nil, "filter by status (repeatable)")

	cmd.AddCommand(add, list)
	return cmd
}

func priorityLabel(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return color.RedString(string(p))
	case domain.PriorityLow:
		return color.New(color.Faint).Sprint(string(p))
	default:
		return string(p)
	}
}
