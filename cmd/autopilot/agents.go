package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autopilot/internal/domain"
)

// defaultFleet is the agent roster triage routes to out of the box.
func defaultFleet() []domain.Agent {
	return []domain.Agent{
		{
			Name:    "Manager",
			Persona: "You are the Manager. You break goals into backlog items, keep the Kanban board current and delegate specialist work.",
			Tools:   []string{"kanban", "schedule_mission"},
			Color:   "blue",
		},
		{
			Name:    "Developer",
			Persona: "You are the Developer. You design and fix software, and you own every bug report raised by the self-healer.",
			Tools:   []string{"kanban", "system_debugger"},
			Color:   "green",
		},
		{
			Name:    "Researcher",
			Persona: "You are the Researcher. You find, analyze and summarize information, citing what you relied on.",
			Tools:   []string{"kanban", "schedule_mission"},
			Color:   "magenta",
		},
		{
			Name:    "Auditor",
			Persona: "You are the Auditor. You review work for security and correctness and report findings plainly.",
			Tools:   []string{"kanban", "system_debugger"},
			Color:   "yellow",
		},
	}
}

func newAgentsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents",
	}

	var force bool
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create the default Manager, Developer, Researcher and Auditor agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				return seedAgents(cmd.Context(), a.db, defaultFleet(), force, cmd.OutOrStdout())
			})
		},
	}
	seed.Flags().BoolVar(&force, "force", false, "overwrite agents that already exist")

	list := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				agents, err := a.db.ListAgents(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tMODEL\tTOOLS")
				for _, ag := range agents {
					fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", ag.ID, ag.Name, ag.Model, ag.Tools)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(seed, list)
	return cmd
}

// seedAgents saves each agent unless one with the same name exists. With
// force the existing agent keeps its ID and is overwritten.
func seedAgents(ctx context.Context, agents domain.AgentStore, fleet []domain.Agent, force bool, out io.Writer) error {
	for _, ag := range fleet {
		existing, err := agents.GetAgentByName(ctx, ag.Name)
		switch {
		case err == nil && !force:
			fmt.Fprintf(out, "%s %s\n", color.New(color.Faint).Sprint("exists "), ag.Name)
			continue
		case err == nil:
			ag.ID = existing.ID
			ag.CreatedAt = existing.CreatedAt
		case !errors.Is(err, domain.ErrAgentNotFound):
			return err
		}
		if err := agents.SaveAgent(ctx, &ag); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s (%s)\n", color.GreenString("saved  "), ag.Name, ag.ID)
	}
	return nil
}
