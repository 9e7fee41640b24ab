package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"autopilot/internal/domain"
	"autopilot/internal/usecase"
	"autopilot/internal/usecase/eventbus"
)

type chatOptions struct {
	agent          string
	conversationID string
	title          string
	budget         int
	follow         bool
	timeout        time.Duration
}

func newChatCmd(cfgPath *string) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Append a user message and queue a reasoning cycle",
		Long: "Append a user message to a new or existing conversation and queue a reasoning cycle.\n" +
			"With --follow the workers run in this process and the conversation's events are streamed until the turn ends.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return chat(ctx, *cfgPath, strings.Join(args, " "), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.agent, "agent", "a", "", "agent name for a new conversation")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "continue this conversation")
	cmd.Flags().StringVar(&opts.title, "title", "", "title of a new conversation")
	cmd.Flags().IntVar(&opts.budget, "budget", 0, "step budget (0 uses the agent or config default)")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "run the workers and stream events until the turn ends")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "give up following after this long")
	return cmd
}

func chat(ctx context.Context, cfgPath, content string, opts chatOptions, out io.Writer) error {
	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	followCtx, stopFollow := context.WithTimeout(ctx, opts.timeout)
	defer stopFollow()

	conv, err := a.inbox.Submit(ctx, usecase.SubmitRequest{
		ConversationID: opts.conversationID,
		AgentName:      opts.agent,
		Title:          opts.title,
		Content:        content,
		StepBudget:     opts.budget,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", color.GreenString("conversation"), conv.ID)
	if !opts.follow {
		return nil
	}

	g, gctx := errgroup.WithContext(followCtx)
	events := eventbus.Follow(gctx, a.bus, conv.ID)
	worker := a.newWorker()
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		defer stopFollow()
		for e := range events {
			fmt.Fprintln(out, formatEvent(e))
			if e.Type != domain.EventCycleCompleted && e.Type != domain.EventHealingExhausted {
				continue
			}
			current, err := a.db.GetConversation(gctx, conv.ID)
			if err != nil {
				return err
			}
			if current.State == domain.StateDone {
				return printAnswer(gctx, a, conv.ID, out)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() == nil && followCtx.Err() == context.DeadlineExceeded {
		fmt.Fprintln(os.Stderr, color.YellowString("stopped following after %s", opts.timeout))
	}
	return nil
}

// printAnswer writes the last assistant or system message of the conversation.
func printAnswer(ctx context.Context, a *app, conversationID string, out io.Writer) error {
	msgs, err := a.db.Messages(ctx, conversationID)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if (m.Role == domain.RoleAssistant && m.Content != "") || m.Role == domain.RoleSystem {
			fmt.Fprintf(out, "\n%s\n%s\n", color.New(color.Bold).Sprint(m.Role+":"), m.Content)
			return nil
		}
	}
	return nil
}

// formatEvent renders one event as a coloured line.
func formatEvent(e domain.Event) string {
	typ := string(e.Type)
	var label string
	switch {
	case strings.HasPrefix(typ, "healing."), e.Type == domain.EventModelCallFailed, e.Type == domain.EventMissionFailed:
		label = color.RedString("%-20s", typ)
	case strings.HasPrefix(typ, "tool."):
		label = color.YellowString("%-20s", typ)
	case strings.HasPrefix(typ, "cycle."):
		label = color.CyanString("%-20s", typ)
	default:
		label = color.New(color.Faint).Sprintf("%-20s", typ)
	}
	ts := e.Timestamp.Local().Format("15:04:05")
	if len(e.Payload) == 0 {
		return ts + " " + label
	}
	return ts + " " + label + " " + string(e.Payload)
}
