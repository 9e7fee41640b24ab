// Package healing reacts to failures: it coaches an agent after a failed tool
// call and sweeps the failed-job store into retries or backlog work.
package healing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
	"autopilot/internal/infra/metrics"
	"autopilot/internal/usecase"
)

// Decision is what the sweep did with one failed job.
type Decision string

const (
	DecisionRetry      Decision = "retry"
	DecisionBugReport  Decision = "bug_report"
	DecisionCoaching   Decision = "coaching"
	DecisionDuplicate  Decision = "duplicate"
	DecisionIgnored    Decision = "ignored"
	DecisionRemediate  Decision = "remediate"
	DecisionDepthLimit Decision = "depth_limit"
)

// Backlog titles for escalated failures.
const (
	CodeErrorTitle  = "FIX: Critical Code Error in Queue"
	AgentErrorTitle = "FIX: Agent Logic/Hallucination Error in Queue"
)

// Deps holds the service's collaborators.
type Deps struct {
	Conversations domain.ConversationStore
	Failed        domain.FailedJobStore
	Backlog       domain.BacklogStore
	Queue         domain.JobQueue
	Locker        *usecase.ConversationLocker
	Bus           domain.EventBus // optional
	Logger        *slog.Logger
	Config        config.HealingConfig
}

// Service implements inline remediation and the failed-job sweep.
type Service struct {
	deps Deps
}

// NewService creates a healing service.
func NewService(deps Deps) *Service {
	if deps.Config.MaxDepth <= 0 {
		deps.Config.MaxDepth = 3
	}
	if deps.Config.SweepLimit <= 0 {
		deps.Config.SweepLimit = 50
	}
	if deps.Config.DiagnosticTool == "" {
		deps.Config.DiagnosticTool = "system_debugger"
	}
	if deps.Locker == nil {
		deps.Locker = usecase.NewConversationLocker()
	}
	return &Service{deps: deps}
}

// InlineRequest describes a failed tool call to remediate.
type InlineRequest struct {
	ConversationID string
	ToolName       string
	Error          string
	Kind           domain.ErrorKind
	Depth          int
	StepBudget     int
}

// DepthLimitMessage is appended when remediation gives up.
func DepthLimitMessage(maxDepth int) string {
	return fmt.Sprintf("Healing depth limit reached (%d). Human intervention required.", maxDepth)
}

// HandleInlineJob runs a healing.inline job.
func (s *Service) HandleInlineJob(ctx context.Context, job domain.Job) error {
	var p domain.HealingPayload
	if err := domain.DecodePayload(job, &p); err != nil {
		return err
	}
	return s.HealInline(ctx, InlineRequest{
		ConversationID: p.ConversationID,
		ToolName:       p.ToolName,
		Error:          p.Error,
		Kind:           p.Kind,
		Depth:          p.Depth,
		StepBudget:     p.StepBudget,
	})
}

// HealInline injects a remediation instruction and queues the next cycle at
// the same depth. Past MaxDepth it stops the conversation instead.
func (s *Service) HealInline(ctx context.Context, req InlineRequest) error {
	const op = "healing.HealInline"

	unlock, err := s.deps.Locker.Lock(ctx, req.ConversationID)
	if err != nil {
		return domain.NewDomainError(op, err, "conversation lock")
	}
	defer unlock()

	conv, err := s.deps.Conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	logger := s.deps.Logger.With("conversation_id", conv.ID, "depth", req.Depth)
	if conv.State != domain.StateHealing {
		logger.WarnContext(ctx, "stale healing request ignored", "state", conv.State)
		return nil
	}

	kind := resolveKind(req.Kind, req.Error)
	maxDepth := s.deps.Config.MaxDepth

	if req.Depth > maxDepth {
		if err := usecase.AppendSystemMessage(ctx, s.deps.Conversations, conv.ID, DepthLimitMessage(maxDepth)); err != nil {
			return domain.WrapOp(op, err)
		}
		if err := usecase.MoveState(ctx, s.deps.Conversations, conv, domain.StateDone); err != nil {
			return err
		}
		metrics.RecordHealing("inline", string(DecisionDepthLimit))
		usecase.Publish(ctx, s.deps.Bus, domain.EventHealingExhausted, conv.ID, map[string]any{
			"tool":  req.ToolName,
			"depth": req.Depth,
		})
		logger.WarnContext(ctx, "healing depth limit reached", "tool", req.ToolName, "max_depth", maxDepth)
		return nil
	}

	if req.StepBudget <= 0 {
		if err := usecase.AppendSystemMessage(ctx, s.deps.Conversations, conv.ID, usecase.BudgetExhaustedMessage); err != nil {
			return domain.WrapOp(op, err)
		}
		return usecase.MoveState(ctx, s.deps.Conversations, conv, domain.StateDone)
	}

	note := s.remediation(req, kind)
	if err := usecase.AppendSystemMessage(ctx, s.deps.Conversations, conv.ID, note); err != nil {
		return domain.WrapOp(op, err)
	}
	err = usecase.EnqueueReasoning(ctx, s.deps.Queue, domain.ReasoningPayload{
		ConversationID: conv.ID,
		StepBudget:     req.StepBudget,
		Depth:          req.Depth,
	})
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if err := usecase.MoveState(ctx, s.deps.Conversations, conv, domain.StateIdle); err != nil {
		return err
	}

	metrics.RecordHealing("inline", string(DecisionRemediate))
	usecase.Publish(ctx, s.deps.Bus, domain.EventHealingApplied, conv.ID, map[string]any{
		"tool":  req.ToolName,
		"kind":  kind.String(),
		"depth": req.Depth,
	})
	logger.InfoContext(ctx, "remediation injected", "tool", req.ToolName, "kind", kind)
	return nil
}

// remediation builds the system message that steers the next cycle.
func (s *Service) remediation(req InlineRequest, kind domain.ErrorKind) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELF-HEALING ENGAGED (attempt %d/%d)\n", req.Depth, s.deps.Config.MaxDepth)
	fmt.Fprintf(&sb, "The tool '%s' failed with: %q\n\n", req.ToolName, req.Error)
	sb.WriteString("REQUIRED ACTIONS:\n")
	fmt.Fprintf(&sb, "1. DIAGNOSE: use `%s` to inspect the cause. Do not guess.\n", s.deps.Config.DiagnosticTool)
	sb.WriteString("2. PROPOSE: state the fix for the root cause.\n")
	sb.WriteString("3. EXECUTE: apply the fix, then retry the original intent.\n\n")
	sb.WriteString("Do not ask the user for permission first. Repeated failure escalates to a human.")
	if hint := kindHint(kind); hint != "" {
		sb.WriteString("\n\nHINT: " + hint)
	}
	return sb.String()
}

func kindHint(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindTransient:
		return "the failure looks transient (lock, timeout or dropped connection). Retrying the same call once is reasonable."
	case domain.KindToolLogic:
		return "the tool rejected its input. Re-read its parameters and correct the arguments."
	case domain.KindFatalDefect:
		return "this looks like a code defect. Work around it if you can; otherwise record it on the backlog."
	case domain.KindAgentReasoning:
		return "the requested tool, agent or action does not exist. Check what is available before retrying."
	}
	return ""
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Scanned    int `json:"scanned"`
	Retried    int `json:"retried"`
	Reported   int `json:"reported"`
	Duplicates int `json:"duplicates"`
	Ignored    int `json:"ignored"`
}

// HandleSweepJob runs a healing.sweep job.
func (s *Service) HandleSweepJob(ctx context.Context, _ domain.Job) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep classifies up to SweepLimit failed jobs. Transient failures are
// retried, code defects and reasoning errors become backlog items and the
// rest are left for a human. Per-job errors do not stop the sweep.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	const op = "healing.Sweep"
	var report SweepReport

	failed, err := s.deps.Failed.ListFailed(ctx, s.deps.Config.SweepLimit)
	if err != nil {
		return report, domain.WrapOp(op, err)
	}

	var errs []error
	for _, job := range failed {
		report.Scanned++
		decision, err := s.treat(ctx, job)
		if err != nil {
			s.deps.Logger.Error("failed job not treated", "uuid", job.UUID, "kind", job.Kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", job.UUID, err))
			continue
		}
		metrics.RecordHealing("sweep", string(decision))
		switch decision {
		case DecisionRetry:
			report.Retried++
		case DecisionBugReport, DecisionCoaching:
			report.Reported++
		case DecisionDuplicate:
			report.Duplicates++
		default:
			report.Ignored++
		}
	}

	if report.Scanned > 0 {
		usecase.Publish(ctx, s.deps.Bus, domain.EventHealingSwept, "", report)
		s.deps.Logger.Info("failed jobs swept",
			"scanned", report.Scanned,
			"retried", report.Retried,
			"reported", report.Reported,
			"duplicates", report.Duplicates,
			"ignored", report.Ignored,
		)
	}
	if len(errs) > 0 {
		return report, domain.WrapOp(op, errors.Join(errs...))
	}
	return report, nil
}

func (s *Service) treat(ctx context.Context, job domain.FailedJob) (Decision, error) {
	switch ClassifyText(job.Exception) {
	case domain.KindTransient:
		if err := s.deps.Failed.Retry(ctx, job.UUID); err != nil {
			return "", err
		}
		s.deps.Logger.Info("retrying transient failure", "uuid", job.UUID, "kind", job.Kind)
		return DecisionRetry, nil
	case domain.KindFatalDefect:
		return s.escalate(ctx, job, CodeErrorTitle, DecisionBugReport, "bug")
	case domain.KindAgentReasoning:
		return s.escalate(ctx, job, AgentErrorTitle, DecisionCoaching, "coaching")
	}
	return DecisionIgnored, nil
}

// escalate files a backlog item for the failure unless an open one already
// covers it, then drops the job from the failed store.
func (s *Service) escalate(ctx context.Context, job domain.FailedJob, title string, decision Decision, tag string) (Decision, error) {
	summary, location := splitException(job.Exception)

	exists, err := s.deps.Backlog.ExistsOpen(ctx, title, summary)
	if err != nil {
		return "", err
	}
	if exists {
		decision = DecisionDuplicate
	} else {
		item := &domain.BacklogItem{
			Title: title,
			Description: fmt.Sprintf(
				"Automated Bug Report from Self-Healer.\n\nError: %s\nLocation: %s\nUUID: %s\n\nAction: Investigate code, fix bug, then retry job.",
				summary, location, job.UUID,
			),
			Priority: domain.PriorityHigh,
			Status:   domain.BacklogTodo,
			Tags:     []string{"self_healing", tag},
		}
		if err := s.deps.Backlog.CreateItem(ctx, item); err != nil {
			return "", err
		}
		usecase.Publish(ctx, s.deps.Bus, domain.EventBacklogUpdated, "", map[string]string{
			"item_id": item.ID,
			"title":   item.Title,
			"source":  "self_healing",
		})
		s.deps.Logger.Info("bug report filed", "uuid", job.UUID, "item_id", item.ID, "error", summary)
	}

	if err := s.deps.Failed.Forget(ctx, job.UUID); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		return "", err
	}
	return decision, nil
}
