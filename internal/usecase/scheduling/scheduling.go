// Package scheduling fires the periodic maintenance passes (triage, mission
// sweep, heal sweep, cache purge). Each firing only enqueues a job; the
// worker pool does the work.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionTriage       ScheduledAction = "triage"
	ActionMissionSweep ScheduledAction = "mission_sweep"
	ActionHealSweep    ScheduledAction = "heal_sweep"
	ActionCachePurge   ScheduledAction = "cache_purge"
)

// jobKinds maps each action to the job it enqueues.
var jobKinds = map[ScheduledAction]string{
	ActionTriage:       domain.JobTriagePass,
	ActionMissionSweep: domain.JobMissionsSweep,
	ActionHealSweep:    domain.JobHealingSweep,
	ActionCachePurge:   domain.JobCachePurge,
}

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	Action   ScheduledAction
}

// TasksFromConfig returns the tasks for every non-empty schedule in cfg.
func TasksFromConfig(cfg config.SchedulerConfig) []ScheduledTask {
	var tasks []ScheduledTask
	add := func(name, schedule string, action ScheduledAction) {
		if schedule != "" {
			tasks = append(tasks, ScheduledTask{Name: name, Schedule: schedule, Action: action})
		}
	}
	add("triage", cfg.Triage, ActionTriage)
	add("mission-sweep", cfg.MissionSweep, ActionMissionSweep)
	add("heal-sweep", cfg.HealSweep, ActionHealSweep)
	add("cache-purge", cfg.CachePurge, ActionCachePurge)
	return tasks
}

// Scheduler runs tasks on a recurring schedule using cron expressions or durations.
type Scheduler struct {
	cron    *cron.Cron
	actions map[ScheduledAction]func(ctx context.Context) error
	entries map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[ScheduledAction]func(ctx context.Context) error),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// RegisterQueueActions makes every known action enqueue its maintenance job on q.
func (s *Scheduler) RegisterQueueActions(q domain.JobQueue) {
	for action, kind := range jobKinds {
		s.RegisterAction(action, EnqueueJob(q, kind))
	}
}

// EnqueueJob returns an action that enqueues an empty job of kind on the
// maintenance queue.
func EnqueueJob(q domain.JobQueue, kind string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := q.Enqueue(ctx, domain.JobSpec{Queue: domain.QueueMaintenance, Kind: kind})
		return err
	}
}

// AddTask adds a scheduled task. The schedule can be a cron expression or a duration string.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	if _, exists := s.entries[task.Name]; exists {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	taskName := task.Name
	logger := s.logger
	s.entries[task.Name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil {
			logger.Debug("scheduler stopped, skipping task", "task", taskName)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		if err := fn(taskCtx); err != nil {
			logger.Warn("scheduled task failed", "task", taskName, "error", err)
			return
		}
		logger.Debug("scheduled task fired", "task", taskName)
	}))

	logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// AddTasks adds every task, stopping at the first error.
func (s *Scheduler) AddTasks(tasks []ScheduledTask) error {
	for _, t := range tasks {
		if err := s.AddTask(t); err != nil {
			return err
		}
	}
	return nil
}

// NextRun returns when the named task fires next, or nil if it is unknown
// or the scheduler is not running.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry := s.cron.Entry(id)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()

	// Running jobs take s.mu to read the context.
	<-s.cron.Stop().Done()
	return nil
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// ParseSchedule exposes schedule parsing for config validation.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
