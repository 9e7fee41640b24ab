package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingQueue captures enqueued specs.
type recordingQueue struct {
	mu    sync.Mutex
	specs []domain.JobSpec
}

func (q *recordingQueue) Enqueue(_ context.Context, spec domain.JobSpec) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.specs = append(q.specs, spec)
	return fmt.Sprintf("job-%d", len(q.specs)), nil
}

func (q *recordingQueue) kinds() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int)
	for _, s := range q.specs {
		out[s.Kind]++
	}
	return out
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionTriage, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{Name: "triage", Schedule: "50ms", Action: ActionTriage}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())

	err := s.AddTask(ScheduledTask{Name: "unknown", Schedule: "100ms", Action: "does_not_exist"})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestSchedulerDuplicateTask(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionTriage, func(context.Context) error { return nil })

	if err := s.AddTask(ScheduledTask{Name: "triage", Schedule: "1h", Action: ActionTriage}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(ScheduledTask{Name: "triage", Schedule: "2h", Action: ActionTriage}); err == nil {
		t.Fatal("expected error for duplicate task name")
	}
}

func TestSchedulerActionErrorKeepsRunning(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionHealSweep, func(ctx context.Context) error {
		count.Add(1)
		return fmt.Errorf("sweep failed")
	})
	if err := s.AddTask(ScheduledTask{Name: "heal", Schedule: "30ms", Action: ActionHealSweep}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 2 {
		t.Errorf("action fired %d times after errors, expected at least 2", c)
	}
}

func TestSchedulerContextCancellation(t *testing.T) {
	var sawCancel atomic.Bool

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionMissionSweep, func(ctx context.Context) error {
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	})
	if err := s.AddTask(ScheduledTask{Name: "missions", Schedule: "20ms", Action: ActionMissionSweep}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	s.Stop()

	if !sawCancel.Load() {
		t.Error("running action did not observe cancellation")
	}
}

func TestSchedulerQueueActionsEnqueueMaintenanceJobs(t *testing.T) {
	q := &recordingQueue{}
	s := NewScheduler(newTestLogger())
	s.RegisterQueueActions(q)

	tasks := TasksFromConfig(config.SchedulerConfig{
		Triage:       "40ms",
		MissionSweep: "40ms",
		HealSweep:    "40ms",
		CachePurge:   "40ms",
	})
	if err := s.AddTasks(tasks); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	kinds := q.kinds()
	for _, kind := range []string{domain.JobTriagePass, domain.JobMissionsSweep, domain.JobHealingSweep, domain.JobCachePurge} {
		if kinds[kind] < 1 {
			t.Errorf("no %s job enqueued (got %v)", kind, kinds)
		}
	}
	for _, spec := range q.specs {
		if spec.Queue != domain.QueueMaintenance {
			t.Errorf("job %s on queue %q, want %q", spec.Kind, spec.Queue, domain.QueueMaintenance)
		}
	}
}

func TestTasksFromConfigSkipsEmpty(t *testing.T) {
	tasks := TasksFromConfig(config.SchedulerConfig{Triage: "*/5 * * * *", HealSweep: "*/10 * * * *"})
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Action != ActionTriage || tasks[1].Action != ActionHealSweep {
		t.Errorf("unexpected tasks: %+v", tasks)
	}
}

func TestTasksFromDefaults(t *testing.T) {
	tasks := TasksFromConfig(config.Defaults().Scheduler)
	if len(tasks) != 4 {
		t.Fatalf("got %d tasks, want 4", len(tasks))
	}
	for _, task := range tasks {
		if _, err := ParseSchedule(task.Schedule); err != nil {
			t.Errorf("default schedule for %s does not parse: %v", task.Name, err)
		}
	}
}

func TestSchedulerNextRun(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionCachePurge, func(context.Context) error { return nil })
	if err := s.AddTask(ScheduledTask{Name: "purge", Schedule: "1h", Action: ActionCachePurge}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop()

	next := s.NextRun("purge")
	if next == nil {
		t.Fatal("expected a next run time")
	}
	if d := time.Until(*next); d < 59*time.Minute || d > time.Hour+time.Second {
		t.Errorf("next run in %v, want about 1h", d)
	}
	if s.NextRun("missing") != nil {
		t.Error("expected nil for unknown task")
	}
}

func TestSchedulerDoubleStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Start(context.Background())
	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"30m", false},
		{"10ms", false},
		{"", true},
		{"not a schedule", true},
		{"-5m", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseSchedule(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestConstantDelay(t *testing.T) {
	sched, err := ParseSchedule("90s")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := sched.Next(base); !got.Equal(base.Add(90 * time.Second)) {
		t.Errorf("Next = %v", got)
	}
}
