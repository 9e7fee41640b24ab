package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"autopilot/internal/adapter/llm"
	"autopilot/internal/adapter/queue"
	"autopilot/internal/adapter/store"
	"autopilot/internal/adapter/tool"
	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
	"autopilot/internal/infra/logger"
	"autopilot/internal/infra/tracer"
	"autopilot/internal/usecase"
	"autopilot/internal/usecase/eventbus"
	"autopilot/internal/usecase/healing"
	"autopilot/internal/usecase/triage"
)

// app holds the wired components shared by every command.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	db    *store.DB
	queue *queue.Queue
	bus   *eventbus.Bus
	tools *tool.Registry

	inbox        *usecase.Inbox
	cache        *usecase.InferenceCache
	orchestrator *usecase.Orchestrator
	pipeline     *usecase.ToolPipeline
	healer       *healing.Service
	dispatcher   *triage.Dispatcher
	triage       *triage.Service

	closers []func(context.Context) error
}

// openApp loads the config and wires the core: store, queue, bus, model,
// tools and the use cases on top of them.
func openApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func(context.Context) error { return logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, tracerShutdown)

	a.db, err = store.Open(cfg.Database.Path, store.Options{
		BusyRetries: cfg.Database.BusyRetries,
		BusyBackoff: cfg.Database.BusyBackoff,
		Logger:      logger.Component(log, "store"),
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("database: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.db.Close() })

	a.bus = eventbus.New(logger.Component(log, "eventbus"))
	a.closers = append(a.closers, func(context.Context) error { a.bus.Close(); return nil })

	a.queue = queue.New(a.db, queue.Defaults{
		MaxTries: cfg.Queue.MaxTries,
		Timeout:  cfg.Queue.Timeout,
		Backoff:  cfg.Queue.Backoff,
	}, logger.Component(log, "queue"))

	providers, err := llm.NewRegistryFromConfig(cfg.LLM, logger.Component(log, "llm"))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("llm: %w", err)
	}
	model, err := providers.Default()
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("llm: %w", err)
	}

	if err := a.initTools(); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("tools: %w", err)
	}
	a.initUsecases(model)
	return a, nil
}

func (a *app) initTools() error {
	toolLog := logger.Component(a.log, "tools")
	a.tools = tool.NewRegistry(a.cfg.Tools, toolLog)
	for _, t := range []domain.Tool{
		tool.NewKanbanTool(a.db, a.bus, toolLog),
		tool.NewScheduleMissionTool(a.db, a.bus, toolLog),
		tool.NewSystemDebuggerTool(a.db, a.queue, a.db, toolLog),
	} {
		if err := a.tools.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) initUsecases(model domain.LLMProvider) {
	cfg := a.cfg
	locker := usecase.NewConversationLocker()

	var guard *usecase.ContextGuard
	if cfg.Agent.MaxContextTokens > 0 {
		guard = usecase.NewContextGuard(usecase.ContextGuardConfig{MaxTokens: cfg.Agent.MaxContextTokens},
			llm.NewTiktokenCounter(logger.Component(a.log, "tokens")), logger.Component(a.log, "context"))
	}
	var compressor *usecase.Compressor
	if cfg.Agent.Compression.Enabled {
		compressor = usecase.NewCompressor(a.db, model, cfg.LLM.FastModel, cfg.Agent.Compression, a.bus,
			logger.Component(a.log, "compressor"))
	}
	a.cache = usecase.NewInferenceCache(a.db, cfg.Agent.Cache, logger.Component(a.log, "cache"))
	a.inbox = usecase.NewInbox(a.db, a.db, a.queue, a.bus, logger.Component(a.log, "inbox"))

	a.orchestrator = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Conversations:  a.db,
		Agents:         a.db,
		Learner:        a.db,
		LLM:            model,
		Tools:          a.tools,
		Queue:          a.queue,
		ContextBuilder: usecase.NewContextBuilder(a.db, a.db, a.db, cfg.Agent, cfg.Locale, guard, logger.Component(a.log, "context")),
		Compressor:     compressor,
		Cache:          a.cache,
		Router:         usecase.NewModelRouter(cfg.LLM),
		Locker:         locker,
		Bus:            a.bus,
		Logger:         logger.Component(a.log, "orchestrator"),
		StepBudget:     cfg.Agent.StepBudget,
		StallAfter:     cfg.Agent.StallAfter,
	})
	a.pipeline = usecase.NewToolPipeline(usecase.ToolPipelineDeps{
		Conversations: a.db,
		Agents:        a.db,
		Traces:        a.db,
		Tools:         a.tools,
		Queue:         a.queue,
		Locker:        locker,
		Bus:           a.bus,
		Logger:        logger.Component(a.log, "tool_pipeline"),
	})
	a.healer = healing.NewService(healing.Deps{
		Conversations: a.db,
		Failed:        a.queue,
		Backlog:       a.db,
		Queue:         a.queue,
		Locker:        locker,
		Bus:           a.bus,
		Logger:        logger.Component(a.log, "healing"),
		Config:        cfg.Healing,
	})
	a.dispatcher = triage.NewDispatcher(triage.DispatcherDeps{
		Inbox:    a.inbox,
		Backlog:  a.db,
		Missions: a.db,
		Queue:    a.queue,
		Bus:      a.bus,
		Logger:   logger.Component(a.log, "dispatcher"),
	})
	a.triage = triage.NewService(triage.Deps{
		Backlog:    a.db,
		Agents:     a.db,
		Dispatcher: a.dispatcher,
		Bus:        a.bus,
		Logger:     logger.Component(a.log, "triage"),
		Config:     cfg.Triage,
	})
}

// newWorker returns a worker pool with a handler for every job kind.
func (a *app) newWorker() *queue.Worker {
	w := queue.NewWorker(a.queue, queue.WorkerConfig{
		Concurrency:  a.cfg.Queue.Concurrency,
		PollInterval: a.cfg.Queue.PollInterval,
	}, logger.Component(a.log, "worker"))

	w.Handle(domain.JobReasoningCycle, a.orchestrator.HandleJob)
	w.Handle(domain.JobToolBatch, a.pipeline.HandleJob)
	w.Handle(domain.JobHealingInline, a.healer.HandleInlineJob)
	w.Handle(domain.JobHealingSweep, a.healer.HandleSweepJob)
	w.Handle(domain.JobTriagePass, a.triage.HandleJob)
	w.Handle(domain.JobMissionsSweep, a.dispatcher.HandleSweepJob)
	w.Handle(domain.JobMissionDispatch, a.dispatcher.HandleMissionJob)
	w.Handle(domain.JobCachePurge, a.purgeCache)
	return w
}

func (a *app) purgeCache(ctx context.Context, _ domain.Job) error {
	_, err := a.cache.Purge(ctx)
	return err
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
