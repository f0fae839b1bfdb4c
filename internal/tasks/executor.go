package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

const defaultRunTimeout = 5 * time.Minute

// AgentRunner executes one run to completion. Satisfied by *agent.Runner.
type AgentRunner interface {
	RunSync(ctx context.Context, req agent.RunRequest) (agent.RunResult, error)
}

// ProjectLoader resolves the project configuration a task runs under.
type ProjectLoader func(ctx context.Context, id models.ProjectID) (models.Project, error)

// SessionOpener opens a synthetic session for tasks that don't pin one.
// Satisfied by *sessions.Store.
type SessionOpener interface {
	Create(ctx context.Context, projectID models.ProjectID, meta models.SessionMetadata) (models.Session, error)
}

// Executor schedules tasks and fires them through the agent runner. Cron
// tasks re-fire per their expression; one-shot tasks fire once at RunAt
// and are then marked completed.
type Executor struct {
	store       *Store
	runner      AgentRunner
	loadProject ProjectLoader
	sessions    SessionOpener
	logger      *observability.Logger

	cron   *cron.Cron
	parser cron.Parser

	mu      sync.Mutex
	entries map[string]cron.EntryID
	timers  map[string]*time.Timer
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewExecutor creates an executor. Call Start to begin firing.
func NewExecutor(store *Store, runner AgentRunner, loadProject ProjectLoader, sessions SessionOpener, logger *observability.Logger) *Executor {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Executor{
		store:       store,
		runner:      runner,
		loadProject: loadProject,
		sessions:    sessions,
		logger:      logger,
		cron:        cron.New(cron.WithParser(parser)),
		parser:      parser,
		entries:     make(map[string]cron.EntryID),
		timers:      make(map[string]*time.Timer),
	}
}

// ValidateCron reports whether expr parses under the executor's grammar.
func (e *Executor) ValidateCron(expr string) error {
	_, err := e.parser.Parse(expr)
	return err
}

// Start loads active tasks and begins scheduling. The context bounds all
// fired runs; cancel it or call Stop to shut down.
func (e *Executor) Start(ctx context.Context) error {
	tasks, err := e.store.ListActive(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.baseCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	for _, task := range tasks {
		if err := e.Schedule(task); err != nil {
			e.logger.Warn(ctx, "skipping unschedulable task",
				"taskId", task.ID, "error", err)
		}
	}
	e.cron.Start()
	e.logger.Info(ctx, "task executor started", "tasks", len(tasks))
	return nil
}

// Stop halts scheduling and waits for in-flight cron jobs to finish.
func (e *Executor) Stop() {
	e.mu.Lock()
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	cancel := e.cancel
	e.mu.Unlock()

	<-e.cron.Stop().Done()
	if cancel != nil {
		cancel()
	}
}

// Schedule registers one task with the live scheduler. Past-due one-shot
// tasks fire immediately.
func (e *Executor) Schedule(task ScheduledTask) error {
	if task.Cron != "" {
		entryID, err := e.cron.AddFunc(task.Cron, func() {
			e.fire(task)
		})
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.entries[task.ID] = entryID
		e.mu.Unlock()
		return nil
	}

	delay := time.Until(*task.RunAt)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		e.fire(task)
		e.mu.Lock()
		delete(e.timers, task.ID)
		e.mu.Unlock()
	})
	e.mu.Lock()
	e.timers[task.ID] = timer
	e.mu.Unlock()
	return nil
}

// Unschedule removes a task from the live scheduler without touching its
// stored status.
func (e *Executor) Unschedule(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entryID, ok := e.entries[taskID]; ok {
		e.cron.Remove(entryID)
		delete(e.entries, taskID)
	}
	if timer, ok := e.timers[taskID]; ok {
		timer.Stop()
		delete(e.timers, taskID)
	}
}

// fire executes one scheduled invocation end to end and records the
// outcome as a TaskRun.
func (e *Executor) fire(task ScheduledTask) {
	e.mu.Lock()
	base := e.baseCtx
	e.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	// Re-read status: the task may have been paused since scheduling.
	current, err := e.store.Get(base, task.ID)
	if err == nil && current.Status != TaskActive {
		return
	}

	timeout := defaultRunTimeout
	if task.TimeoutMs > 0 {
		timeout = time.Duration(task.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	started := time.Now().UTC()
	result, runErr := e.runTask(ctx, task)

	run := TaskRun{
		TaskID:     task.ID,
		Success:    runErr == nil && result.Status == models.TraceCompleted,
		TraceID:    result.TraceID,
		TokensUsed: result.Usage.Total(),
		CostUSD:    result.CostUSD,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	} else if result.Status != models.TraceCompleted {
		run.ErrorMessage = "run ended with status " + string(result.Status)
	}
	if _, err := e.store.RecordRun(base, run); err != nil {
		e.logger.Error(base, "recording task run failed", "taskId", task.ID, "error", err)
	}

	if task.RunAt != nil {
		if err := e.store.SetStatus(base, task.ID, TaskCompleted); err != nil {
			e.logger.Warn(base, "marking one-shot task completed failed",
				"taskId", task.ID, "error", err)
		}
	}

	e.logger.Info(base, "task fired",
		"taskId", task.ID, "success", run.Success, "traceId", string(run.TraceID))
}

func (e *Executor) runTask(ctx context.Context, task ScheduledTask) (agent.RunResult, error) {
	project, err := e.loadProject(ctx, task.ProjectID)
	if err != nil {
		return agent.RunResult{}, err
	}

	sessionID := task.SessionID
	if sessionID == "" {
		session, err := e.sessions.Create(ctx, task.ProjectID, models.SessionMetadata{
			Channel: "scheduled:" + task.Name,
		})
		if err != nil {
			return agent.RunResult{}, err
		}
		sessionID = session.ID
	}

	return e.runner.RunSync(ctx, agent.RunRequest{
		Project:     project,
		SessionID:   sessionID,
		UserMessage: task.Payload.Message,
		Variables:   task.Payload.Metadata,
	})
}
