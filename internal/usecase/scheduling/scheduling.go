package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fleetcare/internal/domain"
)

// Router delivers a task envelope to a named agent.
type Router interface {
	RouteTask(ctx context.Context, name string, env domain.TaskEnvelope) (domain.Payload, error)
}

// Task routes one envelope to an agent on a recurring schedule.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	Agent    string
	Type     string
	Payload  domain.Payload
	OneShot  bool
}

// Scheduler fires routed tasks using cron expressions or durations.
type Scheduler struct {
	cron       *cron.Cron
	router     Router
	bus        domain.EventBus
	runTimeout time.Duration
	entries    map[string]cron.EntryID // task name → entry
	logger     *slog.Logger
	mu         sync.Mutex
	started    bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunTimeout bounds every fired task. Defaults to five minutes.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithEventBus publishes a schedule.fired event after every run.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// NewScheduler creates a scheduler routing through router.
func NewScheduler(router Router, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:       cron.New(),
		router:     router,
		runTimeout: 5 * time.Minute,
		entries:    make(map[string]cron.EntryID),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTask schedules task. Names are unique; the schedule can be a cron
// expression or a duration string.
func (s *Scheduler) AddTask(task Task) error {
	switch {
	case task.Name == "":
		return fmt.Errorf("scheduler: task name is required: %w", domain.ErrInvalidInput)
	case task.Agent == "" || task.Type == "":
		return fmt.Errorf("scheduler: task %q needs an agent and a type: %w", task.Name, domain.ErrInvalidInput)
	}
	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[task.Name]; exists {
		return fmt.Errorf("scheduler: task %q: %w", task.Name, domain.ErrDuplicate)
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(task)
		if task.OneShot {
			s.mu.Lock()
			s.cron.Remove(entryID)
			delete(s.entries, task.Name)
			s.mu.Unlock()
		}
	}))
	s.entries[task.Name] = entryID

	s.logger.Info("task added to scheduler",
		"name", task.Name,
		"schedule", task.Schedule,
		"agent", task.Agent,
		"task_type", task.Type,
	)
	return nil
}

// run routes one firing of task. Failures are logged and never propagate.
func (s *Scheduler) run(task Task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		s.logger.Debug("scheduler stopped, skipping task", "task", task.Name)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.router.RouteTask(taskCtx, task.Agent, domain.NewTask(task.Type, task.Payload.Clone()))
	elapsed := time.Since(start)

	payload := domain.ScheduleEventPayload{Task: task.Name, TaskType: task.Type, Duration: elapsed.String()}
	if err != nil {
		payload.Error = err.Error()
		s.logger.Warn("scheduled task failed",
			"task", task.Name,
			"agent", task.Agent,
			"error", err,
			"code", domain.ErrorCodeOf(err),
			"duration", elapsed)
	} else {
		s.logger.Info("scheduled task completed",
			"task", task.Name,
			"agent", task.Agent,
			"duration", elapsed)
	}
	s.publish(ctx, task.Agent, payload)
}

func (s *Scheduler) publish(ctx context.Context, agent string, payload domain.ScheduleEventPayload) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.bus.Publish(context.WithoutCancel(ctx), domain.Event{
		Type:    domain.EventScheduleFired,
		Agent:   agent,
		Payload: data,
	})
}

// RemoveTask unschedules a task by name.
func (s *Scheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("scheduler: task %q: %w", name, domain.ErrNotFound)
	}
	s.cron.Remove(entryID)
	delete(s.entries, name)
	s.logger.Info("task removed from scheduler", "name", name)
	return nil
}

// Tasks returns the scheduled task names in sorted order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns the next run time of a task, or nil if unknown or the
// scheduler has not started.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
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

	// Running jobs take the lock, so wait for them outside it.
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()
	return nil
}

// ParseSchedule exposes schedule parsing for config validation.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
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

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
