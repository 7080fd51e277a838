package metrics

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reporter logs the collector summary on a schedule.
type Reporter struct {
	cron      *cron.Cron
	collector *Collector
	logger    *slog.Logger
	mu        sync.Mutex
	started   bool
}

// NewReporter creates a Reporter. The schedule is a cron expression
// ("*/5 * * * *") or a positive duration ("30s").
func NewReporter(collector *Collector, schedule string, logger *slog.Logger) (*Reporter, error) {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("metrics reporter: invalid schedule %q: %w", schedule, err)
	}
	r := &Reporter{
		cron:      cron.New(),
		collector: collector,
		logger:    logger,
	}
	r.cron.Schedule(sched, cron.FuncJob(r.Report))
	return r, nil
}

// Report logs one summary immediately.
func (r *Reporter) Report() {
	s := r.collector.Summary()
	r.logger.Info("metrics summary",
		"total_calls", s.TotalCalls,
		"errors", s.Errors,
		"error_rate", s.ErrorRate,
		"p95_latency_ms", s.P95LatencyMs)
}

// Start begins the schedule. Calling it twice is a no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.cron.Start()
	r.started = true
}

// Stop halts the schedule, waits for a running report and logs a final one.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	<-r.cron.Stop().Done()
	r.started = false
	r.Report()
}

func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration")
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	return every{delay: d}, nil
}

// every fires at a fixed interval without the whole-second rounding of
// cron.ConstantDelaySchedule.
type every struct {
	delay time.Duration
}

func (e every) Next(t time.Time) time.Time { return t.Add(e.delay) }
