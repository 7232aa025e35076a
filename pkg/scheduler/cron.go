package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron wraps every cron parsing failure.
var ErrInvalidCron = errors.New("invalid cron expression")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a standard five-field expression or a descriptor such as @hourly.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: expression is empty", ErrInvalidCron)
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCron, err)
	}

	return schedule, nil
}

func ValidateCron(expr string) error {
	_, err := ParseCron(expr)

	return err
}

// NextFireTime is the first activation strictly after last.
func NextFireTime(expr string, last time.Time) (time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(last), nil
}

// NextRunTimes lists the next n activations after from.
func NextRunTimes(expr string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, max(n, 0))
	next := from

	for range n {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}

		times = append(times, next)
	}

	return times, nil
}

type cronEntry struct {
	id   cron.EntryID
	expr string
}

// CronRegistry keeps one cron entry per workflow. Missed activations are never
// backfilled: after a restart only the next future tick fires.
type CronRegistry struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cronEntry
}

func NewCronRegistry(logger *slog.Logger) *CronRegistry {
	return &CronRegistry{
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		logger:  logger.With("module", "cron_registry"),
		entries: make(map[string]cronEntry),
	}
}

// Register installs or replaces the entry of workflowID. Re-registering the same
// expression keeps the existing timer.
func (r *CronRegistry) Register(workflowID, expr string, fire func()) error {
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[workflowID]; ok {
		if existing.expr == expr {
			return nil
		}

		r.cron.Remove(existing.id)
	}

	id := r.cron.Schedule(schedule, cron.FuncJob(fire))
	r.entries[workflowID] = cronEntry{id: id, expr: expr}

	r.logger.Info("Registered cron entry", "workflow_id", workflowID, "cron", expr)

	return nil
}

// Remove drops the entry of workflowID, reporting whether one existed.
func (r *CronRegistry) Remove(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[workflowID]
	if !ok {
		return false
	}

	r.cron.Remove(entry.id)
	delete(r.entries, workflowID)

	r.logger.Info("Removed cron entry", "workflow_id", workflowID)

	return true
}

// Next returns the next activation of workflowID once the registry is running.
func (r *CronRegistry) Next(workflowID string) (time.Time, bool) {
	r.mu.Lock()
	entry, ok := r.entries[workflowID]
	r.mu.Unlock()

	if !ok {
		return time.Time{}, false
	}

	next := r.cron.Entry(entry.id).Next

	return next, !next.IsZero()
}

func (r *CronRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *CronRegistry) Start() {
	r.cron.Start()
}

// Stop halts the timers and waits for running callbacks.
func (r *CronRegistry) Stop(ctx context.Context) {
	stopped := r.cron.Stop()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}
