// Package scheduler drives the periodic tasks of the monitoring engine.
// Each task runs on its own independent cadence in its own loop: a task can
// never overlap itself, and one task overrunning its interval can never
// block or skip another task's tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/metrics"
)

// Task is one periodic unit of work. Run errors are logged and isolated to
// that tick; the task keeps its schedule.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a fixed set of tasks for the life of the process.
type Scheduler struct {
	tasks []Task
}

// New creates a Scheduler for the given tasks.
func New(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches one loop per task. On startup every task's last run is
// unknown, so each fires once immediately. Cancelling ctx stops every loop;
// an in-flight run always finishes its current batch first.
func (s *Scheduler) Start(ctx context.Context, wg *sync.WaitGroup) {
	// Register every loop before launching so a shutdown arriving during
	// startup still waits for them.
	for _, t := range s.tasks {
		wg.Add(1)
		go s.runLoop(ctx, wg, t)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, wg *sync.WaitGroup, task Task) {
	defer wg.Done()

	log.Infof("scheduling task %s every %s", task.Name, task.Interval)

	// Explicit next-due bookkeeping instead of a ticker: a run that overruns
	// its interval reschedules from the slot it was due at, so the cadence
	// drifts only when a run is genuinely slower than the interval.
	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			started := time.Now()
			err := task.Run(ctx)
			metrics.ObserveTaskRun(task.Name, err, time.Since(started))
			if err != nil {
				log.Errorf("task %s failed: %v", task.Name, err)
			}

			next = next.Add(task.Interval)
			if !next.After(time.Now()) {
				next = time.Now().Add(task.Interval)
			}
			timer.Reset(time.Until(next))
		case <-ctx.Done():
			log.Infof("task %s stopped", task.Name)
			return
		}
	}
}
