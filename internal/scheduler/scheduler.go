// Package scheduler owns the two periodic background jobs that are not
// tied to an I/O event: the LoRa cache eviction sweep and the health
// report tick.
package scheduler

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dynamicdevices/uwb-bridge/pkg/log"
)

// Scheduler wraps a gocron.Scheduler and registers the bridge's two
// recurring jobs against it.
type Scheduler struct {
	s gocron.Scheduler
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{s: s}, nil
}

// RegisterCacheSweep runs fn every interval, starting immediately.
func (sch *Scheduler) RegisterCacheSweep(interval time.Duration, fn func()) error {
	log.Info("scheduler: registering cache eviction sweep job")
	_, err := sch.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	return err
}

// RegisterHealthReport runs fn every interval, starting immediately.
func (sch *Scheduler) RegisterHealthReport(interval time.Duration, fn func()) error {
	log.Info("scheduler: registering health report job")
	_, err := sch.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	return err
}

func (sch *Scheduler) Start() {
	sch.s.Start()
}

func (sch *Scheduler) Shutdown() error {
	return sch.s.Shutdown()
}
