package scheduler

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"acfleet/internal/models"
)

// Scheduler manages the per-routine cron timers. Each scheduled routine owns
// at most one cron entry, keyed by routine id; replacement is always
// delete-then-add.
type Scheduler struct {
	cron      *cron.Cron
	fire      func(routineID int64)
	jobMap    map[int64]cron.EntryID
	jobMapMux sync.RWMutex
}

// NewScheduler creates a scheduler. fire runs when a routine's cron elapses;
// it must not block (enqueue, don't execute).
func NewScheduler(fire func(routineID int64)) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		fire:   fire,
		jobMap: make(map[int64]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("SCHEDULER: Cron scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("SCHEDULER: Cron scheduler stopped")
}

// AddJob adds a free-form cron job outside the routine table (e.g. the
// discovery eviction sweep).
func (s *Scheduler) AddJob(spec string, fn func()) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, fn)
}

// LoadRoutines registers timers for every enabled routine that carries a
// cron expression. Called once at startup.
func (s *Scheduler) LoadRoutines(routines []models.Routine) {
	count := 0
	for _, r := range routines {
		if r.Enabled && r.Cron != "" {
			if err := s.AddOrUpdateRoutine(r.ID, r.Cron, r.Enabled); err != nil {
				log.Printf("SCHEDULER: Failed to schedule routine %d with cron '%s': %v", r.ID, r.Cron, err)
				continue
			}
			count++
		}
	}
	log.Printf("SCHEDULER: Loaded %d scheduled routines", count)
}

// AddOrUpdateRoutine atomically replaces the timer for one routine so at
// most one timer per routine ever exists. Disabled or cron-less routines
// just lose their timer.
func (s *Scheduler) AddOrUpdateRoutine(routineID int64, spec string, enabled bool) error {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	if entryID, exists := s.jobMap[routineID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobMap, routineID)
	}

	if !enabled || spec == "" {
		return nil
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		log.Printf("SCHEDULER: Cron fired for routine %d", routineID)
		s.fire(routineID)
	})
	if err != nil {
		return err
	}
	s.jobMap[routineID] = entryID
	log.Printf("SCHEDULER: Scheduled routine %d with cron '%s' (entry ID: %d)", routineID, spec, entryID)
	return nil
}

// RemoveRoutine drops the timer for one routine, if any.
func (s *Scheduler) RemoveRoutine(routineID int64) {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	if entryID, exists := s.jobMap[routineID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobMap, routineID)
		log.Printf("SCHEDULER: Removed timer for routine %d", routineID)
	}
}

// ScheduledCount returns the number of routine timers currently registered.
func (s *Scheduler) ScheduledCount() int {
	s.jobMapMux.RLock()
	defer s.jobMapMux.RUnlock()
	return len(s.jobMap)
}
