package engine

import (
	"context"
	"log"

	"acfleet/internal/models"
	"acfleet/internal/notify"
)

// RunScheduled executes a routine fired by its cron timer. Disabled routines
// are skipped; the schedule table may lag a recent disable.
func (e *Engine) RunScheduled(ctx context.Context, routineID int64) error {
	routine, err := e.repo.GetRoutineByID(ctx, routineID)
	if err != nil {
		return err
	}
	if !routine.Enabled {
		log.Printf("ENGINE: Routine %d is disabled, skipping scheduled run", routineID)
		return nil
	}
	log.Printf("ENGINE: Executing scheduled routine %q", routine.Name)
	e.fire(ctx, routine, 0)
	return nil
}

// fire executes a routine's actions best-effort: each action goes out
// independently and one failure never stops the rest. triggeringDeviceID is
// the fallback target for actions without their own device (0 for cron
// firings, which have no triggering device).
func (e *Engine) fire(ctx context.Context, routine *models.Routine, triggeringDeviceID int64) {
	for _, action := range routine.Actions {
		target := action.DeviceID
		if target == 0 {
			target = triggeringDeviceID
		}
		if target == 0 {
			log.Printf("ENGINE: Routine %q action has no target device, skipping", routine.Name)
			continue
		}
		if _, err := e.router.Send(ctx, routine.OwnerID, target, action.Command, models.AuditCmdCron); err != nil {
			log.Printf("ENGINE: Routine %q action for device %d failed: %v", routine.Name, target, err)
		}
	}

	e.notifier.Emit(notify.EventRoutineTriggered, map[string]interface{}{
		"routineId":   routine.ID,
		"routineName": routine.Name,
	})

	// lastRun is eventually consistent with firing.
	go func() {
		if err := e.repo.TouchRoutineLastRun(context.Background(), routine.ID); err != nil {
			log.Printf("ENGINE: Failed to stamp lastRun for routine %d: %v", routine.ID, err)
		}
	}()
}
