package engine

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"acfleet/internal/models"
)

// EvaluateSensors runs every enabled routine of the device's owner against a
// fresh sensor sample. A routine fires when its trigger list is non-empty
// and every trigger matches.
func (e *Engine) EvaluateSensors(ctx context.Context, deviceID int64, sample models.SensorSample) error {
	if sample.Temp == nil && sample.Hum == nil {
		return nil
	}

	device, err := e.repo.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return err
	}

	routines, err := e.repo.GetRoutinesByOwner(ctx, device.OwnerID, true)
	if err != nil {
		return err
	}

	for i := range routines {
		routine := &routines[i]
		if len(routine.Triggers) == 0 {
			continue
		}
		if !matchTriggers(routine.Triggers, sample) {
			continue
		}
		log.Printf("ENGINE: Routine %q triggered by sensor rule for device %d", routine.Name, deviceID)
		e.fire(ctx, routine, deviceID)
	}
	return nil
}

// matchTriggers applies AND logic over the trigger list. Only temp and hum
// gate firing here; every other trigger type is vacuously true pending
// extension. A trigger whose field is absent from the sample fails the
// whole match.
func matchTriggers(triggers []models.Trigger, sample models.SensorSample) bool {
	for _, t := range triggers {
		var current *float64
		switch t.Type {
		case "temp":
			current = sample.Temp
		case "hum":
			current = sample.Hum
		default:
			continue
		}
		if current == nil {
			return false
		}
		if !compare(*current, t.Operator, t.Value) {
			return false
		}
	}
	return true
}

// compare evaluates one comparator against a stored threshold. Thresholds
// arrive as JSON numbers or number-bearing strings; both coerce to float64
// before comparing, so "28" and 28 behave identically (including for "=").
func compare(current float64, op string, rawVal json.RawMessage) bool {
	threshold, ok := triggerThreshold(rawVal)
	if !ok {
		log.Printf("ENGINE: Unusable trigger threshold %s", rawVal)
		return false
	}
	switch op {
	case ">":
		return current > threshold
	case "<":
		return current < threshold
	case ">=":
		return current >= threshold
	case "<=":
		return current <= threshold
	case "=":
		return current == threshold
	default:
		return false
	}
}

func triggerThreshold(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
