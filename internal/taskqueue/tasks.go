package taskqueue

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"acfleet/internal/models"
)

// Task type names.
const (
	TypeEvaluateSensors = "routine:evaluate"
	TypeRunScheduled    = "routine:run"
)

// EvaluatePayload carries one sensor sample to the rule workers.
type EvaluatePayload struct {
	DeviceID int64               `json:"deviceId"`
	Sample   models.SensorSample `json:"sample"`
}

// RunPayload carries one cron firing to the workers.
type RunPayload struct {
	RoutineID int64 `json:"routineId"`
}

// Queue enqueues engine work so uplink handling and cron callbacks never run
// rule evaluation inline.
type Queue struct {
	client *asynq.Client
}

// NewQueue creates a queue backed by Redis.
func NewQueue(redisAddr string) *Queue {
	return &Queue{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// EnqueueEvaluation schedules sensor-driven rule evaluation for one device.
func (q *Queue) EnqueueEvaluation(deviceID int64, sample models.SensorSample) error {
	payload, err := json.Marshal(EvaluatePayload{DeviceID: deviceID, Sample: sample})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeEvaluateSensors, payload)
	info, err := q.client.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(10*time.Second))
	if err != nil {
		log.Printf("TASKQUEUE: Failed to enqueue evaluation for device %d: %v", deviceID, err)
		return err
	}
	log.Printf("TASKQUEUE: Enqueued task %s for device %d", info.ID, deviceID)
	return nil
}

// EnqueueRun schedules execution of a cron-fired routine.
func (q *Queue) EnqueueRun(routineID int64) error {
	payload, err := json.Marshal(RunPayload{RoutineID: routineID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeRunScheduled, payload)
	info, err := q.client.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(30*time.Second))
	if err != nil {
		log.Printf("TASKQUEUE: Failed to enqueue run for routine %d: %v", routineID, err)
		return err
	}
	log.Printf("TASKQUEUE: Enqueued task %s for routine %d", info.ID, routineID)
	return nil
}

// Close releases the underlying client.
func (q *Queue) Close() {
	q.client.Close()
}
