package taskqueue

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"acfleet/internal/engine"
)

// Worker runs the asynq server that drains engine work.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewWorker wires the engine's handlers into an asynq server.
func NewWorker(redisAddr string, eng *engine.Engine) *Worker {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEvaluateSensors, func(ctx context.Context, t *asynq.Task) error {
		var p EvaluatePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		return eng.EvaluateSensors(ctx, p.DeviceID, p.Sample)
	})
	mux.HandleFunc(TypeRunScheduled, func(ctx context.Context, t *asynq.Task) error {
		var p RunPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		return eng.RunScheduled(ctx, p.RoutineID)
	})

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{Concurrency: 10})
	return &Worker{srv: srv, mux: mux}
}

// Start runs the workers until Stop is called.
func (w *Worker) Start() {
	go func() {
		log.Println("TASKQUEUE: Workers started, waiting for tasks...")
		if err := w.srv.Run(w.mux); err != nil {
			log.Fatalf("TASKQUEUE: Failed to start workers: %v", err)
		}
	}()
}

// Stop shuts the workers down.
func (w *Worker) Stop() {
	w.srv.Stop()
	log.Println("TASKQUEUE: Workers stopped")
}
