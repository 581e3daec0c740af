package engine

import (
	"context"

	"acfleet/internal/commands"
	"acfleet/internal/models"
	"acfleet/internal/notify"
)

// Repository is the slice of persistence the engine needs.
type Repository interface {
	GetDeviceByID(ctx context.Context, id int64) (*models.Device, error)
	GetRoutineByID(ctx context.Context, id int64) (*models.Routine, error)
	GetRoutinesByOwner(ctx context.Context, ownerID int64, enabledOnly bool) ([]models.Routine, error)
	TouchRoutineLastRun(ctx context.Context, id int64) error
}

// CommandSender dispatches one routed command; satisfied by commands.Router.
type CommandSender interface {
	Send(ctx context.Context, ownerID, deviceID int64, cmd models.Command, origin models.AuditAction) (*commands.Result, error)
}

// Engine fires routine actions when sensor triggers match or a schedule
// elapses. It never talks to a transport directly; events go through the
// notification sink it was constructed with.
type Engine struct {
	repo     Repository
	router   CommandSender
	notifier notify.Notifier
}

// NewEngine creates an engine instance.
func NewEngine(repo Repository, router CommandSender, notifier notify.Notifier) *Engine {
	return &Engine{repo: repo, router: router, notifier: notifier}
}
