package uplink

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"acfleet/internal/devlock"
	"acfleet/internal/models"
	"acfleet/internal/mqtt"
	"acfleet/internal/notify"
	"acfleet/internal/sessions"
)

// Repository is the slice of persistence the dispatcher needs.
type Repository interface {
	GetDeviceByUUID(ctx context.Context, uuid string) (*models.Device, error)
	UpdateDevice(ctx context.Context, dev *models.Device) error
	InsertAuditLog(ctx context.Context, entry *models.AuditLog) error
	InsertSensorReading(ctx context.Context, r *models.SensorReading) error
}

// Evaluator hands sensor samples to the rule engine without blocking uplink
// processing; satisfied by taskqueue.Queue.
type Evaluator interface {
	EnqueueEvaluation(deviceID int64, sample models.SensorSample) error
}

// StateCache mirrors merged device state; satisfied by redis.StateCache.
// May be nil, in which case mirroring is skipped.
type StateCache interface {
	SetDeviceState(ctx context.Context, uuid string, state map[string]interface{}) error
}

// Dispatcher classifies inbound device messages by topic suffix and routes
// them to the right handler. Mutations are serialized per device uuid so a
// status merge can never race a learn/result merge on the same row. The
// locker is shared with the HTTP layer, which mutates the same rows.
type Dispatcher struct {
	repo      Repository
	evaluator Evaluator
	learning  *sessions.LearningStore
	detection *sessions.DetectionStore
	notifier  notify.Notifier
	cache     StateCache
	locks     *devlock.Locker

	now func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(repo Repository, evaluator Evaluator, learning *sessions.LearningStore,
	detection *sessions.DetectionStore, notifier notify.Notifier, cache StateCache,
	locks *devlock.Locker) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		evaluator: evaluator,
		learning:  learning,
		detection: detection,
		notifier:  notifier,
		cache:     cache,
		locks:     locks,
		now:       time.Now,
	}
}

// Subscribe registers the dispatcher on every device uplink filter.
func (d *Dispatcher) Subscribe(client *mqtt.Client) error {
	for _, filter := range mqtt.UplinkFilters {
		if err := client.Subscribe(filter, d.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

// HandleMessage processes one inbound bus message. Errors never propagate to
// the bus: everything is caught here so one malformed message cannot stall
// processing of the next.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("UPLINK: Panic handling %s: %v", topic, r)
		}
	}()

	_, uuid, suffix, ok := mqtt.ParseUplink(topic)
	if !ok {
		return
	}

	// The fetch happens inside the critical section: two handlers that both
	// read before either writes would each persist a pre-merge snapshot.
	unlock := d.locks.Lock(uuid)
	defer unlock()

	ctx := context.Background()

	// Discovery/binding races are expected; an unknown uuid is not an error.
	device, err := d.repo.GetDeviceByUUID(ctx, uuid)
	if err != nil {
		log.Printf("UPLINK: Device not found for UUID %s: %v", uuid, err)
		return
	}

	switch suffix {
	case "status":
		d.handleStatus(ctx, device, payload)
	case "event":
		d.handleEvent(ctx, device, payload)
	case "learn/result":
		d.handleLearnResult(ctx, device, payload)
	case "auto_detect/result":
		d.handleAutoDetectResult(ctx, device, payload)
	case "auto_detect/status":
		d.handleAutoDetectStatus(device, payload)
	case "brands/list":
		d.handleBrandsList(ctx, device, payload)
	default:
		// Ignore others like debug topics.
	}
}

func decode(payload []byte) (map[string]interface{}, bool) {
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		log.Printf("UPLINK: Failed to parse payload %s: %v", payload, err)
		return nil, false
	}
	return data, true
}

func floatField(data map[string]interface{}, key string) *float64 {
	if v, ok := data[key].(float64); ok {
		return &v
	}
	return nil
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}
