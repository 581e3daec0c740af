package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"acfleet/internal/apperr"
	"acfleet/internal/models"
	"acfleet/internal/mqtt"
)

// Encoding strategies, in selection priority order. Brand protocol is
// authoritative once configured because it covers the full command space;
// learned raw codes only replay discrete button presses, so they are a
// fallback, never a default.
const (
	StrategyBrandProtocol = "brand_protocol"
	StrategyRaw           = "raw"
	StrategyDirect        = "direct"
)

// DeviceStore is the slice of the repository the router needs.
type DeviceStore interface {
	GetDeviceByID(ctx context.Context, id int64) (*models.Device, error)
	InsertAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// Result describes one routed command.
type Result struct {
	Topic    string `json:"topic"`
	Payload  []byte `json:"payload"`
	Strategy string `json:"strategy"`
}

// Router builds outbound command payloads and publishes them on the bus.
type Router struct {
	devices DeviceStore
	bus     mqtt.Publisher
}

// NewRouter creates a command router.
func NewRouter(devices DeviceStore, bus mqtt.Publisher) *Router {
	return &Router{devices: devices, bus: bus}
}

// Send routes one command to a device the caller owns. origin records who
// asked (API call vs routine). Exactly one message is published per call and
// delivery is fire-and-forget.
func (r *Router) Send(ctx context.Context, ownerID, deviceID int64, cmd models.Command, origin models.AuditAction) (*Result, error) {
	device, err := r.devices.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.OwnerID != ownerID {
		return nil, fmt.Errorf("device %d: %w", deviceID, apperr.ErrForbidden)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	strategy := StrategyDirect

	if device.BrandConfig != nil && device.BrandConfig.BrandID != "" {
		// Firmware encodes the semantic command with the bound protocol.
		strategy = StrategyBrandProtocol
	} else if key := cmd.IRKey(); key != "" {
		if raw, ok := device.IRConfig[key]; ok {
			payload, err = attachRaw(cmd, raw)
			if err != nil {
				return nil, err
			}
			strategy = StrategyRaw
			log.Printf("COMMANDS: Device %d using learned code for %q", deviceID, key)
		}
	}

	topic := mqtt.CommandTopic(ownerID, device.UUID)
	log.Printf("COMMANDS: Sending to %s (strategy: %s): %s", topic, strategy, payload)
	r.bus.Publish(topic, payload)

	if err := r.devices.InsertAuditLog(ctx, &models.AuditLog{
		DeviceID: deviceID,
		OwnerID:  &ownerID,
		Action:   origin,
		Details:  map[string]interface{}{"strategy": strategy, "command": cmd},
	}); err != nil {
		log.Printf("COMMANDS: Failed to audit command for device %d: %v", deviceID, err)
	}

	return &Result{Topic: topic, Payload: payload, Strategy: strategy}, nil
}

// attachRaw rebuilds the payload with the learned code alongside the
// semantic fields, so the firmware can replay the capture verbatim.
func attachRaw(cmd models.Command, raw string) ([]byte, error) {
	base, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	m["raw"] = raw
	return json.Marshal(m)
}
